// Package llm is the port to hosted language models. The orchestrator only
// sees Provider; Anthropic and Gemini adapters translate to the vendor APIs.
package llm

import (
	"context"
	"encoding/json"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// SystemBlock is one segment of the system prompt. Cacheable blocks are
// marked for provider prefix caching and must be byte-stable across turns.
type SystemBlock struct {
	Text      string
	Cacheable bool
}

type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]any
}

type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

type ToolResult struct {
	CallID  string
	Name    string
	Content string
	IsError bool
}

// Message is one conversation entry. Assistant messages may carry tool
// calls; the user message that follows carries their results.
type Message struct {
	Role        string
	Text        string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

type Request struct {
	Model     string
	System    []SystemBlock
	Messages  []Message
	Tools     []ToolSpec
	MaxTokens int
}

type Usage struct {
	InputTokens      int64
	OutputTokens     int64
	CacheReadTokens  int64
	CacheWriteTokens int64
}

func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:      u.InputTokens + o.InputTokens,
		OutputTokens:     u.OutputTokens + o.OutputTokens,
		CacheReadTokens:  u.CacheReadTokens + o.CacheReadTokens,
		CacheWriteTokens: u.CacheWriteTokens + o.CacheWriteTokens,
	}
}

type Response struct {
	Text       string
	ToolCalls  []ToolCall
	Usage      Usage
	StopReason string
	Model      string
}

// Provider completes one request. Implementations must honor ctx deadlines
// and return *ProviderError or ErrTimeout for transport-level failures.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (Response, error)
}
