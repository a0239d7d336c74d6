package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"agentline/internal/logging"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion        = "2023-06-01"
	maxResponseBytes        = 8 << 20
)

type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	// HTTPClient defaults to a client without its own timeout; callers bound
	// each call through ctx.
	HTTPClient *http.Client
}

// Anthropic talks to the Messages API over plain HTTP.
type Anthropic struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
	log     *zap.Logger
}

func NewAnthropic(cfg AnthropicConfig, log *zap.Logger) *Anthropic {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultAnthropicBaseURL
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Anthropic{
		apiKey:  cfg.APIKey,
		baseURL: base,
		model:   cfg.Model,
		http:    hc,
		log:     logging.OrNop(log).Named("anthropic"),
	}
}

func (a *Anthropic) Name() string { return "anthropic" }

type anthropicCacheControl struct {
	Type string `json:"type"`
}

type anthropicBlock struct {
	Type         string                 `json:"type"`
	Text         string                 `json:"text,omitempty"`
	ID           string                 `json:"id,omitempty"`
	Name         string                 `json:"name,omitempty"`
	Input        json.RawMessage        `json:"input,omitempty"`
	ToolUseID    string                 `json:"tool_use_id,omitempty"`
	Content      string                 `json:"content,omitempty"`
	IsError      bool                   `json:"is_error,omitempty"`
	CacheControl *anthropicCacheControl `json:"cache_control,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    []anthropicBlock   `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
}

type anthropicResponse struct {
	ID         string           `json:"id"`
	Model      string           `json:"model"`
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
	Usage      struct {
		InputTokens              int64 `json:"input_tokens"`
		OutputTokens             int64 `json:"output_tokens"`
		CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
		CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
	} `json:"usage"`
}

type anthropicErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *Anthropic) buildRequest(req Request) anthropicRequest {
	out := anthropicRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
	}
	if out.Model == "" {
		out.Model = a.model
	}
	for _, b := range req.System {
		blk := anthropicBlock{Type: "text", Text: b.Text}
		if b.Cacheable {
			blk.CacheControl = &anthropicCacheControl{Type: "ephemeral"}
		}
		out.System = append(out.System, blk)
	}
	for _, m := range req.Messages {
		var blocks []anthropicBlock
		for _, r := range m.ToolResults {
			blocks = append(blocks, anthropicBlock{Type: "tool_result", ToolUseID: r.CallID, Content: r.Content, IsError: r.IsError})
		}
		if m.Text != "" {
			blocks = append(blocks, anthropicBlock{Type: "text", Text: m.Text})
		}
		for _, c := range m.ToolCalls {
			input := c.Input
			if len(input) == 0 {
				input = json.RawMessage(`{}`)
			}
			blocks = append(blocks, anthropicBlock{Type: "tool_use", ID: c.ID, Name: c.Name, Input: input})
		}
		if len(blocks) == 0 {
			continue
		}
		out.Messages = append(out.Messages, anthropicMessage{Role: m.Role, Content: blocks})
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, anthropicTool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	return out
}

func (a *Anthropic) Complete(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(a.buildRequest(req))
	if err != nil {
		return Response{}, fmt.Errorf("marshal anthropic request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	start := time.Now()
	resp, err := a.http.Do(httpReq)
	if err != nil {
		return Response{}, wrapTransport(ctx, a.Name(), err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Response{}, wrapTransport(ctx, a.Name(), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		pe := &ProviderError{Provider: a.Name(), StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var eb anthropicErrorBody
		if json.Unmarshal(raw, &eb) == nil && eb.Error.Message != "" {
			pe.Type = eb.Error.Type
			pe.Message = eb.Error.Message
		}
		a.log.Warn("model call failed",
			zap.Int("status", pe.StatusCode),
			zap.String("type", pe.Type),
			zap.String("message", pe.Message),
		)
		return Response{}, pe
	}

	var ar anthropicResponse
	if err := json.Unmarshal(raw, &ar); err != nil {
		return Response{}, fmt.Errorf("decode anthropic response: %w", err)
	}
	out := Response{
		StopReason: ar.StopReason,
		Model:      ar.Model,
		Usage: Usage{
			InputTokens:      ar.Usage.InputTokens,
			OutputTokens:     ar.Usage.OutputTokens,
			CacheReadTokens:  ar.Usage.CacheReadInputTokens,
			CacheWriteTokens: ar.Usage.CacheCreationInputTokens,
		},
	}
	var text []string
	for _, b := range ar.Content {
		switch b.Type {
		case "text":
			text = append(text, b.Text)
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, ToolCall{ID: b.ID, Name: b.Name, Input: b.Input})
		}
	}
	out.Text = strings.Join(text, "\n")
	a.log.Debug("model call",
		zap.String("id", ar.ID),
		zap.String("model", ar.Model),
		zap.String("stop_reason", ar.StopReason),
		zap.Int("tool_calls", len(out.ToolCalls)),
		zap.Int64("input_tokens", out.Usage.InputTokens),
		zap.Int64("cache_read_tokens", out.Usage.CacheReadTokens),
		zap.Duration("elapsed", time.Since(start)),
	)
	return out, nil
}
