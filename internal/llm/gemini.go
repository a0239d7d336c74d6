package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"agentline/internal/logging"
)

type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Gemini adapts the Google GenAI SDK. Gemini has no per-block cache marker,
// so cacheable system blocks are sent as ordinary system instruction parts.
type Gemini struct {
	client *genai.Client
	model  string
	log    *zap.Logger
}

func NewGemini(ctx context.Context, cfg GeminiConfig, log *zap.Logger) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Gemini{client: client, model: cfg.Model, log: logging.OrNop(log).Named("gemini")}, nil
}

func (g *Gemini) Name() string { return "gemini" }

func geminiContents(msgs []Message) []*genai.Content {
	var out []*genai.Content
	for _, m := range msgs {
		role := string(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = string(genai.RoleModel)
		}
		var parts []*genai.Part
		for _, r := range m.ToolResults {
			var v any
			if err := json.Unmarshal([]byte(r.Content), &v); err != nil {
				v = r.Content
			}
			parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       r.CallID,
				Name:     r.Name,
				Response: map[string]any{"output": v},
			}})
		}
		if m.Text != "" {
			parts = append(parts, &genai.Part{Text: m.Text})
		}
		for _, c := range m.ToolCalls {
			args := map[string]any{}
			if len(c.Input) > 0 {
				_ = json.Unmarshal(c.Input, &args)
			}
			parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: c.ID, Name: c.Name, Args: args}})
		}
		if len(parts) > 0 {
			out = append(out, &genai.Content{Role: role, Parts: parts})
		}
	}
	return out
}

func (g *Gemini) Complete(ctx context.Context, req Request) (Response, error) {
	model := req.Model
	if model == "" {
		model = g.model
	}
	cfg := &genai.GenerateContentConfig{MaxOutputTokens: int32(req.MaxTokens)}
	if len(req.System) > 0 {
		sys := &genai.Content{}
		for _, b := range req.System {
			sys.Parts = append(sys.Parts, &genai.Part{Text: b.Text})
		}
		cfg.SystemInstruction = sys
	}
	if len(req.Tools) > 0 {
		tool := &genai.Tool{}
		for _, t := range req.Tools {
			tool.FunctionDeclarations = append(tool.FunctionDeclarations, &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.InputSchema,
			})
		}
		cfg.Tools = []*genai.Tool{tool}
	}

	resp, err := g.client.Models.GenerateContent(ctx, model, geminiContents(req.Messages), cfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			g.log.Warn("model call failed",
				zap.Int("status", apiErr.Code),
				zap.String("type", apiErr.Status),
				zap.String("message", apiErr.Message),
			)
			return Response{}, &ProviderError{Provider: g.Name(), StatusCode: apiErr.Code, Type: apiErr.Status, Message: apiErr.Message}
		}
		return Response{}, wrapTransport(ctx, g.Name(), err)
	}

	out := Response{Model: resp.ModelVersion}
	if out.Model == "" {
		out.Model = model
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = Usage{
			InputTokens:     int64(u.PromptTokenCount - u.CachedContentTokenCount),
			OutputTokens:    int64(u.CandidatesTokenCount),
			CacheReadTokens: int64(u.CachedContentTokenCount),
		}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out, nil
	}
	cand := resp.Candidates[0]
	out.StopReason = string(cand.FinishReason)
	var text []string
	for i, p := range cand.Content.Parts {
		if p.Text != "" && !p.Thought {
			text = append(text, p.Text)
		}
		if fc := p.FunctionCall; fc != nil {
			input, err := json.Marshal(fc.Args)
			if err != nil {
				return Response{}, fmt.Errorf("encode gemini function args: %w", err)
			}
			id := fc.ID
			if id == "" {
				id = fmt.Sprintf("call_%d", i)
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{ID: id, Name: fc.Name, Input: input})
		}
	}
	out.Text = strings.Join(text, "")
	if len(out.ToolCalls) > 0 {
		out.StopReason = "tool_use"
	}
	return out, nil
}
