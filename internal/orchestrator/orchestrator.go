// Package orchestrator runs one user turn end to end: build the prompt, call
// the model, run at most one round of tools, parse the reply for a signal and
// apply it through the lifecycle engine.
package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"agentline/internal/domain"
	"agentline/internal/engine"
	"agentline/internal/llm"
	"agentline/internal/logging"
	"agentline/internal/metrics"
	"agentline/internal/prompt"
	"agentline/internal/tools"
	"agentline/internal/tracker"
)

// MaxToolRounds bounds tool execution per turn. Tool calls requested by the
// follow-up completion are reported but never executed.
const MaxToolRounds = 1

const (
	defaultTimeout         = 55 * time.Second
	defaultMaxTokens       = 4096
	defaultToolConcurrency = 4
	maxHistoryMessages     = 50
)

type Deps struct {
	Engine   engine.Engine
	Provider llm.Provider
	Registry *tools.Registry
	Builder  prompt.Builder
	Pricing  llm.Pricing
	Metrics  *metrics.Metrics
	Tracer   trace.Tracer
	Log      *zap.Logger
}

type Options struct {
	Model     string
	MaxTokens int
	// Timeout bounds every model call of a turn together.
	Timeout time.Duration
	// ToolConcurrency caps parallel tool calls in one round; 1 runs them in order.
	ToolConcurrency int
}

type Orchestrator struct {
	deps Deps
	opts Options
	log  *zap.Logger
	now  func() time.Time

	flushes sync.WaitGroup
}

func New(deps Deps, opts Options) *Orchestrator {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if opts.ToolConcurrency <= 0 {
		opts.ToolConcurrency = defaultToolConcurrency
	}
	if deps.Tracer == nil {
		deps.Tracer = noop.NewTracerProvider().Tracer("agentline")
	}
	return &Orchestrator{
		deps: deps,
		opts: opts,
		log:  logging.OrNop(deps.Log).Named("orchestrator"),
		now:  time.Now,
	}
}

// Wait blocks until every pending invocation log write has finished.
func (o *Orchestrator) Wait() {
	o.flushes.Wait()
}

func (o *Orchestrator) flush(ctx context.Context, tr *tracker.Tracker) {
	done := tr.Flush(ctx)
	o.flushes.Add(1)
	go func() {
		defer o.flushes.Done()
		<-done
	}()
}

// HistoryMessage is one prior exchange supplied by the caller; the server
// keeps no conversation state between turns.
type HistoryMessage struct {
	Role    string `json:"role" enum:"user,assistant"`
	Content string `json:"content"`
}

func buildMessages(history []HistoryMessage, message string) ([]llm.Message, *TurnError) {
	if strings.TrimSpace(message) == "" {
		return nil, validationError("message is required")
	}
	if len(history) > maxHistoryMessages {
		history = history[len(history)-maxHistoryMessages:]
	}
	msgs := make([]llm.Message, 0, len(history)+1)
	for i, h := range history {
		switch h.Role {
		case llm.RoleUser, llm.RoleAssistant:
		default:
			return nil, validationError("history[%d].role must be user or assistant", i)
		}
		if strings.TrimSpace(h.Content) == "" {
			continue
		}
		msgs = append(msgs, llm.Message{Role: h.Role, Text: h.Content})
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Text: message}), nil
}

// complete issues one model call and records it.
func (o *Orchestrator) complete(ctx context.Context, tr *tracker.Tracker, req llm.Request, round int) (llm.Response, error) {
	ctx, span := o.deps.Tracer.Start(ctx, "llm.complete", trace.WithAttributes(
		attribute.String("llm.provider", o.deps.Provider.Name()),
		attribute.String("llm.model", req.Model),
		attribute.Int("llm.round", round),
	))
	defer span.End()

	start := time.Now()
	resp, err := o.deps.Provider.Complete(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		class := llm.Classify(err)
		o.deps.Metrics.ModelCall(o.deps.Provider.Name(), string(class), 0, 0, 0, 0, 0)
		tr.Error("provider_"+string(class), err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(class))
		o.log.Error("model call failed", zap.String("class", string(class)), zap.Int("round", round), zap.Error(err))
		return llm.Response{}, err
	}
	model := resp.Model
	if model == "" {
		model = req.Model
	}
	cost := o.deps.Pricing.Cost(model, resp.Usage)
	tr.APICall(model, resp.Usage, cost, elapsed)
	o.deps.Metrics.ModelCall(o.deps.Provider.Name(), "", resp.Usage.InputTokens, resp.Usage.OutputTokens,
		resp.Usage.CacheReadTokens, resp.Usage.CacheWriteTokens, cost)
	span.SetAttributes(
		attribute.Int64("llm.input_tokens", resp.Usage.InputTokens),
		attribute.Int64("llm.output_tokens", resp.Usage.OutputTokens),
		attribute.Int64("llm.cache_read_tokens", resp.Usage.CacheReadTokens),
		attribute.Int("llm.tool_calls", len(resp.ToolCalls)),
	)
	return resp, nil
}

// ToolOutcome summarises one executed tool call for the caller.
type ToolOutcome struct {
	Name  string `json:"name"`
	Error string `json:"error,omitempty"`
}

// dispatch runs the model with tools for at most MaxToolRounds rounds and
// returns the final response plus every tool outcome in request order.
func (o *Orchestrator) dispatch(ctx context.Context, tr *tracker.Tracker, req llm.Request, call tools.Call) (llm.Response, []ToolOutcome, []string, llm.Usage, error) {
	var (
		outcomes []ToolOutcome
		usage    llm.Usage
	)
	resp, err := o.complete(ctx, tr, req, 0)
	if err != nil {
		return llm.Response{}, nil, nil, usage, err
	}
	usage = usage.Add(resp.Usage)

	for round := 1; round <= MaxToolRounds && len(resp.ToolCalls) > 0; round++ {
		results := o.executeTools(ctx, tr, call, resp.ToolCalls)
		toolResults := make([]llm.ToolResult, len(results))
		for i, r := range results {
			toolResults[i] = llm.ToolResult{
				CallID:  resp.ToolCalls[i].ID,
				Name:    resp.ToolCalls[i].Name,
				Content: r.JSON(),
				IsError: r.Failed(),
			}
			outcomes = append(outcomes, ToolOutcome{Name: string(r.Name), Error: r.Error})
		}
		req.Messages = append(req.Messages,
			llm.Message{Role: llm.RoleAssistant, Text: resp.Text, ToolCalls: resp.ToolCalls},
			llm.Message{Role: llm.RoleUser, ToolResults: toolResults},
		)
		resp, err = o.complete(ctx, tr, req, round)
		if err != nil {
			return llm.Response{}, outcomes, nil, usage, err
		}
		usage = usage.Add(resp.Usage)
	}

	var ignored []string
	for _, c := range resp.ToolCalls {
		ignored = append(ignored, c.Name)
	}
	if len(ignored) > 0 {
		tr.Context(map[string]any{"ignored_tool_calls": ignored})
		o.log.Info("tool calls beyond round limit ignored", zap.Strings("tools", ignored))
	}
	return resp, outcomes, ignored, usage, nil
}

// executeTools runs one round. Calls may run concurrently; results are
// stored by index so they line up with the request order.
func (o *Orchestrator) executeTools(ctx context.Context, tr *tracker.Tracker, call tools.Call, calls []llm.ToolCall) []tools.Result {
	results := make([]tools.Result, len(calls))
	var g errgroup.Group
	g.SetLimit(o.opts.ToolConcurrency)
	for i, c := range calls {
		g.Go(func() error {
			ctx, span := o.deps.Tracer.Start(ctx, "tool."+c.Name)
			defer span.End()
			tr.ToolCall(c.Name, c.Input)
			start := time.Now()
			res := o.deps.Registry.Execute(ctx, call, c.Name, c.Input)
			tr.ToolResult(c.Name, res.Error, time.Since(start))
			o.deps.Metrics.Tool(c.Name, res.Failed())
			if res.Failed() {
				span.SetStatus(codes.Error, res.Error)
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// detached bounds the turn by the configured timeout. Caller cancellation
// does not abort a turn once started.
func (o *Orchestrator) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.opts.Timeout)
}

func (o *Orchestrator) request(system []llm.SystemBlock, msgs []llm.Message, specs []llm.ToolSpec) llm.Request {
	return llm.Request{
		Model:     o.opts.Model,
		System:    system,
		Messages:  msgs,
		Tools:     specs,
		MaxTokens: o.opts.MaxTokens,
	}
}

func (o *Orchestrator) recordUsage(ctx context.Context, agentID string, action *domain.Action, calls int64, u llm.Usage, cost float64) {
	if err := o.deps.Engine.RecordUsage(ctx, agentID, calls, u.InputTokens, u.OutputTokens, cost); err != nil {
		o.log.Warn("agent usage rollup failed", zap.String("agent_id", agentID), zap.Error(err))
	}
	if action == nil {
		return
	}
	if err := o.deps.Engine.RecordActionUsage(ctx, action.ID, calls, u.InputTokens, u.OutputTokens, cost); err != nil {
		o.log.Warn("action usage rollup failed", zap.String("action_id", action.ID), zap.Error(err))
	}
}
