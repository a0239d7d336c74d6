// Package tracker records what happened during one turn and persists it as
// a single invocation log when the turn ends.
package tracker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"agentline/internal/domain"
	"agentline/internal/llm"
	"agentline/internal/logging"
)

// Sink persists finished logs.
type Sink interface {
	InsertInvocationLog(ctx context.Context, l domain.InvocationLog) error
}

type Meta struct {
	UserID   string
	AgentID  string
	ActionID string
	Kind     string
}

const writeTimeout = 10 * time.Second

// Tracker is safe for concurrent use; tool calls of one round may record
// in parallel.
type Tracker struct {
	sink Sink
	meta Meta
	log  *zap.Logger
	now  func() time.Time

	mu      sync.Mutex
	events  []domain.InvocationEvent
	flushed bool
}

func New(sink Sink, meta Meta, log *zap.Logger, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{sink: sink, meta: meta, log: logging.OrNop(log), now: now}
}

func (t *Tracker) add(e domain.InvocationEvent) {
	e.TS = t.now().UTC().Format(time.RFC3339Nano)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.flushed {
		return
	}
	t.events = append(t.events, e)
}

func (t *Tracker) Context(data map[string]any) {
	t.add(domain.InvocationEvent{Type: domain.InvocationContext, Data: data})
}

func (t *Tracker) APICall(model string, u llm.Usage, cost float64, d time.Duration) {
	t.add(domain.InvocationEvent{
		Type:             domain.InvocationAPICall,
		Name:             model,
		InputTokens:      u.InputTokens,
		OutputTokens:     u.OutputTokens,
		CacheReadTokens:  u.CacheReadTokens,
		CacheWriteTokens: u.CacheWriteTokens,
		CostUSD:          cost,
		DurationMS:       d.Milliseconds(),
	})
}

func (t *Tracker) ToolCall(name string, input []byte) {
	t.add(domain.InvocationEvent{Type: domain.InvocationToolCall, Name: name, Data: map[string]any{"input": string(input)}})
}

func (t *Tracker) ToolResult(name string, errMsg string, d time.Duration) {
	t.add(domain.InvocationEvent{Type: domain.InvocationToolResult, Name: name, Error: errMsg, DurationMS: d.Milliseconds()})
}

func (t *Tracker) Signal(name string) {
	t.add(domain.InvocationEvent{Type: domain.InvocationSignal, Name: name})
}

func (t *Tracker) Error(kind string, err error) {
	e := domain.InvocationEvent{Type: domain.InvocationError, Name: kind}
	if err != nil {
		e.Error = err.Error()
	}
	t.add(e)
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.events)
}

// Summary derives the log from the events recorded so far.
func (t *Tracker) Summary() domain.InvocationLog {
	t.mu.Lock()
	events := append([]domain.InvocationEvent(nil), t.events...)
	t.mu.Unlock()

	l := domain.InvocationLog{
		UserID:   t.meta.UserID,
		AgentID:  t.meta.AgentID,
		ActionID: t.meta.ActionID,
		Kind:     t.meta.Kind,
		Events:   events,
	}
	seen := map[string]bool{}
	for _, e := range events {
		switch e.Type {
		case domain.InvocationAPICall:
			l.APICalls++
			l.InputTokens += e.InputTokens
			l.OutputTokens += e.OutputTokens
			l.CacheReadTokens += e.CacheReadTokens
			l.CacheWriteTokens += e.CacheWriteTokens
			l.CostUSD += e.CostUSD
			l.DurationMS += e.DurationMS
		case domain.InvocationToolCall:
			if !seen[e.Name] {
				seen[e.Name] = true
				l.ToolsUsed = append(l.ToolsUsed, e.Name)
			}
		case domain.InvocationSignal:
			l.Signal = e.Name
		}
	}
	return l
}

// Flush writes the log once in the background and returns a channel closed
// when the write has finished. A tracker with no events writes nothing.
// Failures are logged, never returned.
func (t *Tracker) Flush(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	t.mu.Lock()
	already := t.flushed
	t.flushed = true
	t.mu.Unlock()

	if already || t.sink == nil {
		close(done)
		return done
	}
	l := t.Summary()
	if len(l.Events) == 0 {
		close(done)
		return done
	}
	l.ID = domain.NewID(domain.PrefixInvocation)
	l.CreatedAt = t.now().UTC().Format(time.RFC3339)

	go func() {
		defer close(done)
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
		defer cancel()
		if err := t.sink.InsertInvocationLog(wctx, l); err != nil {
			t.log.Warn("invocation log write failed",
				zap.String("agent_id", l.AgentID),
				zap.String("invocation_id", l.ID),
				zap.Error(err),
			)
		}
	}()
	return done
}
