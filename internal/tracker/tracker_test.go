package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"agentline/internal/domain"
	"agentline/internal/llm"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memSink struct {
	mu   sync.Mutex
	logs []domain.InvocationLog
	err  error
}

func (s *memSink) InsertInvocationLog(_ context.Context, l domain.InvocationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.logs = append(s.logs, l)
	return nil
}

func TestSummaryTotals(t *testing.T) {
	tr := New(nil, Meta{UserID: "u", AgentID: "agent-1", Kind: "chat"}, nil, nil)
	tr.Context(map[string]any{"blocks": 3})
	tr.APICall("m", llm.Usage{InputTokens: 100, OutputTokens: 20, CacheReadTokens: 900}, 0.01, 1200*time.Millisecond)
	tr.ToolCall("get_notes", []byte(`{}`))
	tr.ToolResult("get_notes", "", 3*time.Millisecond)
	tr.ToolCall("complete_action", []byte(`{}`))
	tr.ToolResult("complete_action", "Access denied", time.Millisecond)
	tr.ToolCall("get_notes", []byte(`{"limit":5}`))
	tr.APICall("m", llm.Usage{InputTokens: 150, OutputTokens: 40}, 0.02, 800*time.Millisecond)
	tr.Signal("GENERATE_ASSET")
	tr.Signal("GENERATE_ACTIONS")

	l := tr.Summary()
	assert.Equal(t, int64(2), l.APICalls)
	assert.Equal(t, int64(250), l.InputTokens)
	assert.Equal(t, int64(60), l.OutputTokens)
	assert.Equal(t, int64(900), l.CacheReadTokens)
	assert.InDelta(t, 0.03, l.CostUSD, 1e-9)
	assert.Equal(t, int64(2000), l.DurationMS)
	assert.Equal(t, []string{"get_notes", "complete_action"}, l.ToolsUsed)
	assert.Equal(t, "GENERATE_ACTIONS", l.Signal)
	assert.Len(t, l.Events, 10)
}

func TestFlushWritesExactlyOnce(t *testing.T) {
	sink := &memSink{}
	tr := New(sink, Meta{AgentID: "agent-1", Kind: "chat"}, nil, nil)
	tr.APICall("m", llm.Usage{InputTokens: 1}, 0, time.Millisecond)

	<-tr.Flush(context.Background())
	<-tr.Flush(context.Background())
	tr.Signal("late")

	require.Len(t, sink.logs, 1)
	assert.True(t, domain.HasPrefix(sink.logs[0].ID, domain.PrefixInvocation))
	assert.Len(t, sink.logs[0].Events, 1)
}

func TestFlushWithoutEventsWritesNothing(t *testing.T) {
	sink := &memSink{}
	<-New(sink, Meta{}, nil, nil).Flush(context.Background())
	assert.Empty(t, sink.logs)
}

func TestFlushFailureIsLoggedAndSwallowed(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	sink := &memSink{err: errors.New("disk full")}
	tr := New(sink, Meta{AgentID: "agent-1"}, zap.New(core), nil)
	tr.Error("validation", errors.New("bad input"))

	ctx, cancel := context.WithCancel(context.Background())
	done := tr.Flush(ctx)
	cancel()
	<-done
	require.Equal(t, 1, logs.FilterMessage("invocation log write failed").Len())
}
