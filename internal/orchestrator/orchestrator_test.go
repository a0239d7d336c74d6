package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"agentline/internal/config"
	"agentline/internal/db"
	"agentline/internal/domain"
	"agentline/internal/engine"
	"agentline/internal/llm"
	"agentline/internal/metrics"
	"agentline/internal/migrate"
	"agentline/internal/prompt"
	"agentline/internal/repo"
	"agentline/internal/signal"
	"agentline/internal/tools"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scripted replays canned responses in order and keeps every request.
type scripted struct {
	mu        sync.Mutex
	responses []func(ctx context.Context) (llm.Response, error)
	requests  []llm.Request
}

func (p *scripted) Name() string { return "scripted" }

func (p *scripted) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	p.mu.Lock()
	n := len(p.requests)
	req.Messages = append([]llm.Message(nil), req.Messages...)
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	if n >= len(p.responses) {
		return llm.Response{}, fmt.Errorf("unexpected call %d", n)
	}
	return p.responses[n](ctx)
}

func (p *scripted) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func reply(text string, calls ...llm.ToolCall) func(context.Context) (llm.Response, error) {
	return func(context.Context) (llm.Response, error) {
		return llm.Response{
			Text:      text,
			ToolCalls: calls,
			Usage:     llm.Usage{InputTokens: 100, OutputTokens: 20},
			Model:     "claude-test",
		}, nil
	}
}

func toolCall(id string, name tools.Name, input string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: string(name), Input: json.RawMessage(input)}
}

type env struct {
	ctx      context.Context
	eng      engine.Engine
	agent    domain.Agent
	provider *scripted
	orch     *Orchestrator
}

type envOption func(*Deps, *Options)

func newEnv(t *testing.T, responses []func(context.Context) (llm.Response, error), opts ...envOption) env {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)

	eng := engine.New(repo.New(conn), config.Default(), nil)
	agent, err := eng.CreateAgent(ctx, "owner", engine.NewAgent{
		Name:         "Writer",
		Goal:         "Grow a LinkedIn audience",
		Capabilities: domain.Capabilities{Notes: true},
	})
	require.NoError(t, err)

	provider := &scripted{responses: responses}
	reg := tools.NewRegistry(tools.EngineHandlers{Engine: eng, Sandbox: tools.NewSandboxFs(afero.NewMemMapFs())}, nil)
	deps := Deps{
		Engine:   eng,
		Provider: provider,
		Registry: reg,
		Builder: prompt.Builder{
			Registry:    reg,
			OpenActions: eng.OpenActions,
			Cache:       prompt.NewMemoryCache(),
		},
		Pricing: llm.Pricing{"claude-test": {Input: 3, Output: 15}},
		Metrics: metrics.New(prometheus.NewRegistry()),
	}
	options := Options{Model: "claude-test"}
	for _, o := range opts {
		o(&deps, &options)
	}
	orch := New(deps, options)
	t.Cleanup(orch.Wait)
	return env{ctx: ctx, eng: eng, agent: agent, provider: provider, orch: orch}
}

func (e env) define(t *testing.T, userID, agentID string, in engine.NewAction) domain.Action {
	t.Helper()
	in.AgentID = agentID
	draft, err := e.eng.ProposeAction(userID, in)
	require.NoError(t, err)
	a, err := e.eng.DefineAction(e.ctx, userID, draft)
	require.NoError(t, err)
	return a
}

func (e env) logs(t *testing.T) []domain.InvocationLog {
	t.Helper()
	e.orch.Wait()
	logs, err := e.eng.ListInvocationLogs(e.ctx, "owner", e.agent.ID, 10)
	require.NoError(t, err)
	return logs
}

func turnKind(t *testing.T, err error) ErrorKind {
	t.Helper()
	var te *TurnError
	require.True(t, errors.As(err, &te), "want *TurnError, got %v", err)
	return te.Kind
}

func TestChatProposesScheduledActionWithoutPersisting(t *testing.T) {
	block, err := signal.Format(signal.GeneratedAction{
		Title:       "Weekly LinkedIn posts",
		Description: "Publish three posts every week",
		Priority:    "medium",
		TaskType:    "scheduled",
		TaskConfig: signal.ActionTaskConfig{
			Instructions:   "Draft three posts on Monday",
			ExpectedOutput: "Three published posts",
		},
	})
	require.NoError(t, err)
	e := newEnv(t, []func(context.Context) (llm.Response, error){reply(block + "\nWant me to adjust the cadence?")})

	res, err := e.orch.Chat(e.ctx, TurnRequest{
		UserID:  "owner",
		AgentID: e.agent.ID,
		Message: "Schedule me three LinkedIn posts weekly",
	})
	require.NoError(t, err)

	require.NotNil(t, res.ActionDraft)
	assert.Equal(t, string(signal.GenerateActions), res.Signal)
	assert.Equal(t, domain.StateDraft, res.ActionDraft.State)
	assert.Equal(t, domain.TaskScheduled, res.ActionDraft.TaskType)
	assert.Equal(t, "Draft three posts on Monday", res.ActionDraft.TaskConfig.Instructions)
	assert.Equal(t, "Want me to adjust the cadence?", res.Reply)
	assert.Equal(t, int64(100), res.InputTokens)

	persisted, err := e.eng.ListActions(e.ctx, "owner", repo.ActionFilter{AgentID: e.agent.ID})
	require.NoError(t, err)
	assert.Empty(t, persisted)

	logs := e.logs(t)
	require.Len(t, logs, 1)
	assert.Equal(t, "GENERATE_ACTIONS", logs[0].Signal)
	assert.Equal(t, int64(1), logs[0].APICalls)
	assert.InDelta(t, (100*3+20*15)/1e6, logs[0].CostUSD, 1e-12)

	agent, err := e.eng.GetAgent(e.ctx, "owner", e.agent.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), agent.Metrics.APICalls)
	assert.Equal(t, int64(100), agent.Metrics.InputTokens)
}

func TestChatForeignActionYieldsAccessDeniedAndRecovers(t *testing.T) {
	apology := "Sorry, I can't access that action."
	var foreignID string
	e := newEnv(t, []func(context.Context) (llm.Response, error){
		func(ctx context.Context) (llm.Response, error) {
			return reply("", toolCall("call_1", tools.CompleteAction, `{"action_id":"`+foreignID+`"}`))(ctx)
		},
		reply(apology),
	})
	other, err := e.eng.CreateAgent(e.ctx, "someone-else", engine.NewAgent{Name: "Theirs"})
	require.NoError(t, err)
	foreign := e.define(t, "someone-else", other.ID, engine.NewAction{Title: "Not yours"})
	foreignID = foreign.ID

	res, err := e.orch.Chat(e.ctx, TurnRequest{UserID: "owner", AgentID: e.agent.ID, Message: "complete it"})
	require.NoError(t, err)

	assert.Equal(t, apology, res.Reply)
	assert.Equal(t, []ToolOutcome{{Name: "complete_action", Error: "Access denied"}}, res.Tools)

	require.Equal(t, 2, e.provider.calls())
	followUp := e.provider.requests[1].Messages
	last := followUp[len(followUp)-1]
	require.Len(t, last.ToolResults, 1)
	assert.Equal(t, "call_1", last.ToolResults[0].CallID)
	assert.True(t, last.ToolResults[0].IsError)
	assert.JSONEq(t, `{"error":"Access denied"}`, last.ToolResults[0].Content)

	got, err := e.eng.GetAction(e.ctx, "someone-else", foreign.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateOpen, got.State)

	logs := e.logs(t)
	require.Len(t, logs, 1)
	assert.Equal(t, []string{"complete_action"}, logs[0].ToolsUsed)
	assert.Equal(t, int64(2), logs[0].APICalls)
}

func TestChatMalformedSignalIsGenerationFailure(t *testing.T) {
	e := newEnv(t, []func(context.Context) (llm.Response, error){
		reply("GENERATE_ACTIONS\n---\n{\"title\": \"half"),
	})
	_, err := e.orch.Chat(e.ctx, TurnRequest{UserID: "owner", AgentID: e.agent.ID, Message: "plan my week"})
	require.Error(t, err)
	assert.Equal(t, KindGenerationFailed, turnKind(t, err))

	var te *TurnError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, msgGenerationFailed, te.UserMessage)
	var pe *signal.ParseError
	assert.ErrorAs(t, err, &pe)

	logs := e.logs(t)
	require.Len(t, logs, 1)
	last := logs[0].Events[len(logs[0].Events)-1]
	assert.Equal(t, domain.InvocationError, last.Type)
	assert.Equal(t, "signal_parse", last.Name)
}

func TestChatReadyToCreateOutsideOnboardingFails(t *testing.T) {
	block, err := signal.Format(signal.Goal{
		Title:           "Run",
		Goal:            "Run a 10k",
		SuccessCriteria: []string{"Finish under 60 minutes"},
		Timeline:        "3 months",
	})
	require.NoError(t, err)
	e := newEnv(t, []func(context.Context) (llm.Response, error){reply(block)})
	_, err = e.orch.Chat(e.ctx, TurnRequest{UserID: "owner", AgentID: e.agent.ID, Message: "hi"})
	assert.Equal(t, KindGenerationFailed, turnKind(t, err))
	assert.ErrorContains(t, err, "only valid during onboarding")
}

func TestChatTimeout(t *testing.T) {
	e := newEnv(t, []func(context.Context) (llm.Response, error){
		func(ctx context.Context) (llm.Response, error) {
			<-ctx.Done()
			return llm.Response{}, ctx.Err()
		},
	}, func(_ *Deps, o *Options) { o.Timeout = 20 * time.Millisecond })

	_, err := e.orch.Chat(e.ctx, TurnRequest{UserID: "owner", AgentID: e.agent.ID, Message: "hello"})
	require.Error(t, err)
	assert.Equal(t, KindTimeout, turnKind(t, err))
	var te *TurnError
	require.ErrorAs(t, err, &te)
	assert.Contains(t, te.UserMessage, "taking too long")
}

func TestChatValidationWritesNothing(t *testing.T) {
	e := newEnv(t, nil)
	cases := map[string]TurnRequest{
		"empty message": {UserID: "owner", AgentID: e.agent.ID, Message: "  "},
		"bad role":      {UserID: "owner", AgentID: e.agent.ID, Message: "hi", History: []HistoryMessage{{Role: "system", Content: "x"}}},
		"bad agent id":  {UserID: "owner", AgentID: "action-1", Message: "hi"},
	}
	for name, req := range cases {
		_, err := e.orch.Chat(e.ctx, req)
		assert.Equal(t, KindValidation, turnKind(t, err), name)
	}
	_, err := e.orch.Chat(e.ctx, TurnRequest{UserID: "intruder", AgentID: e.agent.ID, Message: "hi"})
	assert.Equal(t, KindAccessDenied, turnKind(t, err))

	assert.Zero(t, e.provider.calls())
	assert.Empty(t, e.logs(t))
}

// slowFirst delays the first action lookup so a concurrent round finishes
// out of order.
type slowFirst struct {
	tools.EngineHandlers
	first string
}

func (h slowFirst) GetActionDetails(ctx context.Context, call tools.Call, in tools.ActionIDInput) (any, error) {
	if in.ActionID == h.first {
		time.Sleep(30 * time.Millisecond)
	}
	return h.EngineHandlers.GetActionDetails(ctx, call, in)
}

func TestParallelToolResultsKeepRequestOrder(t *testing.T) {
	var ids []string
	var slow slowFirst
	e := newEnv(t, []func(context.Context) (llm.Response, error){
		func(ctx context.Context) (llm.Response, error) {
			var calls []llm.ToolCall
			for i, id := range ids {
				calls = append(calls, toolCall(fmt.Sprintf("call_%d", i), tools.GetActionDetails, `{"action_id":"`+id+`"}`))
			}
			return reply("", calls...)(ctx)
		},
		reply("All three are on track."),
	}, func(d *Deps, o *Options) {
		o.ToolConcurrency = 3
		slow.EngineHandlers = tools.EngineHandlers{Engine: d.Engine}
		d.Registry = tools.NewRegistry(&slow, nil)
	})
	for _, title := range []string{"First", "Second", "Third"} {
		ids = append(ids, e.define(t, "owner", e.agent.ID, engine.NewAction{Title: title}).ID)
	}
	slow.first = ids[0]

	res, err := e.orch.Chat(e.ctx, TurnRequest{UserID: "owner", AgentID: e.agent.ID, Message: "status?"})
	require.NoError(t, err)
	require.Len(t, res.Tools, 3)

	results := e.provider.requests[1].Messages[len(e.provider.requests[1].Messages)-1].ToolResults
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, fmt.Sprintf("call_%d", i), r.CallID)
		var a domain.Action
		require.NoError(t, json.Unmarshal([]byte(r.Content), &a))
		assert.Equal(t, ids[i], a.ID)
	}
}

func TestFollowUpToolCallsAreIgnored(t *testing.T) {
	e := newEnv(t, []func(context.Context) (llm.Response, error){
		reply("", toolCall("call_1", tools.GetNotes, `{}`)),
		reply("Here is what I found.", toolCall("call_2", tools.CreateNote, `{"content":"again"}`)),
	})
	res, err := e.orch.Chat(e.ctx, TurnRequest{UserID: "owner", AgentID: e.agent.ID, Message: "notes?"})
	require.NoError(t, err)

	assert.Equal(t, 2, e.provider.calls())
	assert.Equal(t, "Here is what I found.", res.Reply)
	assert.Equal(t, []string{"create_note"}, res.IgnoredToolCalls)
	notes, err := e.eng.ListNotes(e.ctx, "owner", repo.NoteFilter{AgentID: e.agent.ID})
	require.NoError(t, err)
	assert.Empty(t, notes)
}

func TestMeasurementCompletesMeasurementAction(t *testing.T) {
	block, err := signal.Format(signal.Measurement{Dimensions: []signal.Dimension{{Name: "energy", Score: 0}, {Name: "focus", Score: 7}}})
	require.NoError(t, err)
	e := newEnv(t, []func(context.Context) (llm.Response, error){reply(block)})
	action := e.define(t, "owner", e.agent.ID, engine.NewAction{Title: "Weekly check-in", TaskType: domain.TaskMeasurement})

	res, err := e.orch.Chat(e.ctx, TurnRequest{UserID: "owner", AgentID: e.agent.ID, ActionID: action.ID, Message: "energy 0, focus 7"})
	require.NoError(t, err)

	require.NotNil(t, res.Measurement)
	assert.Equal(t, action.ID, res.Measurement.ActionID)
	require.Len(t, res.Measurement.Dimensions, 2)
	assert.Equal(t, 0.0, res.Measurement.Dimensions[0].Score)
	require.NotNil(t, res.CompletedAction)
	assert.Equal(t, domain.StateCompleted, res.CompletedAction.State)
	assert.NotEmpty(t, res.Reply)

	got, err := e.eng.GetAction(e.ctx, "owner", action.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, got.State)
	assert.Equal(t, int64(1), got.APICalls)
}

func TestChatStartsOpenAction(t *testing.T) {
	e := newEnv(t, []func(context.Context) (llm.Response, error){reply("Let's get going.")})
	action := e.define(t, "owner", e.agent.ID, engine.NewAction{Title: "Outline post"})

	_, err := e.orch.Chat(e.ctx, TurnRequest{UserID: "owner", AgentID: e.agent.ID, ActionID: action.ID, Message: "start"})
	require.NoError(t, err)

	got, err := e.eng.GetAction(e.ctx, "owner", action.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateInProgress, got.State)
	assert.NotNil(t, got.StartedAt)
}

func TestOnboardReturnsProposal(t *testing.T) {
	block, err := signal.Format(signal.Goal{
		Title:           "10k runner",
		Goal:            "Run a 10k without stopping",
		SuccessCriteria: []string{"Finish a 10k race", "Run three times a week"},
		Timeline:        "12 weeks",
	})
	require.NoError(t, err)
	e := newEnv(t, []func(context.Context) (llm.Response, error){
		reply("What distance do you run today?"),
		reply(block),
	})

	res, err := e.orch.Onboard(e.ctx, OnboardRequest{UserID: "owner", Message: "I want to get fit"})
	require.NoError(t, err)
	assert.False(t, res.Ready)
	assert.Nil(t, res.Proposal)

	res, err = e.orch.Onboard(e.ctx, OnboardRequest{
		UserID:  "owner",
		History: []HistoryMessage{{Role: "user", Content: "I want to get fit"}, {Role: "assistant", Content: res.Reply}},
		Message: "About 3k",
	})
	require.NoError(t, err)
	require.True(t, res.Ready)
	assert.Equal(t, &engine.Proposal{
		Title:           "10k runner",
		Goal:            "Run a 10k without stopping",
		SuccessCriteria: []string{"Finish a 10k race", "Run three times a week"},
		Timeline:        "12 weeks",
	}, res.Proposal)

	for _, req := range e.provider.requests {
		assert.Empty(t, req.Tools)
	}
	assert.Len(t, e.provider.requests[1].Messages, 3)
}

func TestOnboardRejectsOtherSignals(t *testing.T) {
	block, err := signal.Format(signal.GeneratedAsset{Title: "Plan", Description: "d", Type: "markdown", Content: "# Plan"})
	require.NoError(t, err)
	e := newEnv(t, []func(context.Context) (llm.Response, error){reply(block)})
	_, err = e.orch.Onboard(e.ctx, OnboardRequest{UserID: "owner", Message: "help"})
	assert.Equal(t, KindGenerationFailed, turnKind(t, err))
}
