package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentline/internal/config"
	"agentline/internal/db"
	"agentline/internal/domain"
	"agentline/internal/engine"
	"agentline/internal/engine/auth"
	"agentline/internal/migrate"
	"agentline/internal/repo"
)

var fixedNow = time.Date(2024, 3, 10, 14, 30, 0, 0, time.UTC)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Agent  domain.Agent
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)

	eng := engine.New(repo.New(conn), config.Default(), nil)
	eng.Now = func() time.Time { return fixedNow }
	agent, err := eng.CreateAgent(ctx, "user-1", engine.NewAgent{Name: "Writer", Goal: "Publish weekly"})
	require.NoError(t, err)
	return testEnv{Engine: eng, Ctx: ctx, Agent: agent}
}

func (env testEnv) define(t *testing.T, in engine.NewAction) domain.Action {
	t.Helper()
	if in.AgentID == "" {
		in.AgentID = env.Agent.ID
	}
	draft, err := env.Engine.ProposeAction("user-1", in)
	require.NoError(t, err)
	a, err := env.Engine.DefineAction(env.Ctx, "user-1", draft)
	require.NoError(t, err)
	return a
}

func (env testEnv) metrics(t *testing.T) domain.AgentMetrics {
	t.Helper()
	a, err := env.Engine.GetAgent(env.Ctx, "user-1", env.Agent.ID)
	require.NoError(t, err)
	return a.Metrics
}

func TestProposeActionIsNotPersisted(t *testing.T) {
	env := newTestEnv(t)
	draft, err := env.Engine.ProposeAction("user-1", engine.NewAction{
		AgentID:  env.Agent.ID,
		Title:    "LinkedIn posts",
		TaskType: domain.TaskScheduled,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StateDraft, draft.State)
	assert.Equal(t, "medium", draft.Priority)

	_, err = env.Engine.Store.GetAction(env.Ctx, draft.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)
	assert.Zero(t, env.metrics(t).TotalActions)
}

func TestDefineActionStates(t *testing.T) {
	env := newTestEnv(t)
	open := env.define(t, engine.NewAction{Title: "Outline"})
	assert.Equal(t, domain.StateOpen, open.State)

	at := "2024-03-12T08:00:00Z"
	scheduled := env.define(t, engine.NewAction{Title: "Post", ScheduledFor: &at})
	assert.Equal(t, domain.StateScheduled, scheduled.State)
	assert.Equal(t, 2, env.metrics(t).TotalActions)

	_, err := env.Engine.DefineAction(env.Ctx, "user-1", open)
	var te engine.TransitionError
	assert.ErrorAs(t, err, &te)
}

func TestDefineActionRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.ProposeAction("user-1", engine.NewAction{Title: "x", Priority: "urgent"})
	var ve engine.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "priority", ve.Field)

	_, err = env.Engine.DefineAction(env.Ctx, "user-1", domain.Action{ID: "note-1", Title: "x"})
	var ie auth.InvalidIDError
	assert.ErrorAs(t, err, &ie)

	_, err = env.Engine.DefineAction(env.Ctx, "user-2", domain.Action{Title: "x", AgentID: env.Agent.ID})
	var ad auth.AccessDeniedError
	assert.ErrorAs(t, err, &ad)
}

func TestCompleteOpenAction(t *testing.T) {
	env := newTestEnv(t)
	a := env.define(t, engine.NewAction{Title: "Draft post"})

	done, next, err := env.Engine.CompleteAction(env.Ctx, "user-1", a.ID)
	require.NoError(t, err)
	assert.Nil(t, next)
	assert.Equal(t, domain.StateCompleted, done.State)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, fixedNow.Format(time.RFC3339), *done.CompletedAt)

	m := env.metrics(t)
	assert.Equal(t, 1, m.CompletedActions)
	assert.Equal(t, 0, m.InProgressActions)
}

func TestCompleteTerminalActionIsAnError(t *testing.T) {
	env := newTestEnv(t)
	a := env.define(t, engine.NewAction{Title: "Once"})
	_, _, err := env.Engine.CompleteAction(env.Ctx, "user-1", a.ID)
	require.NoError(t, err)

	_, _, err = env.Engine.CompleteAction(env.Ctx, "user-1", a.ID)
	assert.True(t, errors.Is(err, engine.ErrTerminalState))
	assert.Equal(t, 1, env.metrics(t).CompletedActions)

	b := env.define(t, engine.NewAction{Title: "Dropped"})
	_, err = env.Engine.DismissAction(env.Ctx, "user-1", b.ID, "not needed")
	require.NoError(t, err)
	_, _, err = env.Engine.CompleteAction(env.Ctx, "user-1", b.ID)
	assert.ErrorIs(t, err, engine.ErrTerminalState)
	_, err = env.Engine.StartAction(env.Ctx, "user-1", b.ID)
	assert.ErrorIs(t, err, engine.ErrTerminalState)
}

func TestInProgressCounters(t *testing.T) {
	env := newTestEnv(t)
	a := env.define(t, engine.NewAction{Title: "Research"})
	started, err := env.Engine.StartAction(env.Ctx, "user-1", a.ID)
	require.NoError(t, err)
	require.NotNil(t, started.StartedAt)
	assert.Equal(t, 1, env.metrics(t).InProgressActions)

	_, err = env.Engine.DismissAction(env.Ctx, "user-1", a.ID, "  ")
	var ve engine.ValidationError
	require.ErrorAs(t, err, &ve)

	dismissed, err := env.Engine.DismissAction(env.Ctx, "user-1", a.ID, "superseded")
	require.NoError(t, err)
	assert.Equal(t, "superseded", dismissed.DismissReason)
	m := env.metrics(t)
	assert.Equal(t, 0, m.InProgressActions)
	assert.Equal(t, 1, m.DismissedActions)
}

func TestOwnershipIsEnforced(t *testing.T) {
	env := newTestEnv(t)
	a := env.define(t, engine.NewAction{Title: "Private"})
	var ad auth.AccessDeniedError

	_, _, err := env.Engine.CompleteAction(env.Ctx, "intruder", a.ID)
	assert.ErrorAs(t, err, &ad)
	_, err = env.Engine.GetAction(env.Ctx, "intruder", a.ID)
	assert.ErrorAs(t, err, &ad)
	_, err = env.Engine.GetAction(env.Ctx, "intruder", "action-missing")
	assert.ErrorAs(t, err, &ad)

	got, err := env.Engine.GetAction(env.Ctx, "user-1", a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateOpen, got.State)
}

func TestUpdateAction(t *testing.T) {
	env := newTestEnv(t)
	a := env.define(t, engine.NewAction{Title: "Old"})
	title, prio := "New", "high"
	updated, err := env.Engine.UpdateAction(env.Ctx, "user-1", a.ID, engine.ActionPatch{Title: &title, Priority: &prio})
	require.NoError(t, err)
	assert.Equal(t, "New", updated.Title)
	assert.Equal(t, "high", updated.Priority)

	_, err = env.Engine.UpdateAction(env.Ctx, "user-1", a.ID, engine.ActionPatch{})
	assert.Error(t, err)

	_, _, err = env.Engine.CompleteAction(env.Ctx, "user-1", a.ID)
	require.NoError(t, err)
	_, err = env.Engine.UpdateAction(env.Ctx, "user-1", a.ID, engine.ActionPatch{Title: &title})
	assert.ErrorIs(t, err, engine.ErrTerminalState)
}

func TestReviewDraft(t *testing.T) {
	env := newTestEnv(t)
	d, err := env.Engine.CreateDraft(env.Ctx, "user-1", engine.NewDraft{AgentID: env.Agent.ID, BatchID: "b1", Title: "Post 1", Content: "hello"})
	require.NoError(t, err)

	_, err = env.Engine.ReviewDraft(env.Ctx, "user-1", d.ID, engine.DraftReview{Decision: "revise"})
	require.Error(t, err)

	got, err := env.Engine.ReviewDraft(env.Ctx, "user-1", d.ID, engine.DraftReview{Decision: "revise", Revision: "hello there"})
	require.NoError(t, err)
	assert.Equal(t, domain.DraftRevised, got.Status)

	_, err = env.Engine.ReviewDraft(env.Ctx, "user-1", d.ID, engine.DraftReview{Decision: "approve"})
	assert.ErrorIs(t, err, engine.ErrTerminalState)
}

func TestRecordMeasurementValidates(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.RecordMeasurement(env.Ctx, "user-1", domain.Measurement{AgentID: env.Agent.ID})
	require.Error(t, err)

	m, err := env.Engine.RecordMeasurement(env.Ctx, "user-1", domain.Measurement{
		AgentID:    env.Agent.ID,
		Dimensions: []domain.MeasurementDimension{{Name: "clarity", Score: 7}},
	})
	require.NoError(t, err)
	assert.True(t, domain.HasPrefix(m.ID, domain.PrefixMeasurement))

	list, err := env.Engine.ListMeasurements(env.Ctx, "user-1", env.Agent.ID, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 7.0, list[0].Dimensions[0].Score)
}

func TestEventsAreAppended(t *testing.T) {
	env := newTestEnv(t)
	a := env.define(t, engine.NewAction{Title: "Tracked"})
	_, _, err := env.Engine.CompleteAction(env.Ctx, "user-1", a.ID)
	require.NoError(t, err)

	evts, err := env.Engine.Store.ListEvents(env.Ctx, repo.EventFilter{AgentID: env.Agent.ID})
	require.NoError(t, err)
	var types []string
	for _, e := range evts {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{"agent.created", "action.defined", "action.completed"}, types)
}

func TestContentRejectsForeignActionReference(t *testing.T) {
	env := newTestEnv(t)
	other, err := env.Engine.CreateAgent(env.Ctx, "user-2", engine.NewAgent{Name: "Other", Goal: "Theirs"})
	require.NoError(t, err)
	draft, err := env.Engine.ProposeAction("user-2", engine.NewAction{AgentID: other.ID, Title: "Their action"})
	require.NoError(t, err)
	foreign, err := env.Engine.DefineAction(env.Ctx, "user-2", draft)
	require.NoError(t, err)

	var ad auth.AccessDeniedError
	_, err = env.Engine.CreateDraft(env.Ctx, "user-1", engine.NewDraft{
		AgentID: env.Agent.ID, ActionID: foreign.ID, Title: "Post", Content: "body",
	})
	require.True(t, errors.As(err, &ad), "draft: %v", err)

	_, err = env.Engine.SaveAsset(env.Ctx, "user-1", domain.Asset{
		AgentID: env.Agent.ID, ActionID: foreign.ID, Title: "Brief", Type: "markdown", Content: "# brief",
	})
	require.True(t, errors.As(err, &ad), "asset: %v", err)

	_, err = env.Engine.CreateNote(env.Ctx, "user-1", engine.NewNote{AgentID: env.Agent.ID, ActionID: foreign.ID, Content: "x"})
	require.True(t, errors.As(err, &ad), "note: %v", err)

	_, err = env.Engine.RecordMeasurement(env.Ctx, "user-1", domain.Measurement{
		AgentID:    env.Agent.ID,
		ActionID:   foreign.ID,
		Dimensions: []domain.MeasurementDimension{{Name: "reach", Score: 3}},
	})
	require.True(t, errors.As(err, &ad), "measurement: %v", err)

	drafts, err := env.Engine.ListDrafts(env.Ctx, "user-1", repo.DraftFilter{AgentID: env.Agent.ID})
	require.NoError(t, err)
	assert.Empty(t, drafts)
}

func TestContentRejectsActionOfAnotherAgent(t *testing.T) {
	env := newTestEnv(t)
	second, err := env.Engine.CreateAgent(env.Ctx, "user-1", engine.NewAgent{Name: "Second", Goal: "Other goal"})
	require.NoError(t, err)
	act := env.define(t, engine.NewAction{AgentID: second.ID, Title: "Second's action"})

	_, err = env.Engine.CreateDraft(env.Ctx, "user-1", engine.NewDraft{
		AgentID: env.Agent.ID, ActionID: act.ID, Title: "Post", Content: "body",
	})
	var ve engine.ValidationError
	require.True(t, errors.As(err, &ve), "got %v", err)
	assert.Equal(t, "action_id", ve.Field)

	d, err := env.Engine.CreateDraft(env.Ctx, "user-1", engine.NewDraft{
		AgentID: second.ID, ActionID: act.ID, Title: "Post", Content: "body",
	})
	require.NoError(t, err)
	assert.Equal(t, act.ID, d.ActionID)
}

func TestCreateNoteRequiresAgent(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateNote(env.Ctx, "user-1", engine.NewNote{Content: "orphan"})
	var ve engine.ValidationError
	require.True(t, errors.As(err, &ve), "got %v", err)
	assert.Equal(t, "agent_id", ve.Field)
}
