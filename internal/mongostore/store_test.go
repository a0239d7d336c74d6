package mongostore

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"agentline/internal/config"
	"agentline/internal/domain"
	"agentline/internal/engine"
	"agentline/internal/repo"
)

func TestWrapErrorMapsMissingDocuments(t *testing.T) {
	assert.NoError(t, wrapError(nil))
	assert.ErrorIs(t, wrapError(mongo.ErrNoDocuments), repo.ErrNotFound)
	assert.ErrorIs(t, wrapError(fmt.Errorf("find: %w", mongo.ErrNoDocuments)), repo.ErrNotFound)

	other := fmt.Errorf("connection reset")
	assert.Equal(t, other, wrapError(other))
}

func TestLimitOptMatchesSQLiteBounds(t *testing.T) {
	assert.Equal(t, int64(500), limitOpt(0))
	assert.Equal(t, int64(500), limitOpt(-3))
	assert.Equal(t, int64(500), limitOpt(10_000))
	assert.Equal(t, int64(20), limitOpt(20))
}

// newTestStore connects to AGENTLINE_TEST_MONGO_URI with a throwaway
// database, or skips.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("AGENTLINE_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("AGENTLINE_TEST_MONGO_URI not set")
	}
	ctx := context.Background()
	name := "agentline_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	s, err := New(ctx, uri, name, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.db.Drop(ctx)
		_ = s.Close(ctx)
	})
	return s
}

func TestStoreRunsActionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	eng := engine.New(s, config.Default(), nil)

	agent, err := eng.CreateAgent(ctx, "user-1", engine.NewAgent{Name: "Runner", Goal: "Run a 10k"})
	require.NoError(t, err)
	draft, err := eng.ProposeAction("user-1", engine.NewAction{AgentID: agent.ID, Title: "Easy 5k"})
	require.NoError(t, err)
	action, err := eng.DefineAction(ctx, "user-1", draft)
	require.NoError(t, err)
	_, err = eng.StartAction(ctx, "user-1", action.ID)
	require.NoError(t, err)
	done, next, err := eng.CompleteAction(ctx, "user-1", action.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, done.State)
	assert.Nil(t, next)

	got, err := eng.GetAgent(ctx, "user-1", agent.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Metrics.TotalActions)
	assert.Equal(t, 1, got.Metrics.CompletedActions)
	assert.Equal(t, 0, got.Metrics.InProgressActions)

	open, err := s.ListActions(ctx, repo.ActionFilter{AgentID: agent.ID, States: []string{domain.StateOpen}})
	require.NoError(t, err)
	assert.Empty(t, open)

	evts, err := s.ListEvents(ctx, repo.EventFilter{UserID: "user-1"})
	require.NoError(t, err)
	var types []string
	for i, e := range evts {
		types = append(types, e.Type)
		if i > 0 {
			assert.Greater(t, e.ID, evts[i-1].ID)
		}
	}
	assert.Equal(t, []string{"agent.created", "action.defined", "action.started", "action.completed"}, types)

	after, err := s.ListEvents(ctx, repo.EventFilter{UserID: "user-1", AfterID: evts[1].ID})
	require.NoError(t, err)
	assert.Len(t, after, 2)
}

func TestStoreReportsMissingRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetAgent(ctx, "agent-missing")
	assert.ErrorIs(t, err, repo.ErrNotFound)
	err = s.UpdateAction(ctx, domain.Action{ID: "action-missing", UserID: "u"})
	assert.ErrorIs(t, err, repo.ErrNotFound)
	_, err = s.GetAPIKeyByHash(ctx, "nope")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestStoreAPIKeysByHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	eng := engine.New(s, config.Default(), nil)

	key, plain, err := eng.CreateAPIKey(ctx, "user-1", "ci")
	require.NoError(t, err)
	userID, err := eng.Authenticate(ctx, plain)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)

	require.NoError(t, eng.RevokeAPIKey(ctx, "user-1", key.ID))
	_, err = eng.Authenticate(ctx, plain)
	assert.Error(t, err)
}
