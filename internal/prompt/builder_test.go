package prompt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentline/internal/domain"
	"agentline/internal/llm"
	"agentline/internal/tools"
)

type nopHandlers struct{ tools.Handlers }

func cacheable(blocks []llm.SystemBlock) []string {
	var out []string
	for _, b := range blocks {
		if b.Cacheable {
			out = append(out, b.Text)
		}
	}
	return out
}

func testBuilder(actions *[]domain.Action, loads *int) Builder {
	day := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	return Builder{
		Registry:     tools.NewRegistry(nopHandlers{}, nil),
		Capabilities: tools.Capabilities{LocalExecution: true},
		OpenActions: func(ctx context.Context, userID, agentID string) ([]domain.Action, error) {
			*loads++
			return *actions, nil
		},
		Cache:       NewMemoryCache(),
		SnapshotTTL: time.Hour,
		Now:         func() time.Time { return day },
	}
}

var coach = domain.Agent{
	ID:              "agent-1",
	Name:            "Coach",
	Goal:            "Run a half marathon",
	SuccessCriteria: []string{"3 runs a week"},
	Capabilities:    domain.Capabilities{Notes: true},
}

func TestCacheableBlocksAreByteIdenticalAcrossTurns(t *testing.T) {
	actions := []domain.Action{
		{ID: "action-b", Title: "Long run", State: domain.StateOpen, Priority: "high", CreatedAt: "2024-03-02T00:00:00Z"},
		{ID: "action-a", Title: "Buy shoes", State: domain.StateOpen, Priority: "low", CreatedAt: "2024-03-01T00:00:00Z"},
	}
	loads := 0
	b := testBuilder(&actions, &loads)
	ctx := context.Background()

	first, err := b.Build(ctx, Input{UserID: "u", Agent: coach, SessionID: "s1"})
	require.NoError(t, err)
	assert.False(t, first.SnapshotHit)

	actions = append(actions, domain.Action{ID: "action-c", Title: "New", State: domain.StateOpen})
	action := actions[0]
	second, err := b.Build(ctx, Input{UserID: "u", Agent: coach, SessionID: "s1", Action: &action})
	require.NoError(t, err)
	assert.True(t, second.SnapshotHit)
	assert.Equal(t, 1, loads)

	assert.Equal(t, cacheable(first.System), cacheable(second.System))
	assert.Len(t, first.System, 3)
	assert.Len(t, second.System, 4)
	assert.Contains(t, cacheable(first.System)[1], "[action-a] Buy shoes")

	third, err := b.Build(ctx, Input{UserID: "u", Agent: coach, SessionID: "s2"})
	require.NoError(t, err)
	assert.False(t, third.SnapshotHit)
	assert.Contains(t, cacheable(third.System)[1], "action-c")
}

func TestVolatileBlocksComeFirst(t *testing.T) {
	loads := 0
	b := testBuilder(&[]domain.Action{}, &loads)
	action := domain.Action{ID: "action-1", Title: "Check in", TaskType: domain.TaskMeasurement}
	review := &Review{BatchID: "batch-1", Drafts: []domain.Draft{{ID: "draft-1", Title: "Post", Status: domain.DraftPending}}}

	out, err := b.Build(context.Background(), Input{UserID: "u", Agent: coach, Action: &action, Review: review})
	require.NoError(t, err)
	require.Len(t, out.System, 5)
	seenCacheable := false
	for _, blk := range out.System {
		if blk.Cacheable {
			seenCacheable = true
		} else {
			assert.False(t, seenCacheable, "uncached block after a cacheable one: %q", blk.Text)
		}
	}
	assert.Contains(t, out.System[1].Text, "action-1")
	assert.Contains(t, out.System[2].Text, "draft-1")
}

func TestToolsAreCapabilityGated(t *testing.T) {
	loads := 0
	b := testBuilder(&[]domain.Action{}, &loads)
	names := func(specs []llm.ToolSpec) map[string]bool {
		m := map[string]bool{}
		for _, s := range specs {
			m[s.Name] = true
		}
		return m
	}

	out, err := b.Build(context.Background(), Input{Agent: coach})
	require.NoError(t, err)
	got := names(out.Tools)
	assert.True(t, got["create_note"])
	assert.False(t, got["read_file"])
	assert.False(t, got["get_pending_drafts"])

	fsAgent := coach
	fsAgent.Capabilities.Filesystem = true
	out, err = b.Build(context.Background(), Input{Agent: fsAgent, Review: &Review{Drafts: []domain.Draft{{Status: domain.DraftApproved}}}})
	require.NoError(t, err)
	got = names(out.Tools)
	assert.True(t, got["read_file"])
	assert.False(t, got["submit_draft_review"])

	b.Capabilities.LocalExecution = false
	out, err = b.Build(context.Background(), Input{Agent: fsAgent})
	require.NoError(t, err)
	assert.False(t, names(out.Tools)["write_file"])
}

func TestMemoryCacheExpires(t *testing.T) {
	c := NewMemoryCache()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	v, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	now = now.Add(2 * time.Minute)
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
