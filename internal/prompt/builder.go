// Package prompt assembles the system prompt and tool list for a turn.
//
// Block order is fixed: per-turn context first and uncached, then the static
// instructions with the agent profile, then the session snapshot of open
// actions. The last two are marked cacheable and must not change between
// turns of one session.
package prompt

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"agentline/internal/domain"
	"agentline/internal/llm"
	"agentline/internal/logging"
	"agentline/internal/tools"
)

// OpenActionsFunc loads the agent's non-terminal actions.
type OpenActionsFunc func(ctx context.Context, userID, agentID string) ([]domain.Action, error)

// Review is the batch of drafts a turn is reviewing.
type Review struct {
	BatchID string
	Drafts  []domain.Draft
}

func (r *Review) pending() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, d := range r.Drafts {
		if d.Status == domain.DraftPending {
			n++
		}
	}
	return n
}

type Input struct {
	UserID    string
	Agent     domain.Agent
	SessionID string
	Action    *domain.Action
	Review    *Review
}

// Context is the builder output for one turn.
type Context struct {
	System []llm.SystemBlock
	Tools  []llm.ToolSpec
	Scope  tools.Scope
	// SnapshotHit reports whether the open-actions block came from the cache.
	SnapshotHit bool
}

type Builder struct {
	Registry     *tools.Registry
	Capabilities tools.Capabilities
	OpenActions  OpenActionsFunc
	Cache        SnapshotCache
	SnapshotTTL  time.Duration
	Now          func() time.Time
	Log          *zap.Logger
}

func (b Builder) now() time.Time {
	if b.Now != nil {
		return b.Now().UTC()
	}
	return time.Now().UTC()
}

// Build returns the ordered system blocks and the tools offered this turn.
func (b Builder) Build(ctx context.Context, in Input) (Context, error) {
	var out Context
	out.System = append(out.System, llm.SystemBlock{Text: "Current date: " + b.now().Format("Monday, 2 January 2006")})
	if in.Action != nil {
		out.System = append(out.System, llm.SystemBlock{Text: renderActionContext(*in.Action)})
	}
	if in.Review != nil && in.Review.pending() > 0 {
		out.System = append(out.System, llm.SystemBlock{Text: renderReviewContext(*in.Review)})
	}

	out.System = append(out.System, llm.SystemBlock{
		Text:      agentInstructions + "\n\n" + renderProfile(in.Agent),
		Cacheable: true,
	})

	snapshot, hit, err := b.snapshot(ctx, in)
	if err != nil {
		return Context{}, err
	}
	out.SnapshotHit = hit
	out.System = append(out.System, llm.SystemBlock{Text: snapshot, Cacheable: true})

	out.Scope = b.Capabilities.ScopeFor(in.Agent, in.Review.pending())
	if b.Registry != nil {
		out.Tools = b.Registry.Specs(out.Scope)
	}
	return out, nil
}

// Onboarding returns the system prompt for the goal-setting conversation.
// It offers no tools.
func (b Builder) Onboarding() []llm.SystemBlock {
	return []llm.SystemBlock{
		{Text: "Current date: " + b.now().Format("Monday, 2 January 2006")},
		{Text: onboardingInstructions, Cacheable: true},
	}
}

func snapshotKey(in Input) string {
	session := in.SessionID
	if session == "" {
		session = "default"
	}
	return in.Agent.ID + ":" + session
}

// snapshot reads the session's open-actions block, rendering and storing it
// on a miss. Cache failures degrade to rendering fresh.
func (b Builder) snapshot(ctx context.Context, in Input) (string, bool, error) {
	log := logging.OrNop(b.Log)
	key := snapshotKey(in)
	if b.Cache != nil && in.SessionID != "" {
		v, ok, err := b.Cache.Get(ctx, key)
		if err != nil {
			log.Warn("snapshot cache read failed", zap.String("key", key), zap.Error(err))
		} else if ok {
			return v, true, nil
		}
	}
	var actions []domain.Action
	if b.OpenActions != nil {
		var err error
		actions, err = b.OpenActions(ctx, in.UserID, in.Agent.ID)
		if err != nil {
			return "", false, fmt.Errorf("load open actions: %w", err)
		}
	}
	text := renderSnapshot(actions)
	if b.Cache != nil && in.SessionID != "" {
		if err := b.Cache.Set(ctx, key, text, b.SnapshotTTL); err != nil {
			log.Warn("snapshot cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return text, false, nil
}

func renderProfile(a domain.Agent) string {
	var sb strings.Builder
	sb.WriteString("## Agent profile\n")
	fmt.Fprintf(&sb, "Name: %s\n", a.Name)
	if a.Goal != "" {
		fmt.Fprintf(&sb, "Goal: %s\n", a.Goal)
	}
	if len(a.SuccessCriteria) > 0 {
		sb.WriteString("Success criteria:\n")
		for _, c := range a.SuccessCriteria {
			fmt.Fprintf(&sb, "- %s\n", c)
		}
	}
	if a.Timeline != "" {
		fmt.Fprintf(&sb, "Timeline: %s\n", a.Timeline)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderSnapshot(actions []domain.Action) string {
	if len(actions) == 0 {
		return "## Open actions\nNone yet."
	}
	sorted := append([]domain.Action(nil), actions...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt != sorted[j].CreatedAt {
			return sorted[i].CreatedAt < sorted[j].CreatedAt
		}
		return sorted[i].ID < sorted[j].ID
	})
	var sb strings.Builder
	sb.WriteString("## Open actions\n")
	for _, a := range sorted {
		fmt.Fprintf(&sb, "- [%s] %s (%s, %s priority", a.ID, a.Title, a.State, a.Priority)
		if a.ScheduledFor != nil {
			fmt.Fprintf(&sb, ", scheduled %s", *a.ScheduledFor)
		}
		sb.WriteString(")\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderActionContext(a domain.Action) string {
	var sb strings.Builder
	sb.WriteString("## Current action\n")
	fmt.Fprintf(&sb, "ID: %s\nTitle: %s\nState: %s\nType: %s\n", a.ID, a.Title, a.State, a.TaskType)
	if a.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", a.Description)
	}
	if a.TaskConfig.Instructions != "" {
		fmt.Fprintf(&sb, "Instructions: %s\n", a.TaskConfig.Instructions)
	}
	if a.TaskConfig.ExpectedOutput != "" {
		fmt.Fprintf(&sb, "Expected output: %s\n", a.TaskConfig.ExpectedOutput)
	}
	if len(a.TaskConfig.Dimensions) > 0 {
		fmt.Fprintf(&sb, "Score these dimensions: %s\n", strings.Join(a.TaskConfig.Dimensions, ", "))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderReviewContext(r Review) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Review batch %s\n", r.BatchID)
	sb.WriteString("The user is reviewing these drafts. Use submit_draft_review to record each decision.\n")
	for _, d := range r.Drafts {
		if d.Status != domain.DraftPending {
			continue
		}
		fmt.Fprintf(&sb, "- [%s] %s\n", d.ID, d.Title)
	}
	return strings.TrimRight(sb.String(), "\n")
}
