package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"agentline/internal/domain"
	"agentline/internal/engine/auth"
	"agentline/internal/events"
	"agentline/internal/repo"
)

// NewAction holds the fields a proposal or a caller supplies for an action.
type NewAction struct {
	AgentID      string
	ProjectID    string
	Title        string
	Description  string
	Priority     string
	TaskType     string
	TaskConfig   domain.TaskConfig
	ScheduledFor *string
}

// ProposeAction returns an unpersisted draft action. Nothing is written.
func (e Engine) ProposeAction(userID string, in NewAction) (domain.Action, error) {
	if in.Priority == "" {
		in.Priority = "medium"
	}
	if in.TaskType == "" {
		in.TaskType = domain.TaskInteractive
	}
	a := domain.Action{
		ID:           domain.NewID(domain.PrefixAction),
		UserID:       userID,
		AgentID:      in.AgentID,
		ProjectID:    in.ProjectID,
		Title:        strings.TrimSpace(in.Title),
		Description:  in.Description,
		Priority:     in.Priority,
		TaskType:     in.TaskType,
		State:        domain.StateDraft,
		TaskConfig:   in.TaskConfig,
		ScheduledFor: in.ScheduledFor,
	}
	if err := validateActionFields(a); err != nil {
		return domain.Action{}, err
	}
	return a, nil
}

func validateActionFields(a domain.Action) error {
	if err := requireText("title", a.Title); err != nil {
		return err
	}
	if !validPriority(a.Priority) {
		return ValidationError{Field: "priority", Message: fmt.Sprintf("must be low, medium or high, got %q", a.Priority)}
	}
	if !validTaskType(a.TaskType) {
		return ValidationError{Field: "task_type", Message: fmt.Sprintf("unknown task type %q", a.TaskType)}
	}
	if a.ScheduledFor != nil {
		if _, err := time.Parse(time.RFC3339, *a.ScheduledFor); err != nil {
			return ValidationError{Field: "scheduled_for", Message: "must be RFC3339"}
		}
	}
	if r := a.TaskConfig.Recurrence; r != nil {
		if r.Frequency != "daily" {
			return ValidationError{Field: "task_config.recurrence.frequency", Message: fmt.Sprintf("unsupported frequency %q", r.Frequency)}
		}
		if r.Time != "" {
			if _, _, err := parseClock(r.Time); err != nil {
				return ValidationError{Field: "task_config.recurrence.time", Message: err.Error()}
			}
		}
	}
	return nil
}

// DefineAction persists a draft. It lands in scheduled when a schedule time
// is set and in open otherwise, and bumps the agent's total counter.
func (e Engine) DefineAction(ctx context.Context, userID string, draft domain.Action) (domain.Action, error) {
	if draft.State != "" && draft.State != domain.StateDraft {
		return domain.Action{}, TransitionError{From: draft.State, To: domain.StateOpen}
	}
	if draft.ID == "" {
		draft.ID = domain.NewID(domain.PrefixAction)
	}
	if err := auth.CheckID(domain.PrefixAction, draft.ID); err != nil {
		return domain.Action{}, err
	}
	if draft.UserID == "" {
		draft.UserID = userID
	}
	if err := auth.EnsureOwner(domain.PrefixAction, draft.ID, draft.UserID, userID); err != nil {
		return domain.Action{}, err
	}
	if draft.Priority == "" {
		draft.Priority = "medium"
	}
	if draft.TaskType == "" {
		draft.TaskType = domain.TaskInteractive
	}
	if err := validateActionFields(draft); err != nil {
		return domain.Action{}, err
	}
	target := domain.StateOpen
	if draft.ScheduledFor != nil {
		target = domain.StateScheduled
	}
	if err := ensureActionTransition(domain.StateDraft, target); err != nil {
		return domain.Action{}, err
	}
	now := e.stamp()
	a := draft
	a.State = target
	a.CreatedAt = now
	a.UpdatedAt = now
	a.StartedAt, a.CompletedAt, a.DismissedAt = nil, nil, nil
	a.DismissReason = ""

	err := e.Store.InTx(ctx, func(s repo.Store) error {
		if a.AgentID != "" {
			agent, err := s.GetAgent(ctx, a.AgentID)
			if err := auth.Owned(domain.PrefixAgent, a.AgentID, agent.UserID, userID, err); err != nil {
				return err
			}
		}
		if err := s.InsertAction(ctx, a); err != nil {
			return fmt.Errorf("insert action: %w", err)
		}
		if a.AgentID != "" {
			if err := s.IncrementAgentMetrics(ctx, a.AgentID, domain.MetricsDelta{TotalActions: 1}); err != nil {
				return fmt.Errorf("increment agent metrics: %w", err)
			}
		}
		return e.appendEvent(ctx, s, events.ActionDefined, a.AgentID, "action", a.ID, userID, events.Payload{
			"state": a.State, "title": a.Title, "task_type": a.TaskType,
		})
	})
	if err != nil {
		return domain.Action{}, err
	}
	return a, nil
}

// GetAction loads an action after verifying the caller owns it.
func (e Engine) GetAction(ctx context.Context, userID, id string) (domain.Action, error) {
	if err := auth.CheckID(domain.PrefixAction, id); err != nil {
		return domain.Action{}, err
	}
	a, err := e.Store.GetAction(ctx, id)
	if err := auth.Owned(domain.PrefixAction, id, a.UserID, userID, err); err != nil {
		return domain.Action{}, err
	}
	return a, nil
}

func (e Engine) ListActions(ctx context.Context, userID string, f repo.ActionFilter) ([]domain.Action, error) {
	f.UserID = userID
	return e.Store.ListActions(ctx, f)
}

// OpenActions lists an agent's non-terminal persisted actions.
func (e Engine) OpenActions(ctx context.Context, userID, agentID string) ([]domain.Action, error) {
	return e.Store.ListActions(ctx, repo.ActionFilter{
		UserID:  userID,
		AgentID: agentID,
		States:  []string{domain.StateOpen, domain.StateScheduled, domain.StateInProgress},
	})
}

// StartAction moves an open or scheduled action to in_progress.
func (e Engine) StartAction(ctx context.Context, userID, id string) (domain.Action, error) {
	var out domain.Action
	err := e.Store.InTx(ctx, func(s repo.Store) error {
		a, err := e.loadOwned(ctx, s, userID, id)
		if err != nil {
			return err
		}
		if err := ensureActionTransition(a.State, domain.StateInProgress); err != nil {
			return err
		}
		now := e.stamp()
		a.State = domain.StateInProgress
		a.UpdatedAt = now
		if a.StartedAt == nil {
			a.StartedAt = &now
		}
		if err := s.UpdateAction(ctx, a); err != nil {
			return err
		}
		if err := e.bumpAgent(ctx, s, a.AgentID, domain.MetricsDelta{InProgressActions: 1}); err != nil {
			return err
		}
		out = a
		return e.appendEvent(ctx, s, events.ActionStarted, a.AgentID, "action", a.ID, userID, events.Payload{"started_at": now})
	})
	return out, err
}

// CompleteAction marks an action completed and, for daily recurrence,
// schedules its next occurrence. Completing a terminal action is an error.
func (e Engine) CompleteAction(ctx context.Context, userID, id string) (domain.Action, *domain.Action, error) {
	var (
		out     domain.Action
		spawned *domain.Action
	)
	err := e.Store.InTx(ctx, func(s repo.Store) error {
		a, err := e.loadOwned(ctx, s, userID, id)
		if err != nil {
			return err
		}
		if err := ensureActionTransition(a.State, domain.StateCompleted); err != nil {
			return err
		}
		delta := domain.MetricsDelta{CompletedActions: 1}
		if a.State == domain.StateInProgress {
			delta.InProgressActions = -1
		}
		now := e.now()
		stamp := now.Format(time.RFC3339)
		a.State = domain.StateCompleted
		a.CompletedAt = &stamp
		a.UpdatedAt = stamp
		if err := s.UpdateAction(ctx, a); err != nil {
			return err
		}
		if err := e.appendEvent(ctx, s, events.ActionCompleted, a.AgentID, "action", a.ID, userID, events.Payload{"completed_at": stamp}); err != nil {
			return err
		}
		if next, ok := nextOccurrence(a, now); ok {
			n := recurrenceOf(a, next, stamp)
			if err := s.InsertAction(ctx, n); err != nil {
				return fmt.Errorf("insert recurrence: %w", err)
			}
			delta.TotalActions++
			if err := e.appendEvent(ctx, s, events.ActionRecurred, n.AgentID, "action", n.ID, userID, events.Payload{
				"recurred_from": a.ID, "scheduled_for": *n.ScheduledFor,
			}); err != nil {
				return err
			}
			spawned = &n
		}
		out = a
		return e.bumpAgent(ctx, s, a.AgentID, delta)
	})
	if err != nil {
		return domain.Action{}, nil, err
	}
	if spawned != nil {
		e.logger().Info("recurring action scheduled",
			zap.String("action_id", out.ID),
			zap.String("next_id", spawned.ID),
			zap.String("scheduled_for", *spawned.ScheduledFor))
	}
	return out, spawned, nil
}

// DismissAction closes an action without completing it. reason is required.
func (e Engine) DismissAction(ctx context.Context, userID, id, reason string) (domain.Action, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.Action{}, ValidationError{Field: "reason", Message: "is required to dismiss an action"}
	}
	var out domain.Action
	err := e.Store.InTx(ctx, func(s repo.Store) error {
		a, err := e.loadOwned(ctx, s, userID, id)
		if err != nil {
			return err
		}
		if err := ensureActionTransition(a.State, domain.StateDismissed); err != nil {
			return err
		}
		delta := domain.MetricsDelta{DismissedActions: 1}
		if a.State == domain.StateInProgress {
			delta.InProgressActions = -1
		}
		now := e.stamp()
		a.State = domain.StateDismissed
		a.DismissReason = reason
		a.DismissedAt = &now
		a.UpdatedAt = now
		if err := s.UpdateAction(ctx, a); err != nil {
			return err
		}
		if err := e.bumpAgent(ctx, s, a.AgentID, delta); err != nil {
			return err
		}
		out = a
		return e.appendEvent(ctx, s, events.ActionDismissed, a.AgentID, "action", a.ID, userID, events.Payload{"reason": reason})
	})
	return out, err
}

// ActionPatch lists updatable fields; nil means unchanged.
type ActionPatch struct {
	Title        *string
	Description  *string
	Priority     *string
	TaskConfig   *domain.TaskConfig
	ScheduledFor *string
}

func (p ActionPatch) empty() bool {
	return p.Title == nil && p.Description == nil && p.Priority == nil && p.TaskConfig == nil && p.ScheduledFor == nil
}

// UpdateAction edits a non-terminal action's content fields.
func (e Engine) UpdateAction(ctx context.Context, userID, id string, patch ActionPatch) (domain.Action, error) {
	if patch.empty() {
		return domain.Action{}, ValidationError{Field: "updates", Message: "no fields to update"}
	}
	var out domain.Action
	err := e.Store.InTx(ctx, func(s repo.Store) error {
		a, err := e.loadOwned(ctx, s, userID, id)
		if err != nil {
			return err
		}
		if a.Terminal() {
			return fmt.Errorf("%w: cannot update %s action %s", ErrTerminalState, a.State, a.ID)
		}
		var changed []string
		if patch.Title != nil {
			a.Title = strings.TrimSpace(*patch.Title)
			changed = append(changed, "title")
		}
		if patch.Description != nil {
			a.Description = *patch.Description
			changed = append(changed, "description")
		}
		if patch.Priority != nil {
			a.Priority = *patch.Priority
			changed = append(changed, "priority")
		}
		if patch.TaskConfig != nil {
			a.TaskConfig = *patch.TaskConfig
			changed = append(changed, "task_config")
		}
		if patch.ScheduledFor != nil {
			if *patch.ScheduledFor == "" {
				a.ScheduledFor = nil
			} else {
				a.ScheduledFor = patch.ScheduledFor
			}
			changed = append(changed, "scheduled_for")
			if a.State == domain.StateOpen && a.ScheduledFor != nil {
				a.State = domain.StateScheduled
			}
		}
		if err := validateActionFields(a); err != nil {
			return err
		}
		a.UpdatedAt = e.stamp()
		if err := s.UpdateAction(ctx, a); err != nil {
			return err
		}
		out = a
		return e.appendEvent(ctx, s, events.ActionUpdated, a.AgentID, "action", a.ID, userID, events.Payload{"fields": changed})
	})
	return out, err
}

// RecordActionUsage adds one turn's model usage to the action's counters.
func (e Engine) RecordActionUsage(ctx context.Context, actionID string, calls, input, output int64, cost float64) error {
	return e.Store.InTx(ctx, func(s repo.Store) error {
		a, err := s.GetAction(ctx, actionID)
		if err != nil {
			return err
		}
		a.APICalls += calls
		a.InputTokens += input
		a.OutputTokens += output
		a.CostUSD += cost
		return s.UpdateAction(ctx, a)
	})
}

func (e Engine) loadOwned(ctx context.Context, s repo.Store, userID, id string) (domain.Action, error) {
	if err := auth.CheckID(domain.PrefixAction, id); err != nil {
		return domain.Action{}, err
	}
	a, err := s.GetAction(ctx, id)
	if err := auth.Owned(domain.PrefixAction, id, a.UserID, userID, err); err != nil {
		return domain.Action{}, err
	}
	return a, nil
}

func (e Engine) bumpAgent(ctx context.Context, s repo.Store, agentID string, d domain.MetricsDelta) error {
	if agentID == "" {
		return nil
	}
	if err := s.IncrementAgentMetrics(ctx, agentID, d); err != nil {
		return fmt.Errorf("increment agent metrics: %w", err)
	}
	return nil
}

func ensureActionTransition(from, to string) error {
	switch from {
	case domain.StateCompleted, domain.StateDismissed:
		return fmt.Errorf("%w: %s -> %s", ErrTerminalState, from, to)
	case domain.StateDraft:
		if to == domain.StateOpen || to == domain.StateScheduled {
			return nil
		}
	case domain.StateOpen:
		if to == domain.StateScheduled || to == domain.StateInProgress || to == domain.StateCompleted || to == domain.StateDismissed {
			return nil
		}
	case domain.StateScheduled:
		if to == domain.StateInProgress || to == domain.StateCompleted || to == domain.StateDismissed {
			return nil
		}
	case domain.StateInProgress:
		if to == domain.StateCompleted || to == domain.StateDismissed {
			return nil
		}
	}
	return TransitionError{From: from, To: to}
}
