package engine

import (
	"context"
	"fmt"
	"strings"

	"agentline/internal/domain"
	"agentline/internal/engine/auth"
	"agentline/internal/events"
	"agentline/internal/repo"
)

type NewAgent struct {
	Name            string
	Goal            string
	SuccessCriteria []string
	Timeline        string
	Capabilities    domain.Capabilities
}

// Proposal is a goal collected by the onboarding conversation.
type Proposal struct {
	Title           string   `json:"title"`
	Goal            string   `json:"goal"`
	SuccessCriteria []string `json:"success_criteria"`
	Timeline        string   `json:"timeline"`
}

func (e Engine) CreateAgent(ctx context.Context, userID string, in NewAgent) (domain.Agent, error) {
	if err := requireText("user_id", userID); err != nil {
		return domain.Agent{}, err
	}
	if err := requireText("name", in.Name); err != nil {
		return domain.Agent{}, err
	}
	now := e.stamp()
	a := domain.Agent{
		ID:              domain.NewID(domain.PrefixAgent),
		UserID:          userID,
		Name:            strings.TrimSpace(in.Name),
		Goal:            in.Goal,
		SuccessCriteria: in.SuccessCriteria,
		Timeline:        in.Timeline,
		Status:          "active",
		Capabilities:    in.Capabilities,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err := e.Store.InTx(ctx, func(s repo.Store) error {
		if err := s.InsertAgent(ctx, a); err != nil {
			return fmt.Errorf("insert agent: %w", err)
		}
		return e.appendEvent(ctx, s, events.AgentCreated, a.ID, "agent", a.ID, userID, events.Payload{"name": a.Name})
	})
	if err != nil {
		return domain.Agent{}, err
	}
	return a, nil
}

// CreateAgentFromProposal persists the goal agreed during onboarding.
func (e Engine) CreateAgentFromProposal(ctx context.Context, userID string, p Proposal, caps domain.Capabilities) (domain.Agent, error) {
	if err := requireText("goal", p.Goal); err != nil {
		return domain.Agent{}, err
	}
	return e.CreateAgent(ctx, userID, NewAgent{
		Name:            p.Title,
		Goal:            p.Goal,
		SuccessCriteria: p.SuccessCriteria,
		Timeline:        p.Timeline,
		Capabilities:    caps,
	})
}

func (e Engine) GetAgent(ctx context.Context, userID, id string) (domain.Agent, error) {
	if err := auth.CheckID(domain.PrefixAgent, id); err != nil {
		return domain.Agent{}, err
	}
	a, err := e.Store.GetAgent(ctx, id)
	if err := auth.Owned(domain.PrefixAgent, id, a.UserID, userID, err); err != nil {
		return domain.Agent{}, err
	}
	return a, nil
}

func (e Engine) ListAgents(ctx context.Context, userID string) ([]domain.Agent, error) {
	return e.Store.ListAgents(ctx, userID)
}

type AgentPatch struct {
	Name            *string
	Goal            *string
	SuccessCriteria *[]string
	Timeline        *string
	Status          *string
	Capabilities    *domain.Capabilities
}

func (e Engine) UpdateAgent(ctx context.Context, userID, id string, p AgentPatch) (domain.Agent, error) {
	a, err := e.GetAgent(ctx, userID, id)
	if err != nil {
		return domain.Agent{}, err
	}
	if p.Name != nil {
		if err := requireText("name", *p.Name); err != nil {
			return domain.Agent{}, err
		}
		a.Name = strings.TrimSpace(*p.Name)
	}
	if p.Goal != nil {
		a.Goal = *p.Goal
	}
	if p.SuccessCriteria != nil {
		a.SuccessCriteria = *p.SuccessCriteria
	}
	if p.Timeline != nil {
		a.Timeline = *p.Timeline
	}
	if p.Status != nil {
		switch *p.Status {
		case "active", "paused", "archived":
			a.Status = *p.Status
		default:
			return domain.Agent{}, ValidationError{Field: "status", Message: fmt.Sprintf("unknown agent status %q", *p.Status)}
		}
	}
	if p.Capabilities != nil {
		a.Capabilities = *p.Capabilities
	}
	a.UpdatedAt = e.stamp()
	err = e.Store.InTx(ctx, func(s repo.Store) error {
		if err := s.UpdateAgent(ctx, a); err != nil {
			return err
		}
		return e.appendEvent(ctx, s, events.AgentUpdated, a.ID, "agent", a.ID, userID, events.Payload{"status": a.Status})
	})
	return a, err
}

func (e Engine) SetAgentStatus(ctx context.Context, userID, id, status string) (domain.Agent, error) {
	return e.UpdateAgent(ctx, userID, id, AgentPatch{Status: &status})
}

// RecordUsage rolls a turn's model usage into the agent's counters.
func (e Engine) RecordUsage(ctx context.Context, agentID string, calls, input, output int64, cost float64) error {
	if agentID == "" {
		return nil
	}
	return e.Store.IncrementAgentMetrics(ctx, agentID, domain.MetricsDelta{
		APICalls:     calls,
		InputTokens:  input,
		OutputTokens: output,
		CostUSD:      cost,
	})
}
