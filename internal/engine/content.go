package engine

import (
	"context"
	"fmt"
	"math"
	"strings"

	"agentline/internal/domain"
	"agentline/internal/engine/auth"
	"agentline/internal/events"
	"agentline/internal/repo"
)

type NewNote struct {
	AgentID  string
	ActionID string
	Title    string
	Content  string
}

func (e Engine) CreateNote(ctx context.Context, userID string, in NewNote) (domain.Note, error) {
	if err := requireText("agent_id", in.AgentID); err != nil {
		return domain.Note{}, err
	}
	if err := requireText("content", in.Content); err != nil {
		return domain.Note{}, err
	}
	now := e.stamp()
	n := domain.Note{
		ID:        domain.NewID(domain.PrefixNote),
		UserID:    userID,
		AgentID:   in.AgentID,
		ActionID:  in.ActionID,
		Title:     strings.TrimSpace(in.Title),
		Content:   in.Content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := e.Store.InTx(ctx, func(s repo.Store) error {
		if err := auth.CheckID(domain.PrefixAgent, n.AgentID); err != nil {
			return err
		}
		agent, err := s.GetAgent(ctx, n.AgentID)
		if err := auth.Owned(domain.PrefixAgent, n.AgentID, agent.UserID, userID, err); err != nil {
			return err
		}
		if err := e.checkActionRef(ctx, s, userID, n.AgentID, n.ActionID); err != nil {
			return err
		}
		if err := s.InsertNote(ctx, n); err != nil {
			return fmt.Errorf("insert note: %w", err)
		}
		return e.appendEvent(ctx, s, events.NoteCreated, n.AgentID, "note", n.ID, userID, nil)
	})
	if err != nil {
		return domain.Note{}, err
	}
	return n, nil
}

func (e Engine) GetNote(ctx context.Context, userID, id string) (domain.Note, error) {
	if err := auth.CheckID(domain.PrefixNote, id); err != nil {
		return domain.Note{}, err
	}
	n, err := e.Store.GetNote(ctx, id)
	if err := auth.Owned(domain.PrefixNote, id, n.UserID, userID, err); err != nil {
		return domain.Note{}, err
	}
	return n, nil
}

func (e Engine) UpdateNote(ctx context.Context, userID, id string, title, content *string) (domain.Note, error) {
	if title == nil && content == nil {
		return domain.Note{}, ValidationError{Field: "updates", Message: "no fields to update"}
	}
	n, err := e.GetNote(ctx, userID, id)
	if err != nil {
		return domain.Note{}, err
	}
	if title != nil {
		n.Title = strings.TrimSpace(*title)
	}
	if content != nil {
		if err := requireText("content", *content); err != nil {
			return domain.Note{}, err
		}
		n.Content = *content
	}
	n.UpdatedAt = e.stamp()
	err = e.Store.InTx(ctx, func(s repo.Store) error {
		if err := s.UpdateNote(ctx, n); err != nil {
			return err
		}
		return e.appendEvent(ctx, s, events.NoteUpdated, n.AgentID, "note", n.ID, userID, nil)
	})
	return n, err
}

// checkActionRef verifies an optional action reference is owned by userID
// and, when agentID is set, belongs to that agent.
func (e Engine) checkActionRef(ctx context.Context, s repo.Store, userID, agentID, actionID string) error {
	if actionID == "" {
		return nil
	}
	act, err := e.loadOwned(ctx, s, userID, actionID)
	if err != nil {
		return err
	}
	if agentID != "" && act.AgentID != agentID {
		return ValidationError{Field: "action_id", Message: fmt.Sprintf("action %s belongs to another agent", actionID)}
	}
	return nil
}

func (e Engine) ListNotes(ctx context.Context, userID string, f repo.NoteFilter) ([]domain.Note, error) {
	f.UserID = userID
	return e.Store.ListNotes(ctx, f)
}

type NewDraft struct {
	AgentID  string
	ActionID string
	BatchID  string
	Title    string
	Content  string
}

func (e Engine) CreateDraft(ctx context.Context, userID string, in NewDraft) (domain.Draft, error) {
	if err := requireText("title", in.Title); err != nil {
		return domain.Draft{}, err
	}
	if err := requireText("content", in.Content); err != nil {
		return domain.Draft{}, err
	}
	if _, err := e.GetAgent(ctx, userID, in.AgentID); err != nil {
		return domain.Draft{}, err
	}
	d := domain.Draft{
		ID:        domain.NewID(domain.PrefixDraft),
		UserID:    userID,
		AgentID:   in.AgentID,
		ActionID:  in.ActionID,
		BatchID:   in.BatchID,
		Title:     in.Title,
		Content:   in.Content,
		Status:    domain.DraftPending,
		CreatedAt: e.stamp(),
	}
	err := e.Store.InTx(ctx, func(s repo.Store) error {
		if err := e.checkActionRef(ctx, s, userID, d.AgentID, d.ActionID); err != nil {
			return err
		}
		if err := s.InsertDraft(ctx, d); err != nil {
			return fmt.Errorf("insert draft: %w", err)
		}
		return e.appendEvent(ctx, s, events.DraftCreated, d.AgentID, "draft", d.ID, userID, events.Payload{"batch_id": d.BatchID})
	})
	if err != nil {
		return domain.Draft{}, err
	}
	return d, nil
}

// DraftReview is a reviewer's verdict on one pending draft.
type DraftReview struct {
	Decision string
	Feedback string
	Revision string
}

// ReviewDraft records a verdict. Only pending drafts can be reviewed, and a
// revise verdict must carry the revised content.
func (e Engine) ReviewDraft(ctx context.Context, userID, id string, r DraftReview) (domain.Draft, error) {
	if err := auth.CheckID(domain.PrefixDraft, id); err != nil {
		return domain.Draft{}, err
	}
	var status string
	switch r.Decision {
	case "approve":
		status = domain.DraftApproved
	case "reject":
		status = domain.DraftRejected
	case "revise":
		if err := requireText("revision", r.Revision); err != nil {
			return domain.Draft{}, err
		}
		status = domain.DraftRevised
	default:
		return domain.Draft{}, ValidationError{Field: "decision", Message: "must be approve, reject or revise"}
	}
	var out domain.Draft
	err := e.Store.InTx(ctx, func(s repo.Store) error {
		d, err := s.GetDraft(ctx, id)
		if err := auth.Owned(domain.PrefixDraft, id, d.UserID, userID, err); err != nil {
			return err
		}
		if d.Status != domain.DraftPending {
			return fmt.Errorf("draft %s already %s: %w", d.ID, d.Status, ErrTerminalState)
		}
		now := e.stamp()
		d.Status = status
		d.Feedback = r.Feedback
		d.Revision = r.Revision
		d.ReviewedAt = &now
		if err := s.UpdateDraft(ctx, d); err != nil {
			return err
		}
		out = d
		return e.appendEvent(ctx, s, events.DraftReviewed, d.AgentID, "draft", d.ID, userID, events.Payload{"status": status})
	})
	return out, err
}

func (e Engine) GetDraft(ctx context.Context, userID, id string) (domain.Draft, error) {
	if err := auth.CheckID(domain.PrefixDraft, id); err != nil {
		return domain.Draft{}, err
	}
	d, err := e.Store.GetDraft(ctx, id)
	if err := auth.Owned(domain.PrefixDraft, id, d.UserID, userID, err); err != nil {
		return domain.Draft{}, err
	}
	return d, nil
}

func (e Engine) ListDrafts(ctx context.Context, userID string, f repo.DraftFilter) ([]domain.Draft, error) {
	f.UserID = userID
	return e.Store.ListDrafts(ctx, f)
}

func validAssetType(t string) bool {
	switch t {
	case "markdown", "code", "text", "prompt":
		return true
	}
	return false
}

// SaveAsset persists a generated asset the user chose to keep.
func (e Engine) SaveAsset(ctx context.Context, userID string, a domain.Asset) (domain.Asset, error) {
	if err := requireText("title", a.Title); err != nil {
		return domain.Asset{}, err
	}
	if err := requireText("content", a.Content); err != nil {
		return domain.Asset{}, err
	}
	if !validAssetType(a.Type) {
		return domain.Asset{}, ValidationError{Field: "type", Message: fmt.Sprintf("unknown asset type %q", a.Type)}
	}
	if a.AgentID != "" {
		if _, err := e.GetAgent(ctx, userID, a.AgentID); err != nil {
			return domain.Asset{}, err
		}
	}
	if a.ID == "" {
		a.ID = domain.NewID(domain.PrefixAsset)
	}
	a.UserID = userID
	a.CreatedAt = e.stamp()
	err := e.Store.InTx(ctx, func(s repo.Store) error {
		if err := e.checkActionRef(ctx, s, userID, a.AgentID, a.ActionID); err != nil {
			return err
		}
		if err := s.InsertAsset(ctx, a); err != nil {
			return fmt.Errorf("insert asset: %w", err)
		}
		return e.appendEvent(ctx, s, events.AssetSaved, a.AgentID, "asset", a.ID, userID, events.Payload{"type": a.Type})
	})
	if err != nil {
		return domain.Asset{}, err
	}
	return a, nil
}

func (e Engine) ListAssets(ctx context.Context, userID, agentID string, limit int) ([]domain.Asset, error) {
	if _, err := e.GetAgent(ctx, userID, agentID); err != nil {
		return nil, err
	}
	return e.Store.ListAssets(ctx, agentID, limit)
}

// RecordMeasurement persists scored dimensions for an agent.
func (e Engine) RecordMeasurement(ctx context.Context, userID string, m domain.Measurement) (domain.Measurement, error) {
	if len(m.Dimensions) == 0 {
		return domain.Measurement{}, ValidationError{Field: "dimensions", Message: "at least one dimension is required"}
	}
	for i, d := range m.Dimensions {
		if strings.TrimSpace(d.Name) == "" {
			return domain.Measurement{}, ValidationError{Field: fmt.Sprintf("dimensions[%d].name", i), Message: "is required"}
		}
		if math.IsNaN(d.Score) || math.IsInf(d.Score, 0) {
			return domain.Measurement{}, ValidationError{Field: fmt.Sprintf("dimensions[%d].score", i), Message: "must be a finite number"}
		}
	}
	if _, err := e.GetAgent(ctx, userID, m.AgentID); err != nil {
		return domain.Measurement{}, err
	}
	m.ID = domain.NewID(domain.PrefixMeasurement)
	m.UserID = userID
	m.CreatedAt = e.stamp()
	err := e.Store.InTx(ctx, func(s repo.Store) error {
		if err := e.checkActionRef(ctx, s, userID, m.AgentID, m.ActionID); err != nil {
			return err
		}
		if err := s.InsertMeasurement(ctx, m); err != nil {
			return fmt.Errorf("insert measurement: %w", err)
		}
		return e.appendEvent(ctx, s, events.MeasurementStored, m.AgentID, "measurement", m.ID, userID, events.Payload{
			"dimensions": len(m.Dimensions), "action_id": m.ActionID,
		})
	})
	if err != nil {
		return domain.Measurement{}, err
	}
	return m, nil
}

func (e Engine) ListMeasurements(ctx context.Context, userID, agentID string, limit int) ([]domain.Measurement, error) {
	if _, err := e.GetAgent(ctx, userID, agentID); err != nil {
		return nil, err
	}
	return e.Store.ListMeasurements(ctx, agentID, limit)
}

func (e Engine) ListInvocationLogs(ctx context.Context, userID, agentID string, limit int) ([]domain.InvocationLog, error) {
	if _, err := e.GetAgent(ctx, userID, agentID); err != nil {
		return nil, err
	}
	return e.Store.ListInvocationLogs(ctx, agentID, limit)
}

func (e Engine) GetInvocationLog(ctx context.Context, userID, id string) (domain.InvocationLog, error) {
	if err := auth.CheckID(domain.PrefixInvocation, id); err != nil {
		return domain.InvocationLog{}, err
	}
	l, err := e.Store.GetInvocationLog(ctx, id)
	if err := auth.Owned(domain.PrefixInvocation, id, l.UserID, userID, err); err != nil {
		return domain.InvocationLog{}, err
	}
	return l, nil
}
