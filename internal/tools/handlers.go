package tools

import (
	"context"
	"fmt"

	"agentline/internal/domain"
	"agentline/internal/engine"
	"agentline/internal/repo"
)

// EngineHandlers executes tools through the lifecycle engine. Every method
// re-checks ownership through the engine; being offered a tool grants nothing.
type EngineHandlers struct {
	Engine  engine.Engine
	Sandbox *Sandbox
}

var _ Handlers = EngineHandlers{}

func (h EngineHandlers) GetActionDetails(ctx context.Context, call Call, in ActionIDInput) (any, error) {
	a, err := h.Engine.GetAction(ctx, call.UserID, in.ActionID)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (h EngineHandlers) UpdateAction(ctx context.Context, call Call, in UpdateActionInput) (any, error) {
	a, err := h.Engine.UpdateAction(ctx, call.UserID, in.ActionID, engine.ActionPatch{
		Title:       in.Updates.Title,
		Description: in.Updates.Description,
		Priority:    in.Updates.Priority,
		TaskConfig:  in.Updates.TaskConfig,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "action": a}, nil
}

func (h EngineHandlers) CompleteAction(ctx context.Context, call Call, in ActionIDInput) (any, error) {
	done, next, err := h.Engine.CompleteAction(ctx, call.UserID, in.ActionID)
	if err != nil {
		return nil, err
	}
	out := map[string]any{"success": true, "action": done}
	if next != nil {
		out["next_action"] = next
	}
	return out, nil
}

func (h EngineHandlers) CreateNote(ctx context.Context, call Call, in CreateNoteInput) (any, error) {
	actionID := in.ActionID
	if actionID == "" {
		actionID = call.ActionID
	}
	n, err := h.Engine.CreateNote(ctx, call.UserID, engine.NewNote{
		AgentID:  call.AgentID,
		ActionID: actionID,
		Title:    in.Title,
		Content:  in.Content,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "note": n}, nil
}

func (h EngineHandlers) GetNotes(ctx context.Context, call Call, in GetNotesInput) (any, error) {
	limit := in.Limit
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	notes, err := h.Engine.ListNotes(ctx, call.UserID, repo.NoteFilter{AgentID: call.AgentID, ActionID: in.ActionID, Limit: limit})
	if err != nil {
		return nil, err
	}
	if notes == nil {
		notes = []domain.Note{}
	}
	return map[string]any{"notes": notes}, nil
}

func (h EngineHandlers) UpdateNote(ctx context.Context, call Call, in UpdateNoteInput) (any, error) {
	n, err := h.Engine.UpdateNote(ctx, call.UserID, in.NoteID, in.Title, in.Content)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "note": n}, nil
}

func (h EngineHandlers) sandbox() (*Sandbox, error) {
	if h.Sandbox == nil {
		return nil, fmt.Errorf("%w: filesystem is not configured", ErrSandbox)
	}
	return h.Sandbox, nil
}

// agentWorkspace resolves the caller's agent before touching its directory.
func (h EngineHandlers) agentWorkspace(ctx context.Context, call Call) (*Sandbox, error) {
	sb, err := h.sandbox()
	if err != nil {
		return nil, err
	}
	if _, err := h.Engine.GetAgent(ctx, call.UserID, call.AgentID); err != nil {
		return nil, err
	}
	return sb, nil
}

func (h EngineHandlers) ReadFile(ctx context.Context, call Call, in PathInput) (any, error) {
	sb, err := h.agentWorkspace(ctx, call)
	if err != nil {
		return nil, err
	}
	content, err := sb.Read(call.AgentID, in.Path)
	if err != nil {
		return nil, err
	}
	return map[string]any{"path": in.Path, "content": content}, nil
}

func (h EngineHandlers) WriteFile(ctx context.Context, call Call, in WriteFileInput) (any, error) {
	sb, err := h.agentWorkspace(ctx, call)
	if err != nil {
		return nil, err
	}
	n, err := sb.Write(call.AgentID, in.Path, in.Content)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "path": in.Path, "bytes": n}, nil
}

func (h EngineHandlers) ListFiles(ctx context.Context, call Call, in PathInput) (any, error) {
	sb, err := h.agentWorkspace(ctx, call)
	if err != nil {
		return nil, err
	}
	entries, err := sb.List(call.AgentID, in.Path)
	if err != nil {
		return nil, err
	}
	return map[string]any{"path": in.Path, "entries": entries}, nil
}

func (h EngineHandlers) GetPendingDrafts(ctx context.Context, call Call, _ NoInput) (any, error) {
	drafts, err := h.Engine.ListDrafts(ctx, call.UserID, repo.DraftFilter{
		AgentID: call.AgentID,
		BatchID: call.ReviewBatchID,
		Status:  domain.DraftPending,
	})
	if err != nil {
		return nil, err
	}
	if drafts == nil {
		drafts = []domain.Draft{}
	}
	return map[string]any{"batch_id": call.ReviewBatchID, "drafts": drafts}, nil
}

// SubmitDraftReview only reviews drafts the turn offered: the agent's own,
// and within the review batch when one is attached.
func (h EngineHandlers) SubmitDraftReview(ctx context.Context, call Call, in DraftReviewInput) (any, error) {
	current, err := h.Engine.GetDraft(ctx, call.UserID, in.DraftID)
	if err != nil {
		return nil, err
	}
	if current.AgentID != call.AgentID {
		return nil, engine.ValidationError{Field: "draft_id", Message: fmt.Sprintf("draft %s belongs to another agent", in.DraftID)}
	}
	if call.ReviewBatchID != "" && current.BatchID != call.ReviewBatchID {
		return nil, engine.ValidationError{Field: "draft_id", Message: fmt.Sprintf("draft %s is not in review batch %s", in.DraftID, call.ReviewBatchID)}
	}
	d, err := h.Engine.ReviewDraft(ctx, call.UserID, in.DraftID, engine.DraftReview{
		Decision: in.Decision,
		Feedback: in.Feedback,
		Revision: in.Revision,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "draft": d}, nil
}
