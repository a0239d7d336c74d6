// Package tools defines the operations a model may request during a turn
// and executes them on behalf of the calling user.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"agentline/internal/domain"
)

type Name string

const (
	GetActionDetails  Name = "get_action_details"
	UpdateAction      Name = "update_action"
	CompleteAction    Name = "complete_action"
	CreateNote        Name = "create_note"
	GetNotes          Name = "get_notes"
	UpdateNote        Name = "update_note"
	ReadFile          Name = "read_file"
	WriteFile         Name = "write_file"
	ListFiles         Name = "list_files"
	GetPendingDrafts  Name = "get_pending_drafts"
	SubmitDraftReview Name = "submit_draft_review"
)

type group int

const (
	groupActions group = iota
	groupNotes
	groupFilesystem
	groupReview
)

type ActionIDInput struct {
	ActionID string `json:"action_id"`
}

type ActionUpdates struct {
	Title       *string            `json:"title,omitempty"`
	Description *string            `json:"description,omitempty"`
	Priority    *string            `json:"priority,omitempty"`
	TaskConfig  *domain.TaskConfig `json:"taskConfig,omitempty"`
}

type UpdateActionInput struct {
	ActionID string        `json:"action_id"`
	Updates  ActionUpdates `json:"updates"`
}

type CreateNoteInput struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	ActionID string `json:"action_id,omitempty"`
}

type GetNotesInput struct {
	ActionID string `json:"action_id,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

type UpdateNoteInput struct {
	NoteID  string  `json:"note_id"`
	Title   *string `json:"title,omitempty"`
	Content *string `json:"content,omitempty"`
}

type PathInput struct {
	Path string `json:"path"`
}

type WriteFileInput struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type NoInput struct{}

type DraftReviewInput struct {
	DraftID  string `json:"draft_id"`
	Decision string `json:"decision"`
	Feedback string `json:"feedback,omitempty"`
	Revision string `json:"revision,omitempty"`
}

// Handlers has one method per tool. The catalog binds each tool to its
// method by method expression, so a tool cannot exist without a handler.
type Handlers interface {
	GetActionDetails(ctx context.Context, call Call, in ActionIDInput) (any, error)
	UpdateAction(ctx context.Context, call Call, in UpdateActionInput) (any, error)
	CompleteAction(ctx context.Context, call Call, in ActionIDInput) (any, error)
	CreateNote(ctx context.Context, call Call, in CreateNoteInput) (any, error)
	GetNotes(ctx context.Context, call Call, in GetNotesInput) (any, error)
	UpdateNote(ctx context.Context, call Call, in UpdateNoteInput) (any, error)
	ReadFile(ctx context.Context, call Call, in PathInput) (any, error)
	WriteFile(ctx context.Context, call Call, in WriteFileInput) (any, error)
	ListFiles(ctx context.Context, call Call, in PathInput) (any, error)
	GetPendingDrafts(ctx context.Context, call Call, in NoInput) (any, error)
	SubmitDraftReview(ctx context.Context, call Call, in DraftReviewInput) (any, error)
}

type runner func(ctx context.Context, h Handlers, call Call, raw json.RawMessage) (any, error)

func bind[In any](method func(Handlers, context.Context, Call, In) (any, error)) runner {
	return func(ctx context.Context, h Handlers, call Call, raw json.RawMessage) (any, error) {
		var in In
		if len(raw) > 0 && string(raw) != "null" {
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, inputError{err: err}
			}
		}
		return method(h, ctx, call, in)
	}
}

type inputError struct{ err error }

func (e inputError) Error() string { return fmt.Sprintf("invalid input: %v", e.err) }

type definition struct {
	name        Name
	description string
	group       group
	schema      map[string]any
	run         runner
}

func object(required []string, props map[string]any) map[string]any {
	s := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func str(desc string) map[string]any { return map[string]any{"type": "string", "description": desc} }

var taskConfigSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"instructions":   str("How to carry out the action"),
		"expectedOutput": str("What a finished action produces"),
		"dimensions":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"recurrence": object([]string{"frequency"}, map[string]any{
			"frequency": map[string]any{"type": "string", "enum": []string{"daily"}},
			"time":      str("HH:MM in UTC"),
		}),
	},
}

// catalog is ordered; tool specs are emitted in this order so the prompt
// prefix stays stable between turns.
var catalog = []definition{
	{
		name:        GetActionDetails,
		description: "Fetch the full record of one of the user's actions.",
		group:       groupActions,
		schema:      object([]string{"action_id"}, map[string]any{"action_id": str("Action id, e.g. action-…")}),
		run:         bind(Handlers.GetActionDetails),
	},
	{
		name:        UpdateAction,
		description: "Change the title, description, priority or task configuration of an open action.",
		group:       groupActions,
		schema: object([]string{"action_id", "updates"}, map[string]any{
			"action_id": str("Action id"),
			"updates": object(nil, map[string]any{
				"title":       str("New title"),
				"description": str("New description"),
				"priority":    map[string]any{"type": "string", "enum": []string{"low", "medium", "high"}},
				"taskConfig":  taskConfigSchema,
			}),
		}),
		run: bind(Handlers.UpdateAction),
	},
	{
		name:        CompleteAction,
		description: "Mark an action as completed.",
		group:       groupActions,
		schema:      object([]string{"action_id"}, map[string]any{"action_id": str("Action id")}),
		run:         bind(Handlers.CompleteAction),
	},
	{
		name:        CreateNote,
		description: "Save a note for this agent, optionally linked to an action.",
		group:       groupNotes,
		schema: object([]string{"content"}, map[string]any{
			"title":     str("Short title"),
			"content":   str("Note body"),
			"action_id": str("Optional action id"),
		}),
		run: bind(Handlers.CreateNote),
	},
	{
		name:        GetNotes,
		description: "List recent notes for this agent.",
		group:       groupNotes,
		schema: object(nil, map[string]any{
			"action_id": str("Only notes linked to this action"),
			"limit":     map[string]any{"type": "integer", "minimum": 1, "maximum": 50},
		}),
		run: bind(Handlers.GetNotes),
	},
	{
		name:        UpdateNote,
		description: "Edit the title or content of a note.",
		group:       groupNotes,
		schema: object([]string{"note_id"}, map[string]any{
			"note_id": str("Note id, e.g. note-…"),
			"title":   str("New title"),
			"content": str("New content"),
		}),
		run: bind(Handlers.UpdateNote),
	},
	{
		name:        ReadFile,
		description: "Read a text file from the agent workspace.",
		group:       groupFilesystem,
		schema:      object([]string{"path"}, map[string]any{"path": str("Path relative to the workspace")}),
		run:         bind(Handlers.ReadFile),
	},
	{
		name:        WriteFile,
		description: "Create or overwrite a text file in the agent workspace.",
		group:       groupFilesystem,
		schema: object([]string{"path", "content"}, map[string]any{
			"path":    str("Path relative to the workspace"),
			"content": str("Full file content"),
		}),
		run: bind(Handlers.WriteFile),
	},
	{
		name:        ListFiles,
		description: "List entries of a directory in the agent workspace.",
		group:       groupFilesystem,
		schema:      object(nil, map[string]any{"path": str("Directory, defaults to the workspace root")}),
		run:         bind(Handlers.ListFiles),
	},
	{
		name:        GetPendingDrafts,
		description: "List drafts in the current review batch that still await a decision.",
		group:       groupReview,
		schema:      object(nil, map[string]any{}),
		run:         bind(Handlers.GetPendingDrafts),
	},
	{
		name:        SubmitDraftReview,
		description: "Approve, reject or revise one pending draft.",
		group:       groupReview,
		schema: object([]string{"draft_id", "decision"}, map[string]any{
			"draft_id": str("Draft id, e.g. draft-…"),
			"decision": map[string]any{"type": "string", "enum": []string{"approve", "reject", "revise"}},
			"feedback": str("Reviewer comment"),
			"revision": str("Revised content, required for revise"),
		}),
		run: bind(Handlers.SubmitDraftReview),
	},
}

var byName = func() map[Name]definition {
	m := make(map[Name]definition, len(catalog))
	for _, d := range catalog {
		if _, dup := m[d.name]; dup {
			panic("tools: duplicate tool " + string(d.name))
		}
		m[d.name] = d
	}
	return m
}()

// AllNames returns every tool in catalog order.
func AllNames() []Name {
	out := make([]Name, len(catalog))
	for i, d := range catalog {
		out[i] = d.name
	}
	return out
}
