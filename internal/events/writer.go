package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"agentline/internal/domain"
)

// Event types appended by the lifecycle.
const (
	AgentCreated      = "agent.created"
	AgentUpdated      = "agent.updated"
	ActionDefined     = "action.defined"
	ActionStarted     = "action.started"
	ActionUpdated     = "action.updated"
	ActionCompleted   = "action.completed"
	ActionDismissed   = "action.dismissed"
	ActionRecurred    = "action.recurred"
	NoteCreated       = "note.created"
	NoteUpdated       = "note.updated"
	DraftCreated      = "draft.created"
	DraftReviewed     = "draft.reviewed"
	AssetSaved        = "asset.saved"
	MeasurementStored = "measurement.stored"
)

type Payload map[string]any

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Writer struct {
	Now func() time.Time
}

// Build stamps and encodes an event without storing it.
func (w Writer) Build(evtType, agentID, entityKind, entityID, userID string, payload Payload) (domain.Event, error) {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return domain.Event{}, fmt.Errorf("marshal event payload: %w", err)
	}
	return domain.Event{
		TS:         now().UTC().Format(time.RFC3339),
		Type:       evtType,
		AgentID:    agentID,
		EntityKind: entityKind,
		EntityID:   entityID,
		UserID:     userID,
		Payload:    string(data),
	}, nil
}

// Insert writes a built event through exec, typically a transaction.
func (w Writer) Insert(ctx context.Context, exec Execer, evt domain.Event) error {
	if evt.TS == "" {
		evt.TS = time.Now().UTC().Format(time.RFC3339)
	}
	if evt.Payload == "" {
		evt.Payload = "{}"
	}
	_, err := exec.ExecContext(ctx, `INSERT INTO events(ts,type,agent_id,entity_kind,entity_id,user_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		evt.TS, evt.Type, nullable(evt.AgentID), evt.EntityKind, nullable(evt.EntityID), evt.UserID, evt.Payload)
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
