package repo

import (
	"context"
	"errors"

	"agentline/internal/domain"
)

var ErrNotFound = errors.New("not found")

type ActionFilter struct {
	UserID  string
	AgentID string
	States  []string
	Limit   int
}

type NoteFilter struct {
	UserID   string
	AgentID  string
	ActionID string
	Limit    int
}

type DraftFilter struct {
	UserID  string
	AgentID string
	BatchID string
	Status  string
	Limit   int
}

type EventFilter struct {
	UserID  string
	AgentID string
	AfterID int64
	Limit   int
}

// Store is the document-store port. Methods are single-record reads and
// writes; InTx groups several into one unit where the backend supports it.
type Store interface {
	InTx(ctx context.Context, fn func(Store) error) error

	InsertAgent(ctx context.Context, a domain.Agent) error
	GetAgent(ctx context.Context, id string) (domain.Agent, error)
	ListAgents(ctx context.Context, userID string) ([]domain.Agent, error)
	UpdateAgent(ctx context.Context, a domain.Agent) error
	IncrementAgentMetrics(ctx context.Context, agentID string, d domain.MetricsDelta) error

	InsertAction(ctx context.Context, a domain.Action) error
	GetAction(ctx context.Context, id string) (domain.Action, error)
	UpdateAction(ctx context.Context, a domain.Action) error
	ListActions(ctx context.Context, f ActionFilter) ([]domain.Action, error)

	InsertNote(ctx context.Context, n domain.Note) error
	GetNote(ctx context.Context, id string) (domain.Note, error)
	UpdateNote(ctx context.Context, n domain.Note) error
	ListNotes(ctx context.Context, f NoteFilter) ([]domain.Note, error)

	InsertDraft(ctx context.Context, d domain.Draft) error
	GetDraft(ctx context.Context, id string) (domain.Draft, error)
	UpdateDraft(ctx context.Context, d domain.Draft) error
	ListDrafts(ctx context.Context, f DraftFilter) ([]domain.Draft, error)

	InsertAsset(ctx context.Context, a domain.Asset) error
	ListAssets(ctx context.Context, agentID string, limit int) ([]domain.Asset, error)

	InsertMeasurement(ctx context.Context, m domain.Measurement) error
	ListMeasurements(ctx context.Context, agentID string, limit int) ([]domain.Measurement, error)

	AppendEvent(ctx context.Context, evt domain.Event) error
	ListEvents(ctx context.Context, f EventFilter) ([]domain.Event, error)

	InsertInvocationLog(ctx context.Context, l domain.InvocationLog) error
	GetInvocationLog(ctx context.Context, id string) (domain.InvocationLog, error)
	ListInvocationLogs(ctx context.Context, agentID string, limit int) ([]domain.InvocationLog, error)

	InsertAPIKey(ctx context.Context, key domain.APIKey) error
	GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error)
	ListAPIKeys(ctx context.Context, userID string) ([]domain.APIKey, error)
	DeleteAPIKey(ctx context.Context, id string) error
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 500
	}
	return limit
}
