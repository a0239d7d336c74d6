package mongostore

import (
	"context"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"agentline/internal/domain"
	"agentline/internal/repo"
)

func (s *Store) InsertAgent(ctx context.Context, a domain.Agent) error {
	return insertOne(ctx, s.col(ColAgents), a)
}

func (s *Store) GetAgent(ctx context.Context, id string) (domain.Agent, error) {
	return findOne[domain.Agent](ctx, s.col(ColAgents), byID(id))
}

func (s *Store) ListAgents(ctx context.Context, userID string) ([]domain.Agent, error) {
	filter := bson.D{}
	if userID != "" {
		filter = append(filter, bson.E{Key: "user_id", Value: userID})
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	return findMany[domain.Agent](ctx, s.col(ColAgents), filter, opts)
}

// UpdateAgent sets profile fields only; metrics move through IncrementAgentMetrics.
func (s *Store) UpdateAgent(ctx context.Context, a domain.Agent) error {
	res, err := s.col(ColAgents).UpdateOne(ctx, byID(a.ID), bson.D{{Key: "$set", Value: bson.D{
		{Key: "name", Value: a.Name},
		{Key: "goal", Value: a.Goal},
		{Key: "success_criteria", Value: a.SuccessCriteria},
		{Key: "timeline", Value: a.Timeline},
		{Key: "status", Value: a.Status},
		{Key: "capabilities", Value: a.Capabilities},
		{Key: "updated_at", Value: a.UpdatedAt},
	}}})
	if err != nil {
		return wrapError(err)
	}
	if res.MatchedCount == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *Store) IncrementAgentMetrics(ctx context.Context, agentID string, d domain.MetricsDelta) error {
	if d.IsZero() {
		return nil
	}
	res, err := s.col(ColAgents).UpdateOne(ctx, byID(agentID), bson.D{{Key: "$inc", Value: bson.D{
		{Key: "metrics.total_actions", Value: d.TotalActions},
		{Key: "metrics.completed_actions", Value: d.CompletedActions},
		{Key: "metrics.in_progress_actions", Value: d.InProgressActions},
		{Key: "metrics.dismissed_actions", Value: d.DismissedActions},
		{Key: "metrics.input_tokens", Value: d.InputTokens},
		{Key: "metrics.output_tokens", Value: d.OutputTokens},
		{Key: "metrics.cost_usd", Value: d.CostUSD},
		{Key: "metrics.api_calls", Value: d.APICalls},
	}}})
	if err != nil {
		return wrapError(err)
	}
	if res.MatchedCount == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *Store) InsertAction(ctx context.Context, a domain.Action) error {
	return insertOne(ctx, s.col(ColActions), a)
}

func (s *Store) GetAction(ctx context.Context, id string) (domain.Action, error) {
	return findOne[domain.Action](ctx, s.col(ColActions), byID(id))
}

func (s *Store) UpdateAction(ctx context.Context, a domain.Action) error {
	return replaceByID(ctx, s.col(ColActions), a.ID, a)
}

func (s *Store) ListActions(ctx context.Context, f repo.ActionFilter) ([]domain.Action, error) {
	filter := bson.D{}
	if f.UserID != "" {
		filter = append(filter, bson.E{Key: "user_id", Value: f.UserID})
	}
	if f.AgentID != "" {
		filter = append(filter, bson.E{Key: "agent_id", Value: f.AgentID})
	}
	if len(f.States) > 0 {
		filter = append(filter, bson.E{Key: "state", Value: bson.D{{Key: "$in", Value: f.States}}})
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(limitOpt(f.Limit))
	return findMany[domain.Action](ctx, s.col(ColActions), filter, opts)
}

func (s *Store) InsertNote(ctx context.Context, n domain.Note) error {
	return insertOne(ctx, s.col(ColNotes), n)
}

func (s *Store) GetNote(ctx context.Context, id string) (domain.Note, error) {
	return findOne[domain.Note](ctx, s.col(ColNotes), byID(id))
}

func (s *Store) UpdateNote(ctx context.Context, n domain.Note) error {
	return replaceByID(ctx, s.col(ColNotes), n.ID, n)
}

func (s *Store) ListNotes(ctx context.Context, f repo.NoteFilter) ([]domain.Note, error) {
	filter := bson.D{}
	if f.UserID != "" {
		filter = append(filter, bson.E{Key: "user_id", Value: f.UserID})
	}
	if f.AgentID != "" {
		filter = append(filter, bson.E{Key: "agent_id", Value: f.AgentID})
	}
	if f.ActionID != "" {
		filter = append(filter, bson.E{Key: "action_id", Value: f.ActionID})
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(limitOpt(f.Limit))
	return findMany[domain.Note](ctx, s.col(ColNotes), filter, opts)
}

func (s *Store) InsertDraft(ctx context.Context, d domain.Draft) error {
	return insertOne(ctx, s.col(ColDrafts), d)
}

func (s *Store) GetDraft(ctx context.Context, id string) (domain.Draft, error) {
	return findOne[domain.Draft](ctx, s.col(ColDrafts), byID(id))
}

func (s *Store) UpdateDraft(ctx context.Context, d domain.Draft) error {
	return replaceByID(ctx, s.col(ColDrafts), d.ID, d)
}

func (s *Store) ListDrafts(ctx context.Context, f repo.DraftFilter) ([]domain.Draft, error) {
	filter := bson.D{}
	for _, kv := range [][2]string{{"user_id", f.UserID}, {"agent_id", f.AgentID}, {"batch_id", f.BatchID}, {"status", f.Status}} {
		if strings.TrimSpace(kv[1]) != "" {
			filter = append(filter, bson.E{Key: kv[0], Value: kv[1]})
		}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(limitOpt(f.Limit))
	return findMany[domain.Draft](ctx, s.col(ColDrafts), filter, opts)
}

func (s *Store) InsertAsset(ctx context.Context, a domain.Asset) error {
	return insertOne(ctx, s.col(ColAssets), a)
}

func (s *Store) ListAssets(ctx context.Context, agentID string, limit int) ([]domain.Asset, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(limitOpt(limit))
	return findMany[domain.Asset](ctx, s.col(ColAssets), bson.D{{Key: "agent_id", Value: agentID}}, opts)
}

func (s *Store) InsertMeasurement(ctx context.Context, m domain.Measurement) error {
	return insertOne(ctx, s.col(ColMeasurements), m)
}

func (s *Store) ListMeasurements(ctx context.Context, agentID string, limit int) ([]domain.Measurement, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(limitOpt(limit))
	return findMany[domain.Measurement](ctx, s.col(ColMeasurements), bson.D{{Key: "agent_id", Value: agentID}}, opts)
}

func (s *Store) InsertInvocationLog(ctx context.Context, l domain.InvocationLog) error {
	if l.ToolsUsed == nil {
		l.ToolsUsed = []string{}
	}
	return insertOne(ctx, s.col(ColInvocationLogs), l)
}

func (s *Store) GetInvocationLog(ctx context.Context, id string) (domain.InvocationLog, error) {
	return findOne[domain.InvocationLog](ctx, s.col(ColInvocationLogs), byID(id))
}

func (s *Store) ListInvocationLogs(ctx context.Context, agentID string, limit int) ([]domain.InvocationLog, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(limitOpt(limit))
	return findMany[domain.InvocationLog](ctx, s.col(ColInvocationLogs), bson.D{{Key: "agent_id", Value: agentID}}, opts)
}

func (s *Store) InsertAPIKey(ctx context.Context, key domain.APIKey) error {
	return insertOne(ctx, s.col(ColAPIKeys), key)
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error) {
	return findOne[domain.APIKey](ctx, s.col(ColAPIKeys), bson.D{{Key: "key_hash", Value: hash}})
}

func (s *Store) ListAPIKeys(ctx context.Context, userID string) ([]domain.APIKey, error) {
	filter := bson.D{}
	if userID != "" {
		filter = append(filter, bson.E{Key: "user_id", Value: userID})
	}
	return findMany[domain.APIKey](ctx, s.col(ColAPIKeys), filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
}

func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	res, err := s.col(ColAPIKeys).DeleteOne(ctx, byID(id))
	if err != nil {
		return wrapError(err)
	}
	if res.DeletedCount == 0 {
		return repo.ErrNotFound
	}
	return nil
}
