package mongostore

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"agentline/internal/domain"
	"agentline/internal/repo"
)

type counterDoc struct {
	ID  string `bson:"_id"`
	Seq int64  `bson:"seq"`
}

// nextSeq hands out monotonically increasing event ids so webhook cursors
// work the same as with the SQLite autoincrement column.
func (s *Store) nextSeq(ctx context.Context, name string) (int64, error) {
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var doc counterDoc
	err := s.col(ColCounters).FindOneAndUpdate(ctx, byID(name), bson.D{{Key: "$inc", Value: bson.D{{Key: "seq", Value: int64(1)}}}}, opts).Decode(&doc)
	if err != nil {
		return 0, wrapError(err)
	}
	return doc.Seq, nil
}

func (s *Store) AppendEvent(ctx context.Context, evt domain.Event) error {
	seq, err := s.nextSeq(ctx, ColEvents)
	if err != nil {
		return err
	}
	evt.ID = seq
	if evt.Payload == "" {
		evt.Payload = "{}"
	}
	return insertOne(ctx, s.col(ColEvents), evt)
}

func (s *Store) ListEvents(ctx context.Context, f repo.EventFilter) ([]domain.Event, error) {
	filter := bson.D{{Key: "_id", Value: bson.D{{Key: "$gt", Value: f.AfterID}}}}
	if f.UserID != "" {
		filter = append(filter, bson.E{Key: "user_id", Value: f.UserID})
	}
	if f.AgentID != "" {
		filter = append(filter, bson.E{Key: "agent_id", Value: f.AgentID})
	}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetLimit(limitOpt(f.Limit))
	return findMany[domain.Event](ctx, s.col(ColEvents), filter, opts)
}
