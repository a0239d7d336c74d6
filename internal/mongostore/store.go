// Package mongostore implements repo.Store on MongoDB.
//
// Domain structs carry bson tags, so documents are stored as-is with the
// entity id as _id. Collection names and indexes live in ensureIndexes.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"agentline/internal/repo"
)

const (
	ColAgents         = "agents"
	ColActions        = "actions"
	ColNotes          = "notes"
	ColDrafts         = "drafts"
	ColAssets         = "assets"
	ColMeasurements   = "measurements"
	ColEvents         = "events"
	ColInvocationLogs = "invocation_logs"
	ColAPIKeys        = "api_keys"
	ColCounters       = "counters"
)

type Store struct {
	client *mongo.Client
	db     *mongo.Database
	log    *zap.Logger
}

var _ repo.Store = (*Store)(nil)

// New connects to uri, verifies the connection and ensures indexes.
func New(ctx context.Context, uri, dbName string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongostore: ping: %w", err)
	}
	s := &Store{client: client, db: client.Database(dbName), log: log}
	if err := s.ensureIndexes(ctx); err != nil {
		log.Warn("mongostore: ensure indexes failed", zap.Error(err))
	}
	return s, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) col(name string) *mongo.Collection {
	return s.db.Collection(name)
}

// InTx runs fn directly. Standalone deployments have no multi-document
// transactions; every Store method is a single-document write.
func (s *Store) InTx(ctx context.Context, fn func(repo.Store) error) error {
	return fn(s)
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	type idx struct {
		col    string
		keys   bson.D
		unique bool
	}
	indexes := []idx{
		{ColAgents, bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}, false},
		{ColActions, bson.D{{Key: "agent_id", Value: 1}, {Key: "state", Value: 1}}, false},
		{ColActions, bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: 1}}, false},
		{ColNotes, bson.D{{Key: "agent_id", Value: 1}, {Key: "created_at", Value: -1}}, false},
		{ColDrafts, bson.D{{Key: "agent_id", Value: 1}, {Key: "status", Value: 1}}, false},
		{ColDrafts, bson.D{{Key: "batch_id", Value: 1}}, false},
		{ColAssets, bson.D{{Key: "agent_id", Value: 1}, {Key: "created_at", Value: -1}}, false},
		{ColMeasurements, bson.D{{Key: "agent_id", Value: 1}, {Key: "created_at", Value: -1}}, false},
		{ColEvents, bson.D{{Key: "agent_id", Value: 1}, {Key: "_id", Value: 1}}, false},
		{ColInvocationLogs, bson.D{{Key: "agent_id", Value: 1}, {Key: "created_at", Value: -1}}, false},
		{ColAPIKeys, bson.D{{Key: "key_hash", Value: 1}}, true},
	}
	for _, i := range indexes {
		model := mongo.IndexModel{Keys: i.keys}
		if i.unique {
			model.Options = options.Index().SetUnique(true)
		}
		if _, err := s.col(i.col).Indexes().CreateOne(ctx, model); err != nil {
			return fmt.Errorf("create index on %s: %w", i.col, err)
		}
	}
	return nil
}

func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return repo.ErrNotFound
	}
	return err
}

func findOne[T any](ctx context.Context, col *mongo.Collection, filter bson.D) (T, error) {
	var result T
	err := col.FindOne(ctx, filter).Decode(&result)
	return result, wrapError(err)
}

func findMany[T any](ctx context.Context, col *mongo.Collection, filter bson.D, opts ...options.Lister[options.FindOptions]) ([]T, error) {
	cursor, err := col.Find(ctx, filter, opts...)
	if err != nil {
		return nil, wrapError(err)
	}
	defer cursor.Close(ctx)
	var results []T
	for cursor.Next(ctx) {
		var item T
		if err := cursor.Decode(&item); err != nil {
			return nil, err
		}
		results = append(results, item)
	}
	return results, cursor.Err()
}

func insertOne(ctx context.Context, col *mongo.Collection, doc any) error {
	_, err := col.InsertOne(ctx, doc)
	return wrapError(err)
}

func replaceByID(ctx context.Context, col *mongo.Collection, id string, doc any) error {
	res, err := col.ReplaceOne(ctx, bson.D{{Key: "_id", Value: id}}, doc)
	if err != nil {
		return wrapError(err)
	}
	if res.MatchedCount == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func byID(id string) bson.D {
	return bson.D{{Key: "_id", Value: id}}
}

func limitOpt(limit int) int64 {
	if limit <= 0 || limit > 500 {
		return 500
	}
	return int64(limit)
}
