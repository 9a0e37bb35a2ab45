package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/IshaanNene/RankWatch/internal/pipeline"
	"github.com/IshaanNene/RankWatch/internal/types"
)

// MongoStore writes results to a MongoDB collection keyed by run ID.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	mu         sync.Mutex
	count      int
	logger     *slog.Logger
}

// NewMongoStore connects and pings the server.
func NewMongoStore(ctx context.Context, uri, database, collection string, logger *slog.Logger) (*MongoStore, error) {
	if uri == "" {
		return nil, &types.StorageError{Backend: "mongodb", Err: fmt.Errorf("mongo_uri is required")}
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, &types.StorageError{Backend: "mongodb", Err: fmt.Errorf("connect: %w", err)}
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, &types.StorageError{Backend: "mongodb", Err: fmt.Errorf("ping: %w", err)}
	}

	return &MongoStore{
		client:     client,
		collection: client.Database(database).Collection(collection),
		logger:     logger.With("component", "mongo_store"),
	}, nil
}

func (s *MongoStore) Name() string { return "mongodb" }

func (s *MongoStore) Save(ctx context.Context, res *pipeline.Result) error {
	doc, err := resultDocument(res)
	if err != nil {
		return &types.StorageError{Backend: s.Name(), Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err = s.collection.ReplaceOne(ctx, bson.M{"_id": res.RunID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return &types.StorageError{Backend: s.Name(), Err: fmt.Errorf("replace: %w", err)}
	}

	s.mu.Lock()
	s.count++
	total := s.count
	s.mu.Unlock()
	s.logger.Debug("result stored in mongodb", "run_id", res.RunID, "total", total)
	return nil
}

func (s *MongoStore) Close() error {
	s.logger.Info("mongodb store closing", "total_results", s.count)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// resultDocument keeps the JSON field names so documents read the same as
// file output, plus summary fields for querying.
func resultDocument(res *pipeline.Result) (bson.M, error) {
	if err := res.Validate(); err != nil {
		return nil, err
	}
	doc, err := toDocument(res)
	if err != nil {
		return nil, err
	}
	summary, err := toDocument(res.Summary())
	if err != nil {
		return nil, err
	}
	doc["_id"] = res.RunID
	doc["summary"] = summary
	doc["stored_at"] = time.Now().UTC()
	return doc, nil
}

func toDocument(v any) (bson.M, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var doc bson.M
	if err := bson.UnmarshalExtJSON(data, false, &doc); err != nil {
		return nil, fmt.Errorf("convert document: %w", err)
	}
	return doc, nil
}

// --- Multi-Store Fan-Out ---

// MultiStore writes results to multiple backends.
type MultiStore struct {
	backends []ResultStore
	logger   *slog.Logger
}

// NewMultiStore creates a store that fans out to backends.
func NewMultiStore(backends []ResultStore, logger *slog.Logger) *MultiStore {
	return &MultiStore{
		backends: backends,
		logger:   logger.With("component", "multi_store"),
	}
}

func (s *MultiStore) Name() string { return "multi" }

// Save tries every backend and returns the first error.
func (s *MultiStore) Save(ctx context.Context, res *pipeline.Result) error {
	var firstErr error
	for _, backend := range s.backends {
		if err := backend.Save(ctx, res); err != nil {
			s.logger.Error("backend save failed", "backend", backend.Name(), "run_id", res.RunID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *MultiStore) Close() error {
	var firstErr error
	for _, backend := range s.backends {
		if err := backend.Close(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
