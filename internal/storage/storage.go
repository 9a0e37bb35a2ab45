// Package storage persists final analysis results for the external
// persistence collaborator.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/IshaanNene/RankWatch/internal/config"
	"github.com/IshaanNene/RankWatch/internal/observability"
	"github.com/IshaanNene/RankWatch/internal/pipeline"
)

// ResultStore is the interface for all result backends.
type ResultStore interface {
	// Save persists one result. Saving the same run again replaces it.
	Save(ctx context.Context, res *pipeline.Result) error

	// Close flushes pending writes and releases resources.
	Close() error

	// Name returns the backend identifier.
	Name() string
}

// New builds the store selected by cfg.Type: "file", "mongodb", "multi"
// (both) or "none".
func New(ctx context.Context, cfg *config.StorageConfig, logger *slog.Logger, metrics *observability.Metrics) (ResultStore, error) {
	var store ResultStore
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "file":
		fs, err := NewFileStore(cfg.OutputPath, logger)
		if err != nil {
			return nil, err
		}
		store = fs
	case "mongodb", "mongo":
		ms, err := NewMongoStore(ctx, cfg.MongoURI, cfg.Database, cfg.Collection, logger)
		if err != nil {
			return nil, err
		}
		store = ms
	case "multi":
		fs, err := NewFileStore(cfg.OutputPath, logger)
		if err != nil {
			return nil, err
		}
		ms, err := NewMongoStore(ctx, cfg.MongoURI, cfg.Database, cfg.Collection, logger)
		if err != nil {
			fs.Close()
			return nil, err
		}
		store = NewMultiStore([]ResultStore{fs, ms}, logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
	return Observed(store, metrics), nil
}

type observed struct {
	ResultStore
	metrics *observability.Metrics
}

// Observed records the outcome of every Save on metrics.
func Observed(s ResultStore, m *observability.Metrics) ResultStore {
	if m == nil {
		return s
	}
	return &observed{ResultStore: s, metrics: m}
}

func (o *observed) Save(ctx context.Context, res *pipeline.Result) error {
	err := o.ResultStore.Save(ctx, res)
	o.metrics.StoreObserved(o.Name(), err)
	return err
}
