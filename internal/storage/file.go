package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/IshaanNene/RankWatch/internal/pipeline"
	"github.com/IshaanNene/RankWatch/internal/types"
)

const indexFile = "results.jsonl"

// FileStore writes each result to <dir>/<run_id>.json and appends its
// summary to <dir>/results.jsonl.
type FileStore struct {
	dir    string
	index  *os.File
	enc    *json.Encoder
	mu     sync.Mutex
	count  int
	logger *slog.Logger
}

// NewFileStore creates the output directory and opens the index.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &types.StorageError{Backend: "file", Err: fmt.Errorf("create output dir: %w", err)}
	}

	f, err := os.OpenFile(filepath.Join(dir, indexFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, &types.StorageError{Backend: "file", Err: fmt.Errorf("open index: %w", err)}
	}

	return &FileStore{
		dir:    dir,
		index:  f,
		enc:    json.NewEncoder(f),
		logger: logger.With("component", "file_store"),
	}, nil
}

func (s *FileStore) Name() string { return "file" }

// Path returns the file holding runID's result.
func (s *FileStore) Path(runID string) string {
	return filepath.Join(s.dir, runID+".json")
}

func (s *FileStore) Save(ctx context.Context, res *pipeline.Result) error {
	if err := ctx.Err(); err != nil {
		return &types.StorageError{Backend: s.Name(), Err: err}
	}
	if err := res.Validate(); err != nil {
		return &types.StorageError{Backend: s.Name(), Err: err}
	}
	if filepath.Base(res.RunID) != res.RunID {
		return &types.StorageError{Backend: s.Name(), Err: fmt.Errorf("invalid run id %q", res.RunID)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(res.RunID)
	if err := pipeline.WriteJSON(path, res); err != nil {
		return &types.StorageError{Backend: s.Name(), Err: err}
	}
	if err := s.enc.Encode(res.Summary()); err != nil {
		return &types.StorageError{Backend: s.Name(), Err: fmt.Errorf("encode index: %w", err)}
	}
	s.count++
	s.logger.Debug("result written", "path", path, "total", s.count)
	return nil
}

// Load reads a stored result back.
func (s *FileStore) Load(runID string) (*pipeline.Result, error) {
	data, err := os.ReadFile(s.Path(runID))
	if err != nil {
		return nil, &types.StorageError{Backend: s.Name(), Err: err}
	}
	return pipeline.DecodeResult(data)
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Info("file store closing", "dir", s.dir, "results", s.count)
	if s.index != nil {
		err := s.index.Close()
		s.index = nil
		return err
	}
	return nil
}
