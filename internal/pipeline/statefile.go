package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// StateFile persists step state between invocations, one file per run and
// kind under a directory.
type StateFile struct {
	dir string
}

// NewStateFile creates a StateFile rooted at dir.
func NewStateFile(dir string) *StateFile {
	if dir == "" {
		dir = "./state"
	}
	return &StateFile{dir: dir}
}

// Path returns the file holding runID's state of kind.
func (s *StateFile) Path(runID, kind string) string {
	return filepath.Join(s.dir, runID+"."+kind+".json")
}

// Save writes v through a temp file and a rename, so a killed process
// leaves either the previous state or the new one.
func (s *StateFile) Save(runID, kind string, v any) (string, error) {
	if !runIDPattern.MatchString(runID) {
		return "", fmt.Errorf("invalid run id %q", runID)
	}
	path := s.Path(runID, kind)
	if err := WriteJSON(path, v); err != nil {
		return "", err
	}
	return path, nil
}

// Load reads runID's state of kind.
func (s *StateFile) Load(runID, kind string) ([]byte, error) {
	if !runIDPattern.MatchString(runID) {
		return nil, fmt.Errorf("invalid run id %q", runID)
	}
	data, err := os.ReadFile(s.Path(runID, kind))
	if err != nil {
		return nil, fmt.Errorf("load %s state: %w", kind, err)
	}
	return data, nil
}

// Has reports whether runID has state of kind.
func (s *StateFile) Has(runID, kind string) bool {
	_, err := os.Stat(s.Path(runID, kind))
	return err == nil
}

// Clean removes every state file of runID.
func (s *StateFile) Clean(runID string) error {
	var errs []error
	for _, kind := range []string{KindStep1, KindStep2, KindResult} {
		if err := os.Remove(s.Path(runID, kind)); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WriteJSON encodes v as indented JSON to path atomically.
func WriteJSON(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	f, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create state file: %w", err)
	}
	tmpPath := f.Name()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode state: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close state file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}
