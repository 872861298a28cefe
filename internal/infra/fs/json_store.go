package fs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	logging "onion-alerts/internal/infra/log"
	"onion-alerts/internal/state"

	"go.uber.org/zap"
)

// Persister loads and saves whole-state snapshots.
// Load returns (nil, nil) when nothing has been saved yet.
type Persister interface {
	Load() (*state.Snapshot, error)
	Save(snap *state.Snapshot) error
	Close() error
}

// Open returns the persister for driver ("json" or "bolt").
func Open(driver, path string) (Persister, error) {
	switch driver {
	case "", "json":
		return NewJSONStore(path), nil
	case "bolt":
		return OpenBoltStore(path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// JSONStore keeps the snapshot in a single JSON file replaced atomically.
type JSONStore struct {
	path string
}

func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

func (s *JSONStore) Path() string { return s.path }

func (s *JSONStore) Load() (*state.Snapshot, error) {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		logging.LogDebug("State file does not exist, starting empty", zap.String("file", s.path))
		return nil, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	if len(data) == 0 || strings.TrimSpace(string(data)) == "" || strings.TrimSpace(string(data)) == "{}" {
		logging.LogDebug("State file is empty, starting empty", zap.String("file", s.path))
		return nil, nil
	}

	snap := state.NewSnapshot()
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("failed to parse state JSON: %w", err)
	}

	logging.LogDebug("Loaded state from file",
		zap.String("file", s.path),
		zap.Int("users", len(snap.Users)),
		zap.Int("tokens", len(snap.Tokens)))

	return snap, nil
}

// Save writes to a temp file next to the target and renames it over.
func (s *JSONStore) Save(snap *state.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("nil snapshot")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state JSON: %w", err)
	}

	tempFilePath := s.path + ".tmp"
	if err := os.WriteFile(tempFilePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary state file: %w", err)
	}

	if err := os.Rename(tempFilePath, s.path); err != nil {
		os.Remove(tempFilePath)
		return fmt.Errorf("failed to rename temporary file to state file: %w", err)
	}

	logging.LogDebug("Saved state to file",
		zap.String("file", s.path),
		zap.Int("users", len(snap.Users)),
		zap.Int("tokens", len(snap.Tokens)))

	return nil
}

func (s *JSONStore) Close() error { return nil }
