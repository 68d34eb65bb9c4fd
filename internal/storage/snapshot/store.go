package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const DefaultPath = "./wal/hive/hierarchy.json"

// Store keeps one JSON document on disk so restarts resume from the last saved state.
type Store struct {
	path string
}

// NewStore creates the parent directory of path and returns a store writing there.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create snapshot dir")
	}
	return &Store{path: path}, nil
}

// Path returns the file the store writes to.
func (s *Store) Path() string {
	return s.path
}

// Load decodes the stored document into v. It reports false when nothing was saved yet.
func (s *Store) Load(v any) (bool, error) {
	if s == nil || s.path == "" {
		return false, nil
	}

	payload, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, errors.Wrap(err, "read snapshot")
	}

	if len(payload) == 0 {
		return false, nil
	}

	if err := json.Unmarshal(payload, v); err != nil {
		return false, errors.Wrap(err, "decode snapshot")
	}

	return true, nil
}

// Save writes v to disk atomically via temp file.
func (s *Store) Save(v any) error {
	if s == nil || s.path == "" {
		return nil
	}

	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode snapshot")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return errors.Wrap(err, "write snapshot temp file")
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "persist snapshot")
	}

	return nil
}
