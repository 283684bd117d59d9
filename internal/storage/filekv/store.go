// Package filekv keeps string key/value pairs in a single JSON file.
package filekv

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// DefaultPath is used when no path is configured.
const DefaultPath = "./data/session.json"

// Store is a file backed key/value store. Every mutation rewrites the file atomically via temp file.
type Store struct {
	path string

	mu   sync.RWMutex
	data map[string]string
}

// New opens the store at path, loading existing entries.
func New(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create kv dir")
	}

	s := &Store{path: path, data: make(map[string]string)}
	if err := s.load(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) load() error {
	payload, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return errors.Wrap(err, "read kv file")
	}

	if len(payload) == 0 {
		return nil
	}

	if err := json.Unmarshal(payload, &s.data); err != nil {
		return errors.Wrap(err, "decode kv file")
	}

	return nil
}

// Get returns the value for key.
func (s *Store) Get(key string) (string, bool, error) {
	if s == nil {
		return "", false, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[key]
	return v, ok, nil
}

// Set stores value under key.
func (s *Store) Set(key, value string) error {
	if s == nil {
		return errors.New("kv store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.data[key]
	if existed && prev == value {
		return nil
	}
	s.data[key] = value

	if err := s.flush(); err != nil {
		if existed {
			s.data[key] = prev
		} else {
			delete(s.data, key)
		}
		return err
	}

	return nil
}

// Delete removes keys. Missing keys are ignored.
func (s *Store) Delete(keys ...string) error {
	if s == nil {
		return errors.New("kv store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for _, key := range keys {
		if _, ok := s.data[key]; ok {
			delete(s.data, key)
			changed = true
		}
	}
	if !changed {
		return nil
	}

	return s.flush()
}

func (s *Store) flush() error {
	payload, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode kv file")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return errors.Wrap(err, "write kv temp file")
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "persist kv file")
	}

	return nil
}
