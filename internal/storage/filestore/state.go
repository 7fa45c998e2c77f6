package filestore

import (
	"encoding/json"
	"os"
	"sync"

	"mcpregistry-go/internal/apperrors"
)

// stateFile is a small JSON sidecar mapping entity path to enabled flag.
// Enable toggles are frequent relative to full edits, so they land here
// instead of rewriting the whole entity document.
type stateFile struct {
	path string
	mu   sync.Mutex
}

func newStateFile(path string) *stateFile {
	return &stateFile{path: path}
}

func (s *stateFile) load() (map[string]bool, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]bool{}, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindTransientBackend, "read state failed", err)
	}

	out := map[string]bool{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, apperrors.Wrap(apperrors.KindBackendData, "corrupt state file", err)
	}
	return out, nil
}

func (s *stateFile) save(m map[string]bool) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return apperrors.Wrap(apperrors.KindBackendData, "marshal state failed", err)
	}
	if err := writeFileAtomic(s.path, data, 0o644); err != nil {
		return apperrors.Wrap(apperrors.KindTransientBackend, "write state failed", err)
	}
	return nil
}

// Set records the enabled flag for one entity path.
func (s *stateFile) Set(entityPath string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load()
	if err != nil {
		return err
	}
	m[entityPath] = enabled
	return s.save(m)
}

// Get returns the recorded flag and whether an override exists.
func (s *stateFile) Get(entityPath string) (bool, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load()
	if err != nil {
		return false, false, err
	}
	v, ok := m[entityPath]
	return v, ok, nil
}

// Remove drops the override for one entity path, if present.
func (s *stateFile) Remove(entityPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := m[entityPath]; !ok {
		return nil
	}
	delete(m, entityPath)
	return s.save(m)
}

// All returns a copy of every override.
func (s *stateFile) All() (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}
