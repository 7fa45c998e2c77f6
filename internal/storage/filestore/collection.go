package filestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"mcpregistry-go/internal/apperrors"
)

// slug turns an entity path into a filesystem-safe file name, e.g.
// "/fininfo" -> "fininfo.json", "peer-a/docs" -> "peer-a__docs.json".
func slug(key string) string {
	s := strings.TrimPrefix(key, "/")
	s = strings.ReplaceAll(s, "/", "__")
	return s + ".json"
}

// writeFileAtomic writes data to path via a temp file and rename so readers
// never observe a partial document.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// collection is a directory of JSON documents, one file per document.
// All operations hold the collection lock; a single ListAll call therefore
// observes a consistent snapshot.
type collection[T any] struct {
	dir string
	mu  sync.RWMutex
}

func newCollection[T any](dir string) (*collection[T], error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create collection dir %s: %w", dir, err)
	}
	return &collection[T]{dir: dir}, nil
}

func (c *collection[T]) filePath(key string) string {
	return filepath.Join(c.dir, slug(key))
}

func (c *collection[T]) get(key string) (*T, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.getLocked(key)
}

func (c *collection[T]) getLocked(key string) (*T, error) {
	data, err := os.ReadFile(c.filePath(key))
	if os.IsNotExist(err) {
		return nil, apperrors.Newf(apperrors.KindNotFound, "document %s not found", key)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindTransientBackend, "read failed", err)
	}

	var doc T
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, apperrors.Wrap(apperrors.KindBackendData, "corrupt document "+key, err)
	}
	return &doc, nil
}

func (c *collection[T]) exists(key string) bool {
	_, err := os.Stat(c.filePath(key))
	return err == nil
}

func (c *collection[T]) put(key string, doc *T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.putLocked(key, doc)
}

func (c *collection[T]) putLocked(key string, doc *T) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return apperrors.Wrap(apperrors.KindBackendData, "marshal failed for "+key, err)
	}
	if err := writeFileAtomic(c.filePath(key), data, 0o644); err != nil {
		return apperrors.Wrap(apperrors.KindTransientBackend, "write failed", err)
	}
	return nil
}

func (c *collection[T]) delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.Remove(c.filePath(key)); err != nil && !os.IsNotExist(err) {
		return apperrors.Wrap(apperrors.KindTransientBackend, "delete failed", err)
	}
	return nil
}

func (c *collection[T]) listAll() ([]*T, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindTransientBackend, "list failed", err)
	}

	var docs []*T
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(c.dir, entry.Name()))
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindTransientBackend, "read failed", err)
		}
		var doc T
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, apperrors.Wrap(apperrors.KindBackendData, "corrupt document "+entry.Name(), err)
		}
		docs = append(docs, &doc)
	}
	return docs, nil
}

// withLock runs fn while holding the collection write lock, for
// read-modify-write sequences that must be atomic within the process.
func (c *collection[T]) withLock(fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fn()
}
