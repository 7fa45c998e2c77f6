// Package index hosts the Bleve-backed search machinery: the embeddings
// index used by both storage backends, and the distributed-index backend
// that keeps every registry document inside namespaced indices.
package index

import (
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	"go.uber.org/zap"
)

// storedDoc is the envelope persisted for every registry document in the
// distributed-index backend. The full entity JSON rides in Source, stored
// but not indexed; Kind and Key are keyword fields for filtering, Group is
// an optional secondary key (e.g. the server path of a scan result).
type storedDoc struct {
	Kind   string `json:"kind"`
	Key    string `json:"key"`
	Group  string `json:"group,omitempty"`
	Source string `json:"source"`
}

// documentMapping builds the envelope mapping shared by all non-embedding
// indices.
func documentMapping() *mapping.IndexMappingImpl {
	kindField := bleve.NewTextFieldMapping()
	kindField.Analyzer = keyword.Name
	kindField.Store = false
	kindField.Index = true

	keyField := bleve.NewTextFieldMapping()
	keyField.Analyzer = keyword.Name
	keyField.Store = false
	keyField.Index = true

	groupField := bleve.NewTextFieldMapping()
	groupField.Analyzer = keyword.Name
	groupField.Store = false
	groupField.Index = true

	sourceField := bleve.NewTextFieldMapping()
	sourceField.Store = true
	sourceField.Index = false

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("kind", kindField)
	docMapping.AddFieldMappingsAt("key", keyField)
	docMapping.AddFieldMappingsAt("group", groupField)
	docMapping.AddFieldMappingsAt("source", sourceField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	return indexMapping
}

// openOrCreate opens the index at path, creating it with the given mapping
// when absent. With recreate set, any existing index is wiped first.
func openOrCreate(path string, m *mapping.IndexMappingImpl, recreate bool, logger *zap.Logger) (bleve.Index, error) {
	if recreate {
		if err := os.RemoveAll(path); err != nil {
			return nil, fmt.Errorf("failed to remove index %s: %w", path, err)
		}
	}

	idx, err := bleve.Open(path)
	if err == nil {
		logger.Info("opened existing index", zap.String("path", path))
		return idx, nil
	}

	logger.Info("creating index", zap.String("path", path))
	idx, err = bleve.New(path, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create index %s: %w", path, err)
	}
	return idx, nil
}
