package index

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"go.uber.org/zap"

	"mcpregistry-go/internal/apperrors"
	"mcpregistry-go/internal/contracts"
	"mcpregistry-go/internal/storage"
)

// embeddingRecord is the indexed shape of one entity's search document.
// The lexical sub-query matches the text fields; the kNN sub-query matches
// the embedding vector; Source carries the full document for reconstruction.
type embeddingRecord struct {
	Name             string    `json:"name"`
	Description      string    `json:"description"`
	TextForEmbedding string    `json:"text_for_embedding"`
	Tags             string    `json:"tags"`
	ToolText         string    `json:"tool_text"`
	SkillText        string    `json:"skill_text"`
	Embedding        []float32 `json:"embedding,omitempty"`
	Source           string    `json:"source"`
}

// EmbeddingsIndex implements storage.SearchIndex over one Bleve index. The
// file backend uses it as a sidecar; the distributed-index backend uses it
// for its embeddings index.
type EmbeddingsIndex struct {
	idx    bleve.Index
	dims   int
	logger *zap.Logger
}

// NewEmbeddingsIndex opens (or creates) the embeddings index at path with a
// fixed vector dimension. Changing the dimension requires recreate.
func NewEmbeddingsIndex(path string, dims int, recreate bool, logger *zap.Logger) (*EmbeddingsIndex, error) {
	idx, err := openOrCreate(path, embeddingsMapping(dims), recreate, logger)
	if err != nil {
		return nil, err
	}
	return &EmbeddingsIndex{idx: idx, dims: dims, logger: logger}, nil
}

func embeddingsMapping(dims int) *mapping.IndexMappingImpl {
	text := func() *mapping.FieldMapping {
		f := bleve.NewTextFieldMapping()
		f.Analyzer = standard.Name
		f.Store = false
		f.Index = true
		return f
	}

	sourceField := bleve.NewTextFieldMapping()
	sourceField.Store = true
	sourceField.Index = false

	vectorField := mapping.NewVectorFieldMapping()
	vectorField.Dims = dims
	vectorField.Similarity = "cosine"

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("name", text())
	docMapping.AddFieldMappingsAt("description", text())
	docMapping.AddFieldMappingsAt("text_for_embedding", text())
	docMapping.AddFieldMappingsAt("tags", text())
	docMapping.AddFieldMappingsAt("tool_text", text())
	docMapping.AddFieldMappingsAt("skill_text", text())
	docMapping.AddFieldMappingsAt("embedding", vectorField)
	docMapping.AddFieldMappingsAt("source", sourceField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	return indexMapping
}

// Index upserts the document under its (entity_type, path) id. A vector of
// the wrong width is rejected as corrupt input, not retried.
func (e *EmbeddingsIndex) Index(_ context.Context, doc *contracts.EmbeddingDocument) error {
	if len(doc.Embedding) != 0 && len(doc.Embedding) != e.dims {
		return apperrors.Newf(apperrors.KindBackendData,
			"embedding for %s has %d dimensions, index expects %d",
			doc.DocID(), len(doc.Embedding), e.dims)
	}

	source, err := json.Marshal(doc)
	if err != nil {
		return apperrors.Wrap(apperrors.KindBackendData, "marshal failed for "+doc.DocID(), err)
	}

	var toolText, skillText []string
	for _, t := range doc.Tools {
		toolText = append(toolText, t.Name, t.Description)
	}
	for _, s := range doc.Skills {
		skillText = append(skillText, s.Name, s.Description)
	}

	rec := &embeddingRecord{
		Name:             doc.Name,
		Description:      doc.Description,
		TextForEmbedding: doc.TextForEmbedding,
		Tags:             strings.Join(doc.Tags, " "),
		ToolText:         strings.Join(toolText, " "),
		SkillText:        strings.Join(skillText, " "),
		Embedding:        doc.Embedding,
		Source:           string(source),
	}

	if err := e.idx.Index(doc.DocID(), rec); err != nil {
		return apperrors.Wrap(apperrors.KindTransientBackend, "index write failed", err)
	}
	return nil
}

func (e *EmbeddingsIndex) Delete(_ context.Context, entityType contracts.EntityType, path string) error {
	doc := contracts.EmbeddingDocument{EntityType: entityType, Path: path}
	if err := e.idx.Delete(doc.DocID()); err != nil {
		return apperrors.Wrap(apperrors.KindTransientBackend, "index delete failed", err)
	}
	return nil
}

// LexicalSearch runs a BM25 disjunction over the text fields.
func (e *EmbeddingsIndex) LexicalSearch(_ context.Context, query string, entityTypes []contracts.EntityType, limit int, includeDisabled bool) ([]storage.IndexHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	fields := []string{"name", "description", "text_for_embedding", "tags", "tool_text", "skill_text"}
	disjuncts := bleve.NewDisjunctionQuery()
	for _, field := range fields {
		mq := bleve.NewMatchQuery(query)
		mq.SetField(field)
		disjuncts.AddQuery(mq)
	}

	req := bleve.NewSearchRequest(disjuncts)
	req.Size = overFetch(limit)
	req.Fields = []string{"source"}

	res, err := e.idx.Search(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindTransientBackend, "lexical search failed", err)
	}
	return e.collect(res, entityTypes, limit, includeDisabled)
}

// VectorSearch runs an approximate kNN query over the embedding field.
func (e *EmbeddingsIndex) VectorSearch(_ context.Context, vector []float32, entityTypes []contracts.EntityType, limit int, includeDisabled bool) ([]storage.IndexHit, error) {
	if len(vector) != e.dims {
		return nil, apperrors.Newf(apperrors.KindBadRequest,
			"query vector has %d dimensions, index expects %d", len(vector), e.dims)
	}

	req := bleve.NewSearchRequest(bleve.NewMatchNoneQuery())
	req.AddKNN("embedding", vector, int64(overFetch(limit)), 1.0)
	req.Size = overFetch(limit)
	req.Fields = []string{"source"}

	res, err := e.idx.Search(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindTransientBackend, "vector search failed", err)
	}
	return e.collect(res, entityTypes, limit, includeDisabled)
}

// collect decodes hits and applies the entity-type and enabled filters.
// Filtering happens here rather than in the query so both sub-queries share
// one index layout.
func (e *EmbeddingsIndex) collect(res *bleve.SearchResult, entityTypes []contracts.EntityType, limit int, includeDisabled bool) ([]storage.IndexHit, error) {
	wanted := map[contracts.EntityType]bool{}
	for _, t := range entityTypes {
		wanted[t] = true
	}

	var hits []storage.IndexHit
	for _, hit := range res.Hits {
		doc, err := decodeSource[contracts.EmbeddingDocument](hit.Fields, hit.ID)
		if err != nil {
			return nil, err
		}
		if len(wanted) > 0 && !wanted[doc.EntityType] {
			continue
		}
		if !includeDisabled && !doc.IsEnabled {
			continue
		}
		hits = append(hits, storage.IndexHit{Doc: doc, Score: hit.Score})
		if len(hits) >= limit {
			break
		}
	}
	return hits, nil
}

// Close releases the underlying index.
func (e *EmbeddingsIndex) Close() error {
	return e.idx.Close()
}

// overFetch widens a sub-query so post-filtering still fills the page.
func overFetch(limit int) int {
	n := limit * 4
	if n < 50 {
		n = 50
	}
	return n
}
