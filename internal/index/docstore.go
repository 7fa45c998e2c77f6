package index

import (
	"encoding/json"
	"sync"

	"github.com/blevesearch/bleve/v2"

	"mcpregistry-go/internal/apperrors"
)

// listPageSize bounds a single list query; registries hold hundreds of
// entities, not millions.
const listPageSize = 10000

// docStore reads and writes one kind of envelope document in a Bleve index.
// Writes serialize on the mutex so read-modify-write sequences from the
// repositories stay atomic within the process.
type docStore[T any] struct {
	idx  bleve.Index
	kind string
	mu   sync.Mutex
}

func newDocStore[T any](idx bleve.Index, kind string) *docStore[T] {
	return &docStore[T]{idx: idx, kind: kind}
}

func (s *docStore[T]) docID(key string) string {
	return s.kind + ":" + key
}

func (s *docStore[T]) get(key string) (*T, error) {
	q := bleve.NewDocIDQuery([]string{s.docID(key)})
	req := bleve.NewSearchRequest(q)
	req.Size = 1
	req.Fields = []string{"source"}

	res, err := s.idx.Search(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindTransientBackend, "index query failed", err)
	}
	if len(res.Hits) == 0 {
		return nil, apperrors.Newf(apperrors.KindNotFound, "document %s not found", key)
	}

	return decodeSource[T](res.Hits[0].Fields, key)
}

func (s *docStore[T]) exists(key string) (bool, error) {
	q := bleve.NewDocIDQuery([]string{s.docID(key)})
	req := bleve.NewSearchRequest(q)
	req.Size = 1

	res, err := s.idx.Search(req)
	if err != nil {
		return false, apperrors.Wrap(apperrors.KindTransientBackend, "index query failed", err)
	}
	return len(res.Hits) > 0, nil
}

func (s *docStore[T]) put(key, group string, doc *T) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return apperrors.Wrap(apperrors.KindBackendData, "marshal failed for "+key, err)
	}

	env := &storedDoc{Kind: s.kind, Key: key, Group: group, Source: string(data)}
	if err := s.idx.Index(s.docID(key), env); err != nil {
		return apperrors.Wrap(apperrors.KindTransientBackend, "index write failed", err)
	}
	return nil
}

func (s *docStore[T]) delete(key string) error {
	if err := s.idx.Delete(s.docID(key)); err != nil {
		return apperrors.Wrap(apperrors.KindTransientBackend, "index delete failed", err)
	}
	return nil
}

// list returns every document of this kind, optionally restricted to one
// group value.
func (s *docStore[T]) list(group string) ([]*T, error) {
	kindQuery := bleve.NewTermQuery(s.kind)
	kindQuery.SetField("kind")

	q := bleve.NewBooleanQuery()
	q.AddMust(kindQuery)
	if group != "" {
		groupQuery := bleve.NewTermQuery(group)
		groupQuery.SetField("group")
		q.AddMust(groupQuery)
	}

	req := bleve.NewSearchRequest(q)
	req.Size = listPageSize
	req.Fields = []string{"source"}

	res, err := s.idx.Search(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindTransientBackend, "index query failed", err)
	}

	docs := make([]*T, 0, len(res.Hits))
	for _, hit := range res.Hits {
		doc, err := decodeSource[T](hit.Fields, hit.ID)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// withLock runs fn under the store's write lock.
func (s *docStore[T]) withLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

func decodeSource[T any](fields map[string]interface{}, id string) (*T, error) {
	raw, ok := fields["source"].(string)
	if !ok || raw == "" {
		return nil, apperrors.Newf(apperrors.KindBackendData, "document %s has no source", id)
	}
	var doc T
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, apperrors.Wrap(apperrors.KindBackendData, "corrupt document "+id, err)
	}
	return &doc, nil
}
