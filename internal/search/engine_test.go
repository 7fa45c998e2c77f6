package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mcpregistry-go/internal/config"
	"mcpregistry-go/internal/contracts"
	"mcpregistry-go/internal/embeddings"
	"mcpregistry-go/internal/storage"
)

type fakeIndex struct {
	lexHits []storage.IndexHit
	vecHits []storage.IndexHit

	indexed []*contracts.EmbeddingDocument
	deleted []string
}

func (f *fakeIndex) Index(_ context.Context, doc *contracts.EmbeddingDocument) error {
	f.indexed = append(f.indexed, doc)
	return nil
}

func (f *fakeIndex) Delete(_ context.Context, entityType contracts.EntityType, path string) error {
	f.deleted = append(f.deleted, string(entityType)+":"+path)
	return nil
}

func (f *fakeIndex) LexicalSearch(context.Context, string, []contracts.EntityType, int, bool) ([]storage.IndexHit, error) {
	return f.lexHits, nil
}

func (f *fakeIndex) VectorSearch(context.Context, []float32, []contracts.EntityType, int, bool) ([]storage.IndexHit, error) {
	return f.vecHits, nil
}

type failingProvider struct{}

func (failingProvider) Name() string    { return "failing" }
func (failingProvider) Dimensions() int { return 8 }
func (failingProvider) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("provider down")
}

func searchConfig() *config.SearchConfig {
	return &config.SearchConfig{
		BM25Weight:   0.6,
		KNNWeight:    0.4,
		TopKPerType:  5,
		MaxResults:   20,
		QueryTimeout: 5 * time.Second,
	}
}

func serverDoc(path, name, description string, tools ...contracts.Tool) *contracts.EmbeddingDocument {
	return &contracts.EmbeddingDocument{
		EntityType:  contracts.EntityTypeServer,
		Path:        path,
		Name:        name,
		Description: description,
		IsEnabled:   true,
		Tools:       tools,
	}
}

func TestSearchHybridMode(t *testing.T) {
	idx := &fakeIndex{
		lexHits: []storage.IndexHit{
			{Doc: serverDoc("/team/files", "files", "File operations"), Score: 2.0},
			{Doc: serverDoc("/team/time", "time", "Clock utilities"), Score: 0.5},
		},
		vecHits: []storage.IndexHit{
			{Doc: serverDoc("/team/files", "files", "File operations"), Score: 0.9},
		},
	}
	gate := embeddings.NewGate(embeddings.NewLocalProvider(8), zap.NewNop())
	engine := New(idx, gate, searchConfig(), zap.NewNop())

	resp, err := engine.Search(context.Background(), Request{Query: "files"})
	require.NoError(t, err)
	assert.Equal(t, contracts.SearchModeHybrid, resp.SearchMode)
	require.Len(t, resp.Servers, 2)
	assert.Equal(t, "/team/files", resp.Servers[0].Path)
	assert.Equal(t, 1.0, resp.Servers[0].RelevanceScore)
	assert.Greater(t, resp.Servers[0].RelevanceScore, resp.Servers[1].RelevanceScore)
}

func TestSearchFallsBackToLexicalWhenEmbeddingsFail(t *testing.T) {
	idx := &fakeIndex{
		lexHits: []storage.IndexHit{
			{Doc: serverDoc("/team/files", "files", "File operations"), Score: 2.0},
		},
	}
	gate := embeddings.NewGate(failingProvider{}, zap.NewNop())
	engine := New(idx, gate, searchConfig(), zap.NewNop())

	resp, err := engine.Search(context.Background(), Request{Query: "files"})
	require.NoError(t, err)
	assert.Equal(t, contracts.SearchModeLexical, resp.SearchMode)
	require.Len(t, resp.Servers, 1)

	// The gate latches after the first failure.
	assert.True(t, gate.Unavailable())
	resp, err = engine.Search(context.Background(), Request{Query: "files"})
	require.NoError(t, err)
	assert.Equal(t, contracts.SearchModeLexical, resp.SearchMode)
}

func TestSearchEmptyQuery(t *testing.T) {
	gate := embeddings.NewGate(embeddings.NewLocalProvider(8), zap.NewNop())
	engine := New(&fakeIndex{}, gate, searchConfig(), zap.NewNop())

	resp, err := engine.Search(context.Background(), Request{Query: "   "})
	require.NoError(t, err)
	assert.Empty(t, resp.Servers)
	assert.Empty(t, resp.Agents)
	assert.Empty(t, resp.Tools)
}

func TestSearchSurfacesMatchingTools(t *testing.T) {
	doc := serverDoc("/team/files", "files", "File operations",
		contracts.Tool{Name: "read_file", Description: "Reads a file"},
		contracts.Tool{Name: "get_time", Description: "Clock"})
	idx := &fakeIndex{lexHits: []storage.IndexHit{{Doc: doc, Score: 1.0}}}
	gate := embeddings.NewGate(failingProvider{}, zap.NewNop())
	engine := New(idx, gate, searchConfig(), zap.NewNop())

	resp, err := engine.Search(context.Background(), Request{Query: "read file"})
	require.NoError(t, err)
	require.Len(t, resp.Tools, 1)
	assert.Equal(t, "read_file", resp.Tools[0].Name)
	assert.Equal(t, "/team/files", resp.Tools[0].ServerPath)
	assert.Equal(t, "tool: read_file", resp.Servers[0].MatchContext)
}

func TestSearchTopKPerType(t *testing.T) {
	cfg := searchConfig()
	cfg.TopKPerType = 1
	idx := &fakeIndex{
		lexHits: []storage.IndexHit{
			{Doc: serverDoc("/a", "files-a", "files"), Score: 2.0},
			{Doc: serverDoc("/b", "files-b", "files"), Score: 1.0},
		},
	}
	gate := embeddings.NewGate(failingProvider{}, zap.NewNop())
	engine := New(idx, gate, cfg, zap.NewNop())

	resp, err := engine.Search(context.Background(), Request{Query: "files"})
	require.NoError(t, err)
	assert.Len(t, resp.Servers, 1)
}

func TestTextBoostWeights(t *testing.T) {
	terms := queryTerms("files")

	pathOnly := &contracts.EmbeddingDocument{Path: "/team/files"}
	assert.Equal(t, 5.0, textBoost(pathOnly, terms))

	nameOnly := &contracts.EmbeddingDocument{Name: "files"}
	assert.Equal(t, 3.0, textBoost(nameOnly, terms))

	full := &contracts.EmbeddingDocument{
		Path:        "/team/files",
		Name:        "files",
		Description: "files server",
		Tags:        []string{"files"},
		Tools:       []contracts.Tool{{Name: "list_files"}},
	}
	assert.Equal(t, 12.5, textBoost(full, terms))
	assert.Zero(t, textBoost(full, nil))
}

func TestTieBreakByBoostThenPath(t *testing.T) {
	idx := &fakeIndex{
		lexHits: []storage.IndexHit{
			{Doc: serverDoc("/zz", "other", "mentions files"), Score: 1.0},
			{Doc: serverDoc("/aa", "other", "mentions files"), Score: 1.0},
		},
	}
	gate := embeddings.NewGate(failingProvider{}, zap.NewNop())
	engine := New(idx, gate, searchConfig(), zap.NewNop())

	resp, err := engine.Search(context.Background(), Request{Query: "files"})
	require.NoError(t, err)
	require.Len(t, resp.Servers, 2)
	assert.Equal(t, "/aa", resp.Servers[0].Path)
}

func TestIndexerIndexesWithoutEmbeddingAfterLatch(t *testing.T) {
	idx := &fakeIndex{}
	gate := embeddings.NewGate(failingProvider{}, zap.NewNop())

	// Latch the gate first.
	_, err := gate.Embed(context.Background(), "warmup")
	require.Error(t, err)

	indexer := NewIndexer(idx, gate, zap.NewNop())
	server := &contracts.Server{Path: "/team/files", ServerName: "files", IsEnabled: true}
	require.NoError(t, indexer.IndexServer(context.Background(), server))

	require.Len(t, idx.indexed, 1)
	assert.Nil(t, idx.indexed[0].Embedding)
	assert.False(t, idx.indexed[0].IndexedAt.IsZero())
}

func TestBuildServerDocument(t *testing.T) {
	server := &contracts.Server{
		Path:        "/team/files",
		ServerName:  "files",
		Description: "File operations",
		Tags:        []string{"fs"},
		IsEnabled:   true,
		ToolList:    []contracts.Tool{{Name: "read_file", Description: "Reads"}},
	}
	doc := BuildServerDocument(server)
	assert.Equal(t, contracts.EntityTypeServer, doc.EntityType)
	assert.Equal(t, "/team/files", doc.Path)
	assert.Contains(t, doc.TextForEmbedding, "read_file")
	assert.Contains(t, doc.TextForEmbedding, "File operations")
}
