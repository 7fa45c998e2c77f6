package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mcpregistry-go/internal/audit"
	"mcpregistry-go/internal/config"
	"mcpregistry-go/internal/contracts"
	"mcpregistry-go/internal/embeddings"
	"mcpregistry-go/internal/federation"
	"mcpregistry-go/internal/observability"
	"mcpregistry-go/internal/registry"
	"mcpregistry-go/internal/scanner"
	"mcpregistry-go/internal/scopes"
	"mcpregistry-go/internal/search"
	"mcpregistry-go/internal/storage"
	"mcpregistry-go/internal/storage/filestore"
)

type noopIndex struct{}

func (noopIndex) Index(context.Context, *contracts.EmbeddingDocument) error { return nil }
func (noopIndex) Delete(context.Context, contracts.EntityType, string) error {
	return nil
}
func (noopIndex) LexicalSearch(context.Context, string, []contracts.EntityType, int, bool) ([]storage.IndexHit, error) {
	return nil, nil
}
func (noopIndex) VectorSearch(context.Context, []float32, []contracts.EntityType, int, bool) ([]storage.IndexHit, error) {
	return nil, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	backend, err := filestore.New(t.TempDir(), noopIndex{}, nil, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	cfg := &config.Config{
		Listen: ":0",
		Auth:   &config.AuthConfig{Disabled: true},
		Search: &config.SearchConfig{
			BM25Weight: 0.6, KNNWeight: 0.4,
			TopKPerType: 5, MaxResults: 20, QueryTimeout: 5 * time.Second,
		},
		Security:   &config.SecurityConfig{},
		Federation: &config.FederationConfig{ExportToken: "fed-secret", PeerFetchTimeout: 5 * time.Second},
	}

	gate := embeddings.NewGate(embeddings.NewLocalProvider(8), zap.NewNop())
	indexer := search.NewIndexer(backend.Search(), gate, zap.NewNop())
	engine := search.New(backend.Search(), gate, cfg.Search, zap.NewNop())
	orch := scanner.New(cfg.Security, backend, indexer, zap.NewNop())
	reg := registry.New(backend, indexer, orch, cfg.Security, zap.NewNop())
	sc := scopes.New(backend.Scopes(), zap.NewNop())
	fed := federation.NewManager(backend, indexer, cfg.Federation, zap.NewNop())
	exporter := federation.NewExporter(backend, cfg.Federation, nil, zap.NewNop())

	auditStore, err := audit.Open(filepath.Join(t.TempDir(), "audit.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = auditStore.Close() })

	health := observability.NewHealthChecker("test")

	return NewServer(Deps{
		Config:     cfg,
		Registry:   reg,
		Search:     engine,
		Scopes:     sc,
		Federation: fed,
		Exporter:   exporter,
		Audit:      auditStore,
		Health:     health,
		Gateway:    http.NotFoundHandler(),
		Logger:     zap.NewNop(),
	})
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func envelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := envelope(t, rec)
	assert.Equal(t, true, body["success"])
}

func TestServerLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, "POST", "/api/servers", map[string]interface{}{
		"path":           "/team/files",
		"server_name":    "files",
		"proxy_pass_url": "http://localhost:9000",
		"visibility":     "public",
		"tool_list":      []map[string]string{{"name": "read_file"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, s, "GET", "/api/servers", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, "GET", "/api/servers/team/files", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, "POST", "/api/servers/team/files/toggle", map[string]interface{}{"enabled": false})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, s, "GET", "/api/servers/team/files", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, "DELETE", "/api/servers/team/files?name=files", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, s, "GET", "/api/servers/team/files", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegisterServerRejectsUnknownFields(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, "POST", "/api/servers", map[string]interface{}{
		"path":        "/team/files",
		"server_name": "files",
		"bogus_field": true,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportEndpointAuth(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, "GET", "/api/federation/servers", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest("GET", "/api/federation/servers", nil)
	req.Header.Set("Authorization", "Bearer fed-secret")
	out := httptest.NewRecorder()
	s.router.ServeHTTP(out, req)
	require.Equal(t, http.StatusOK, out.Code)

	// Export responses use the bare wire shape, not the API envelope.
	var export contracts.ServerExportResponse
	require.NoError(t, json.Unmarshal(out.Body.Bytes(), &export))
	assert.NotNil(t, export.Items)
}

func TestSearchEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, "GET", "/api/search?q=files", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, "POST", "/api/search", map[string]interface{}{"query": "files"})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAuditEventsEndpoint(t *testing.T) {
	s := newTestServer(t)

	// The registry_api middleware records API mutations asynchronously.
	doJSON(t, s, "POST", "/api/servers", map[string]interface{}{
		"path":           "/team/files",
		"server_name":    "files",
		"proxy_pass_url": "http://localhost:9000",
	})

	require.Eventually(t, func() bool {
		rec := doJSON(t, s, "GET", "/api/audit/events?stream=registry_api", nil)
		if rec.Code != http.StatusOK {
			return false
		}
		body := envelope(t, rec)
		data, _ := body["data"].(map[string]interface{})
		count, _ := data["total_count"].(float64)
		return count >= 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSplitSuffix(t *testing.T) {
	path, ok := splitSuffix("/team/files/toggle", "toggle")
	assert.True(t, ok)
	assert.Equal(t, "/team/files", path)

	path, ok = splitSuffix("/team/files", "toggle")
	assert.False(t, ok)
	assert.Equal(t, "/team/files", path)

	_, ok = splitSuffix("/toggle", "toggle")
	assert.False(t, ok)
}

func TestQueryBool(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/servers?include_disabled=true", nil)
	assert.True(t, queryBool(r, "include_disabled"))

	r = httptest.NewRequest("GET", "/api/servers?include_disabled=1", nil)
	assert.False(t, queryBool(r, "include_disabled"))

	r = httptest.NewRequest("GET", "/api/servers", nil)
	assert.False(t, queryBool(r, "include_disabled"))
}
