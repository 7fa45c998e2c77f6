package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mcpregistry-go/internal/audit"
	"mcpregistry-go/internal/config"
	"mcpregistry-go/internal/contracts"
	"mcpregistry-go/internal/embeddings"
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

type testEnv struct {
	handler  *Handler
	registry *registry.Service
	backend  storage.Backend
}

func newEnv(t *testing.T, cfg *config.GatewayConfig) *testEnv {
	t.Helper()
	backend, err := filestore.New(t.TempDir(), noopIndex{}, nil, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	gate := embeddings.NewGate(embeddings.NewLocalProvider(8), zap.NewNop())
	indexer := search.NewIndexer(backend.Search(), gate, zap.NewNop())
	security := &config.SecurityConfig{}
	orch := scanner.New(security, backend, indexer, zap.NewNop())
	reg := registry.New(backend, indexer, orch, security, zap.NewNop())
	sc := scopes.New(backend.Scopes(), zap.NewNop())

	auditStore, err := audit.Open(filepath.Join(t.TempDir(), "audit.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = auditStore.Close() })

	if cfg == nil {
		cfg = &config.GatewayConfig{RequestTimeout: 5 * time.Second, MaxConnsPerBackend: 8}
	}
	handler := NewHandler(reg, sc, nil, auditStore, cfg, true, zap.NewNop())
	return &testEnv{handler: handler, registry: reg, backend: backend}
}

func (e *testEnv) register(t *testing.T, server *contracts.Server) {
	t.Helper()
	_, _, err := e.registry.RegisterServer(context.Background(), server)
	require.NoError(t, err)
}

func upstreamServer(t *testing.T, capture *http.Request) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if capture != nil {
			*capture = *r
		}
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"echo":%d}`, len(body))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestSplitMCPPath(t *testing.T) {
	cases := []struct {
		path   string
		server string
		rest   string
		ok     bool
	}{
		{"/files/mcp", "/files", "", true},
		{"/team/files/mcp", "/team/files", "", true},
		{"/team/files/mcp/messages", "/team/files", "/messages", true},
		{"/mcp-docs/mcp", "/mcp-docs", "", true},
		{"/team/mcpx/mcp/tools", "/team/mcpx", "/tools", true},
		{"/files/mcp/mcp", "/files/mcp", "", true},
		{"/mcp", "", "", false},
		{"/files/mcpx", "", "", false},
		{"/api/servers", "", "", false},
	}
	for _, tc := range cases {
		server, rest, ok := splitMCPPath(tc.path)
		assert.Equal(t, tc.ok, ok, tc.path)
		assert.Equal(t, tc.server, server, tc.path)
		assert.Equal(t, tc.rest, rest, tc.path)
	}
}

func TestPeekRPC(t *testing.T) {
	body := `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"read_file"}}`
	r := httptest.NewRequest("POST", "/files/mcp", strings.NewReader(body))

	call, err := peekRPC(r)
	require.NoError(t, err)
	assert.Equal(t, "tools/call", call.Method)
	assert.Equal(t, "read_file", call.ToolName)
	assert.Equal(t, "7", call.ID)

	restored, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	assert.Equal(t, body, string(restored))
}

func TestPeekRPCStringIDAndResource(t *testing.T) {
	body := `{"id":"abc","method":"resources/read","params":{"uri":"file:///etc/motd"}}`
	r := httptest.NewRequest("POST", "/files/mcp", strings.NewReader(body))

	call, err := peekRPC(r)
	require.NoError(t, err)
	assert.Equal(t, "abc", call.ID)
	assert.Equal(t, "resources/read", call.Method)
	assert.Equal(t, "file:///etc/motd", call.ResourceURI)
	assert.Empty(t, call.ToolName)
}

func TestPeekRPCNonJSONAndGet(t *testing.T) {
	r := httptest.NewRequest("POST", "/files/mcp", strings.NewReader("not json at all"))
	call, err := peekRPC(r)
	require.NoError(t, err)
	assert.Empty(t, call.Method)

	restored, _ := io.ReadAll(r.Body)
	assert.Equal(t, "not json at all", string(restored))

	get := httptest.NewRequest("GET", "/files/mcp", nil)
	call, err = peekRPC(get)
	require.NoError(t, err)
	assert.Empty(t, call.Method)
}

func TestGatewayProxiesToBackend(t *testing.T) {
	var captured http.Request
	ts := upstreamServer(t, &captured)

	env := newEnv(t, nil)
	env.register(t, &contracts.Server{
		Path:         "/team/files",
		ServerName:   "files",
		ProxyPassURL: ts.URL,
		Visibility:   contracts.VisibilityPublic,
	})

	body := `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`
	req := httptest.NewRequest("POST", "/team/files/mcp", strings.NewReader(body))
	req.Header.Set("X-Authorization", "internal-secret")
	req.Header.Set("Authorization", "Bearer user-token")
	rec := httptest.NewRecorder()

	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, captured.Header.Get("X-Authorization"))
	assert.Equal(t, "Bearer user-token", captured.Header.Get("Authorization"))
}

func TestGatewayRoutesServerPathWithMCPPrefixedSegment(t *testing.T) {
	ts := upstreamServer(t, nil)

	env := newEnv(t, nil)
	env.register(t, &contracts.Server{
		Path:         "/mcp-docs",
		ServerName:   "docs",
		ProxyPassURL: ts.URL,
		Visibility:   contracts.VisibilityPublic,
	})

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest("POST", "/mcp-docs/mcp", strings.NewReader(`{"method":"tools/list"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGatewayUnknownRouteAndDisabledServer(t *testing.T) {
	env := newEnv(t, nil)
	env.register(t, &contracts.Server{
		Path:         "/team/files",
		ServerName:   "files",
		ProxyPassURL: "http://localhost:9000",
		Visibility:   contracts.VisibilityPublic,
	})
	require.NoError(t, env.registry.ToggleServer(context.Background(), "/team/files", false, true, false))

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest("POST", "/nope/mcp", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest("POST", "/team/files/mcp", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest("POST", "/api/servers", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGatewayVersionPinning(t *testing.T) {
	var captured http.Request
	ts := upstreamServer(t, &captured)

	env := newEnv(t, nil)
	env.register(t, &contracts.Server{
		Path:         "/team/files",
		ServerName:   "files",
		ProxyPassURL: "http://localhost:9999",
		Visibility:   contracts.VisibilityPublic,
		Versions: []contracts.ServerVersion{
			{Version: "v2", ProxyPassURL: ts.URL},
		},
	})

	req := httptest.NewRequest("POST", "/team/files/mcp", strings.NewReader(`{"method":"tools/list"}`))
	req.Header.Set("X-MCP-Server-Version", "v2")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, captured.Header.Get("X-MCP-Server-Version"))

	req = httptest.NewRequest("POST", "/team/files/mcp", strings.NewReader(`{"method":"tools/list"}`))
	req.Header.Set("X-MCP-Server-Version", "v9")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGatewayVirtualServerRouting(t *testing.T) {
	var captured http.Request
	ts := upstreamServer(t, &captured)

	env := newEnv(t, nil)
	env.register(t, &contracts.Server{
		Path:         "/team/files",
		ServerName:   "files",
		ProxyPassURL: ts.URL,
		Visibility:   contracts.VisibilityPublic,
		ToolList:     []contracts.Tool{{Name: "read_file"}},
	})
	_, err := env.registry.CreateVirtualServer(context.Background(), &contracts.VirtualServer{
		Path:         "/virtual/tools",
		Name:         "tools",
		BackendPaths: []string{"/team/files"},
		IsEnabled:    true,
	})
	require.NoError(t, err)

	body := `{"method":"tools/call","params":{"name":"read_file"}}`
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest("POST", "/virtual/tools/mcp", strings.NewReader(body)))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Non-tool-call methods route to the first backend.
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest("POST", "/virtual/tools/mcp", strings.NewReader(`{"method":"initialize"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGatewayBackpressure(t *testing.T) {
	ts := upstreamServer(t, nil)

	env := newEnv(t, &config.GatewayConfig{RequestTimeout: 5 * time.Second, MaxConnsPerBackend: 8})
	env.register(t, &contracts.Server{
		Path:         "/team/files",
		ServerName:   "files",
		ProxyPassURL: ts.URL,
		Visibility:   contracts.VisibilityPublic,
	})

	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	sem := env.handler.backendSemaphore(u.Host)
	require.True(t, sem.TryAcquire(8))

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest("POST", "/team/files/mcp", strings.NewReader(`{"method":"tools/list"}`)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	sem.Release(8)
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest("POST", "/team/files/mcp", strings.NewReader(`{"method":"tools/list"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSingleJoin(t *testing.T) {
	assert.Equal(t, "/base", singleJoin("/base", ""))
	assert.Equal(t, "/base/rest", singleJoin("/base", "/rest"))
	assert.Equal(t, "/base/rest", singleJoin("/base/", "/rest"))
}
