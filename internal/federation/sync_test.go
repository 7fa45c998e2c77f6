package federation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"mcpregistry-go/internal/apperrors"
	"mcpregistry-go/internal/config"
	"mcpregistry-go/internal/contracts"
	"mcpregistry-go/internal/embeddings"
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

// fakePeer serves the export wire format with a mutable item set.
type fakePeer struct {
	mu      sync.Mutex
	servers []contracts.ServerExportItem
	agents  []contracts.AgentExportItem
}

func (p *fakePeer) setServers(items ...contracts.ServerExportItem) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.servers = items
}

func (p *fakePeer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/federation/servers", func(w http.ResponseWriter, _ *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		_ = json.NewEncoder(w).Encode(contracts.ServerExportResponse{
			TotalCount: len(p.servers),
			Items:      p.servers,
		})
	})
	mux.HandleFunc("/api/federation/agents", func(w http.ResponseWriter, _ *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		_ = json.NewEncoder(w).Encode(contracts.AgentExportResponse{
			TotalCount: len(p.agents),
			Items:      p.agents,
		})
	})
	return mux
}

func newManager(t *testing.T) (*Manager, storage.Backend) {
	t.Helper()
	backend, err := filestore.New(t.TempDir(), noopIndex{}, nil, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	gate := embeddings.NewGate(embeddings.NewLocalProvider(8), zap.NewNop())
	indexer := search.NewIndexer(backend.Search(), gate, zap.NewNop())
	cfg := &config.FederationConfig{PeerFetchTimeout: 5 * time.Second}
	return NewManager(backend, indexer, cfg, zap.NewNop()), backend
}

func addPeer(t *testing.T, m *Manager, endpoint string, mutate func(*contracts.PeerRegistry)) *contracts.PeerRegistry {
	t.Helper()
	peer := &contracts.PeerRegistry{
		PeerID:              "partner",
		Name:                "Partner",
		Endpoint:            endpoint,
		Enabled:             true,
		SyncMode:            contracts.SyncModeAll,
		SyncIntervalMinutes: 60,
	}
	if mutate != nil {
		mutate(peer)
	}
	created, err := m.AddPeer(context.Background(), peer)
	require.NoError(t, err)
	return created
}

func exportItem(path string, tags ...string) contracts.ServerExportItem {
	return contracts.ServerExportItem{
		Path:         path,
		ServerName:   strings.TrimPrefix(path, "/"),
		ProxyPassURL: "http://backend:9000",
		Tags:         tags,
		Visibility:   contracts.VisibilityPublic,
		ToolList:     []contracts.Tool{{Name: "ping"}},
	}
}

func TestRemapPath(t *testing.T) {
	assert.Equal(t, "/partner/files", RemapPath("partner", "/files"))
	assert.Equal(t, "/partner/team/files", RemapPath("partner", "/team/files"))
	assert.Equal(t, "/partner/files", RemapPath("partner", "/partner/files"))
}

func TestRemapPathIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		peerID := rapid.StringMatching(`[a-z0-9_-]{1,16}`).Draw(t, "peer_id")
		path := "/" + rapid.StringMatching(`[a-z0-9][a-z0-9/_-]{0,30}`).Draw(t, "path")

		once := RemapPath(peerID, path)
		twice := RemapPath(peerID, once)
		if once != twice {
			t.Fatalf("remap not idempotent: %q -> %q -> %q", path, once, twice)
		}
		if !strings.HasPrefix(once, "/"+peerID+"/") {
			t.Fatalf("remapped path %q lacks peer prefix", once)
		}
	})
}

func TestSyncPeerImportsAndReclaims(t *testing.T) {
	m, backend := newManager(t)
	ctx := context.Background()

	peerSrv := &fakePeer{}
	peerSrv.setServers(exportItem("/files"), exportItem("/time"))
	ts := httptest.NewServer(peerSrv.handler())
	defer ts.Close()

	addPeer(t, m, ts.URL, nil)

	status, err := m.SyncPeer(ctx, "partner")
	require.NoError(t, err)
	assert.Equal(t, int64(1), status.CurrentGeneration)
	assert.Equal(t, 2, status.TotalServersSynced)
	assert.True(t, status.IsHealthy)
	assert.False(t, status.SyncInProgress)

	imported, err := backend.Servers().Get(ctx, "/partner/files")
	require.NoError(t, err)
	assert.Equal(t, "partner", imported.Federation.OriginPeer)
	assert.Equal(t, "peer", imported.Federation.OriginType)
	assert.Equal(t, int64(1), imported.Federation.Generation)

	// Second cycle with one item gone reclaims the orphan.
	peerSrv.setServers(exportItem("/files"))
	status, err = m.SyncPeer(ctx, "partner")
	require.NoError(t, err)
	assert.Equal(t, int64(2), status.CurrentGeneration)
	assert.Equal(t, 1, status.TotalServersSynced)
	assert.Equal(t, 1, status.ServersOrphaned)

	_, err = backend.Servers().Get(ctx, "/partner/time")
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))

	kept, err := backend.Servers().Get(ctx, "/partner/files")
	require.NoError(t, err)
	assert.Equal(t, int64(2), kept.Federation.Generation)
}

func TestSyncPeerSkipsNonPublicItems(t *testing.T) {
	m, backend := newManager(t)

	private := exportItem("/secret")
	private.Visibility = contracts.VisibilityPrivate
	peerSrv := &fakePeer{}
	peerSrv.setServers(private, exportItem("/files"))
	ts := httptest.NewServer(peerSrv.handler())
	defer ts.Close()

	addPeer(t, m, ts.URL, nil)

	status, err := m.SyncPeer(context.Background(), "partner")
	require.NoError(t, err)
	assert.Equal(t, 1, status.TotalServersSynced)

	_, err = backend.Servers().Get(context.Background(), "/partner/secret")
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestSyncPeerWhitelistMode(t *testing.T) {
	m, backend := newManager(t)

	peerSrv := &fakePeer{}
	peerSrv.setServers(exportItem("/files"), exportItem("/time"))
	ts := httptest.NewServer(peerSrv.handler())
	defer ts.Close()

	addPeer(t, m, ts.URL, func(p *contracts.PeerRegistry) {
		p.SyncMode = contracts.SyncModeWhitelist
		p.WhitelistServers = []string{"/files"}
	})

	status, err := m.SyncPeer(context.Background(), "partner")
	require.NoError(t, err)
	assert.Equal(t, 1, status.TotalServersSynced)

	_, err = backend.Servers().Get(context.Background(), "/partner/time")
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestSyncPeerTagFilterMode(t *testing.T) {
	m, backend := newManager(t)

	peerSrv := &fakePeer{}
	peerSrv.setServers(exportItem("/files", "prod"), exportItem("/time", "dev"))
	ts := httptest.NewServer(peerSrv.handler())
	defer ts.Close()

	addPeer(t, m, ts.URL, func(p *contracts.PeerRegistry) {
		p.SyncMode = contracts.SyncModeTagFilter
		p.TagFilters = []string{"prod"}
	})

	status, err := m.SyncPeer(context.Background(), "partner")
	require.NoError(t, err)
	assert.Equal(t, 1, status.TotalServersSynced)

	_, err = backend.Servers().Get(context.Background(), "/partner/files")
	assert.NoError(t, err)
}

func TestSyncPeerFailureMarksUnhealthy(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	addPeer(t, m, "http://127.0.0.1:1", nil)

	var status *contracts.PeerSyncStatus
	for i := 0; i < 3; i++ {
		var err error
		status, err = m.SyncPeer(ctx, "partner")
		require.Error(t, err)
		assert.Equal(t, apperrors.KindPeerUnreachable, apperrors.KindOf(err))
	}
	require.NotNil(t, status)
	assert.Equal(t, 3, status.ConsecutiveFailures)
	assert.False(t, status.IsHealthy)
	assert.NotEmpty(t, status.LastError)
	assert.Zero(t, status.CurrentGeneration)
}

func TestSyncRecoveryResetsFailures(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	peerSrv := &fakePeer{}
	peerSrv.setServers(exportItem("/files"))
	ts := httptest.NewServer(peerSrv.handler())
	defer ts.Close()

	peer := addPeer(t, m, "http://127.0.0.1:1", nil)
	_, err := m.SyncPeer(ctx, "partner")
	require.Error(t, err)

	peer.Endpoint = ts.URL
	_, err = m.UpdatePeer(ctx, peer)
	require.NoError(t, err)

	status, err := m.SyncPeer(ctx, "partner")
	require.NoError(t, err)
	assert.Zero(t, status.ConsecutiveFailures)
	assert.True(t, status.IsHealthy)
}

func TestAddPeerValidation(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	_, err := m.AddPeer(ctx, &contracts.PeerRegistry{PeerID: "bad id!", Endpoint: "http://x", SyncIntervalMinutes: 60})
	assert.Equal(t, apperrors.KindBadRequest, apperrors.KindOf(err))

	_, err = m.AddPeer(ctx, &contracts.PeerRegistry{PeerID: "ok", Endpoint: "", SyncIntervalMinutes: 60})
	assert.Equal(t, apperrors.KindBadRequest, apperrors.KindOf(err))

	_, err = m.AddPeer(ctx, &contracts.PeerRegistry{PeerID: "ok", Endpoint: "http://x", SyncIntervalMinutes: 1})
	assert.Equal(t, apperrors.KindBadRequest, apperrors.KindOf(err))
}

func TestAddPeerConflict(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	peer := &contracts.PeerRegistry{PeerID: "partner", Endpoint: "http://x", SyncIntervalMinutes: 60}
	_, err := m.AddPeer(ctx, peer)
	require.NoError(t, err)

	_, err = m.AddPeer(ctx, &contracts.PeerRegistry{PeerID: "partner", Endpoint: "http://y", SyncIntervalMinutes: 60})
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))
}

func TestTopology(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	addPeer(t, m, "http://partner.example.com", nil)
	require.NoError(t, m.PutExternalConfig(ctx, &contracts.FederationConfig{
		ConfigID:  contracts.FederationConfigID,
		Anthropic: contracts.ExternalSourceConfig{Enabled: true, Endpoint: "https://registry.anthropic.example"},
	}))

	topo, err := m.Topology(ctx)
	require.NoError(t, err)
	require.Len(t, topo.Nodes, 3)
	assert.Equal(t, "local", topo.Nodes[0].ID)
	require.Len(t, topo.Edges, 2)
	for _, edge := range topo.Edges {
		assert.Equal(t, "local", edge.To)
	}
}
