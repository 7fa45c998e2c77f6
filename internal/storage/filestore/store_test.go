package filestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mcpregistry-go/internal/apperrors"
	"mcpregistry-go/internal/contracts"
	"mcpregistry-go/internal/storage"
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

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir(), noopIndex{}, nil, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testServer(path string) *contracts.Server {
	return &contracts.Server{
		Path:         path,
		ServerName:   "files",
		ProxyPassURL: "http://localhost:9000",
		IsEnabled:    true,
		Visibility:   contracts.VisibilityPublic,
	}
}

func TestServerCreateGetDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	server := testServer("/team/files")
	require.NoError(t, store.Servers().Create(ctx, server))
	assert.False(t, server.CreatedAt.IsZero())

	got, err := store.Servers().Get(ctx, "/team/files")
	require.NoError(t, err)
	assert.Equal(t, "files", got.ServerName)

	err = store.Servers().Create(ctx, testServer("/team/files"))
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))

	require.NoError(t, store.Servers().Delete(ctx, "/team/files"))
	_, err = store.Servers().Get(ctx, "/team/files")
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestServerUpdateConflictsOnStaleVersion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	server := testServer("/team/files")
	require.NoError(t, store.Servers().Create(ctx, server))

	fresh, err := store.Servers().Get(ctx, server.Path)
	require.NoError(t, err)
	fresh.Description = "updated"
	require.NoError(t, store.Servers().Update(ctx, fresh))

	stale := testServer("/team/files")
	stale.UpdatedAt = time.Now().Add(-time.Hour)
	err = store.Servers().Update(ctx, stale)
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))
}

func TestSetEnabledOverlaySurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir, noopIndex{}, nil, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Servers().Create(ctx, testServer("/team/files")))
	require.NoError(t, store.Servers().SetEnabled(ctx, "/team/files", false))

	got, err := store.Servers().Get(ctx, "/team/files")
	require.NoError(t, err)
	assert.False(t, got.IsEnabled)
	require.NoError(t, store.Close())

	reopened, err := New(dir, noopIndex{}, nil, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()

	got, err = reopened.Servers().Get(ctx, "/team/files")
	require.NoError(t, err)
	assert.False(t, got.IsEnabled)
}

func TestUpdateClearsEnableOverride(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Servers().Create(ctx, testServer("/team/files")))
	require.NoError(t, store.Servers().SetEnabled(ctx, "/team/files", false))

	fresh, err := store.Servers().Get(ctx, "/team/files")
	require.NoError(t, err)
	fresh.IsEnabled = true
	require.NoError(t, store.Servers().Update(ctx, fresh))

	got, err := store.Servers().Get(ctx, "/team/files")
	require.NoError(t, err)
	assert.True(t, got.IsEnabled)
}

func TestSetEnabledUnknownServer(t *testing.T) {
	store := newTestStore(t)
	err := store.Servers().SetEnabled(context.Background(), "/nope", true)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestScanAppendAndLatest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	older := &contracts.ScanResult{
		ScanID:        "scan-1",
		ServerPath:    "/team/files",
		ScanTimestamp: time.Now().Add(-time.Hour),
		ScanStatus:    contracts.ScanStatusSafe,
	}
	newer := &contracts.ScanResult{
		ScanID:        "scan-2",
		ServerPath:    "/team/files",
		ScanTimestamp: time.Now(),
		ScanStatus:    contracts.ScanStatusUnsafe,
	}
	require.NoError(t, store.Scans().Append(ctx, older))
	require.NoError(t, store.Scans().Append(ctx, newer))

	latest, err := store.Scans().Latest(ctx, "/team/files")
	require.NoError(t, err)
	assert.Equal(t, "scan-2", latest.ScanID)

	history, err := store.Scans().ListForServer(ctx, "/team/files")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "scan-2", history[0].ScanID)

	require.NoError(t, store.Scans().DeleteForServer(ctx, "/team/files"))
	_, err = store.Scans().Latest(ctx, "/team/files")
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestScopeRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc := &contracts.ScopeDocument{
		ScopeType: contracts.ScopeTypeServer,
		ScopeName: "files-readonly",
		ServerAccess: []contracts.ServerAccessRule{
			{Server: "/team/files", Methods: []string{"tools/list"}},
		},
	}
	require.NoError(t, store.Scopes().Put(ctx, doc))

	got, err := store.Scopes().Get(ctx, "files-readonly")
	require.NoError(t, err)
	assert.Equal(t, doc.ServerAccess, got.ServerAccess)

	all, err := store.Scopes().ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestPeerRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	peer := &contracts.PeerRegistry{
		PeerID:   "partner",
		Name:     "Partner Registry",
		Endpoint: "https://partner.example.com",
		Enabled:  true,
		SyncMode: contracts.SyncModeAll,
	}
	require.NoError(t, store.Federation().PutPeer(ctx, peer))

	got, err := store.Federation().GetPeer(ctx, "partner")
	require.NoError(t, err)
	assert.Equal(t, "Partner Registry", got.Name)

	status := &contracts.PeerSyncStatus{PeerID: "partner", CurrentGeneration: 3, IsHealthy: true}
	require.NoError(t, store.Federation().PutSyncStatus(ctx, status))
	gotStatus, err := store.Federation().GetSyncStatus(ctx, "partner")
	require.NoError(t, err)
	assert.Equal(t, int64(3), gotStatus.CurrentGeneration)

	require.NoError(t, store.Federation().DeletePeer(ctx, "partner"))
	_, err = store.Federation().GetPeer(ctx, "partner")
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}
