package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mcpregistry-go/internal/apperrors"
	"mcpregistry-go/internal/config"
	"mcpregistry-go/internal/contracts"
	"mcpregistry-go/internal/embeddings"
	"mcpregistry-go/internal/scanner"
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

func newService(t *testing.T, security *config.SecurityConfig) (*Service, storage.Backend) {
	t.Helper()
	backend, err := filestore.New(t.TempDir(), noopIndex{}, nil, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	gate := embeddings.NewGate(embeddings.NewLocalProvider(8), zap.NewNop())
	indexer := search.NewIndexer(backend.Search(), gate, zap.NewNop())
	orch := scanner.New(security, backend, indexer, zap.NewNop())
	return New(backend, indexer, orch, security, zap.NewNop()), backend
}

func validServer() *contracts.Server {
	return &contracts.Server{
		Path:         "/team/files",
		ServerName:   "files",
		Description:  "File operations",
		ProxyPassURL: "http://localhost:9000",
		Visibility:   contracts.VisibilityPublic,
		ToolList:     []contracts.Tool{{Name: "read_file", Description: "Reads a file"}},
	}
}

func TestRegisterServerQueuesScan(t *testing.T) {
	svc, _ := newService(t, &config.SecurityConfig{
		ScanEnabled:        true,
		ScanOnRegistration: true,
		ScanTimeout:        5 * time.Second,
	})

	registered, status, err := svc.RegisterServer(context.Background(), validServer())
	require.NoError(t, err)
	assert.Equal(t, contracts.ScanStatusPending, status)
	assert.False(t, registered.IsEnabled)
	assert.Equal(t, 1, registered.NumTools)
}

func TestRegisterServerWithoutScanningEnables(t *testing.T) {
	svc, _ := newService(t, &config.SecurityConfig{})

	registered, status, err := svc.RegisterServer(context.Background(), validServer())
	require.NoError(t, err)
	assert.Empty(t, string(status))
	assert.True(t, registered.IsEnabled)
}

func TestRegisterServerValidation(t *testing.T) {
	svc, _ := newService(t, &config.SecurityConfig{})
	ctx := context.Background()

	bad := validServer()
	bad.Path = "/Invalid Path"
	_, _, err := svc.RegisterServer(ctx, bad)
	assert.Equal(t, apperrors.KindBadRequest, apperrors.KindOf(err))

	bad = validServer()
	bad.ProxyPassURL = "not-a-url"
	_, _, err = svc.RegisterServer(ctx, bad)
	assert.Equal(t, apperrors.KindBadRequest, apperrors.KindOf(err))

	bad = validServer()
	bad.Versions = []contracts.ServerVersion{
		{Version: "v1", ProxyPassURL: "http://localhost:9001", IsDefault: true},
		{Version: "v2", ProxyPassURL: "http://localhost:9002", IsDefault: true},
	}
	_, _, err = svc.RegisterServer(ctx, bad)
	assert.Equal(t, apperrors.KindBadRequest, apperrors.KindOf(err))
}

func TestToggleUnsafeServerRequiresAdminOverride(t *testing.T) {
	svc, backend := newService(t, &config.SecurityConfig{})
	ctx := context.Background()

	server := validServer()
	server.Tags = []string{contracts.SecurityPendingTag}
	_, _, err := svc.RegisterServer(ctx, server)
	require.NoError(t, err)

	require.NoError(t, backend.Scans().Append(ctx, &contracts.ScanResult{
		ScanID:        "scan-1",
		ServerPath:    server.Path,
		ScanTimestamp: time.Now(),
		ScanStatus:    contracts.ScanStatusUnsafe,
	}))

	err = svc.ToggleServer(ctx, server.Path, true, false, false)
	assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))

	err = svc.ToggleServer(ctx, server.Path, true, true, false)
	assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))

	require.NoError(t, svc.ToggleServer(ctx, server.Path, true, true, true))
	got, err := svc.GetServer(ctx, server.Path)
	require.NoError(t, err)
	assert.True(t, got.IsEnabled)
	assert.False(t, got.HasTag(contracts.SecurityPendingTag))
}

func TestToggleDisableAlwaysAllowed(t *testing.T) {
	svc, _ := newService(t, &config.SecurityConfig{})
	ctx := context.Background()

	_, _, err := svc.RegisterServer(ctx, validServer())
	require.NoError(t, err)

	require.NoError(t, svc.ToggleServer(ctx, "/team/files", false, false, false))
	got, err := svc.GetServer(ctx, "/team/files")
	require.NoError(t, err)
	assert.False(t, got.IsEnabled)
}

func TestListServersFiltersDisabled(t *testing.T) {
	svc, _ := newService(t, &config.SecurityConfig{})
	ctx := context.Background()

	_, _, err := svc.RegisterServer(ctx, validServer())
	require.NoError(t, err)
	second := validServer()
	second.Path = "/team/time"
	second.ServerName = "time"
	_, _, err = svc.RegisterServer(ctx, second)
	require.NoError(t, err)
	require.NoError(t, svc.ToggleServer(ctx, "/team/time", false, false, false))

	visible, err := svc.ListServers(ctx, false)
	require.NoError(t, err)
	assert.Len(t, visible, 1)

	all, err := svc.ListServers(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSetDefaultVersion(t *testing.T) {
	svc, _ := newService(t, &config.SecurityConfig{})
	ctx := context.Background()

	server := validServer()
	server.Versions = []contracts.ServerVersion{
		{Version: "v1", ProxyPassURL: "http://localhost:9001", IsDefault: true},
		{Version: "v2", ProxyPassURL: "http://localhost:9002"},
	}
	_, _, err := svc.RegisterServer(ctx, server)
	require.NoError(t, err)

	updated, err := svc.SetDefaultVersion(ctx, server.Path, "v2")
	require.NoError(t, err)
	assert.False(t, updated.Versions[0].IsDefault)
	assert.True(t, updated.Versions[1].IsDefault)

	_, err = svc.SetDefaultVersion(ctx, server.Path, "v9")
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestUpdateServerConflictReportsCurrentVersion(t *testing.T) {
	svc, _ := newService(t, &config.SecurityConfig{})
	ctx := context.Background()

	_, _, err := svc.RegisterServer(ctx, validServer())
	require.NoError(t, err)

	stale := validServer()
	stale.UpdatedAt = time.Now().Add(-time.Hour)
	_, err = svc.UpdateServer(ctx, stale)
	require.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))

	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.NotEmpty(t, appErr.Fields["updated_at"])
}

func TestDeleteServerRequiresNameEcho(t *testing.T) {
	svc, backend := newService(t, &config.SecurityConfig{})
	ctx := context.Background()

	_, _, err := svc.RegisterServer(ctx, validServer())
	require.NoError(t, err)
	require.NoError(t, backend.Scans().Append(ctx, &contracts.ScanResult{
		ScanID:        "scan-1",
		ServerPath:    "/team/files",
		ScanTimestamp: time.Now(),
		ScanStatus:    contracts.ScanStatusSafe,
	}))

	err = svc.DeleteServer(ctx, "/team/files", "wrong-name")
	assert.Equal(t, apperrors.KindBadRequest, apperrors.KindOf(err))

	require.NoError(t, svc.DeleteServer(ctx, "/team/files", "files"))
	_, err = svc.GetServer(ctx, "/team/files")
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))

	history, err := backend.Scans().ListForServer(ctx, "/team/files")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestScanServerWhenScanningDisabled(t *testing.T) {
	svc, _ := newService(t, &config.SecurityConfig{})
	_, err := svc.ScanServer(context.Background(), "/team/files")
	assert.Equal(t, apperrors.KindBadRequest, apperrors.KindOf(err))
}

func TestScanHistoryUnknownServer(t *testing.T) {
	svc, _ := newService(t, &config.SecurityConfig{})
	_, err := svc.ScanHistory(context.Background(), "/missing")
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}
