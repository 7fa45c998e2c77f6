package federation

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mcpregistry-go/internal/apperrors"
	"mcpregistry-go/internal/config"
	"mcpregistry-go/internal/contracts"
	"mcpregistry-go/internal/storage"
	"mcpregistry-go/internal/storage/filestore"
)

func newExporter(t *testing.T, cfg *config.FederationConfig) (*Exporter, storage.Backend) {
	t.Helper()
	backend, err := filestore.New(t.TempDir(), noopIndex{}, nil, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	return NewExporter(backend, cfg, nil, zap.NewNop()), backend
}

func TestAuthorizeStaticToken(t *testing.T) {
	exporter, _ := newExporter(t, &config.FederationConfig{ExportToken: "fed-secret"})

	r := httptest.NewRequest("GET", "/api/federation/servers", nil)
	err := exporter.Authorize(r)
	assert.Equal(t, apperrors.KindUnauthenticated, apperrors.KindOf(err))

	r.Header.Set("Authorization", "Bearer wrong")
	err = exporter.Authorize(r)
	assert.Equal(t, apperrors.KindUnauthenticated, apperrors.KindOf(err))

	r.Header.Set("Authorization", "Bearer fed-secret")
	assert.NoError(t, exporter.Authorize(r))
}

func TestExportServersFiltersAndGeneration(t *testing.T) {
	exporter, backend := newExporter(t, &config.FederationConfig{})
	ctx := context.Background()

	public := &contracts.Server{
		Path: "/files", ServerName: "files", ProxyPassURL: "http://x:1",
		IsEnabled: true, Visibility: contracts.VisibilityPublic,
		Federation: contracts.FederationMeta{Generation: 4},
	}
	private := &contracts.Server{
		Path: "/internal", ServerName: "internal", ProxyPassURL: "http://x:2",
		IsEnabled: true, Visibility: contracts.VisibilityPrivate,
	}
	disabled := &contracts.Server{
		Path: "/off", ServerName: "off", ProxyPassURL: "http://x:3",
		IsEnabled: false, Visibility: contracts.VisibilityPublic,
		Federation: contracts.FederationMeta{Generation: 9},
	}
	for _, s := range []*contracts.Server{public, private, disabled} {
		require.NoError(t, backend.Servers().Create(ctx, s))
	}

	resp, err := exporter.ExportServers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.TotalCount)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "/files", resp.Items[0].Path)
	assert.Equal(t, int64(4), resp.Generation)
}

func TestExportAgentsEmptyRegistry(t *testing.T) {
	exporter, _ := newExporter(t, &config.FederationConfig{})

	resp, err := exporter.ExportAgents(context.Background())
	require.NoError(t, err)
	assert.Zero(t, resp.TotalCount)
	assert.NotNil(t, resp.Items)
	assert.Zero(t, resp.Generation)
}
