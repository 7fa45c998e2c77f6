package tokens

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"mcpregistry-go/internal/config"
	"mcpregistry-go/internal/contracts"
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

func newRefresher(t *testing.T, cfg *config.Config) (*Refresher, storage.Backend) {
	t.Helper()
	backend, err := filestore.New(t.TempDir(), noopIndex{}, nil, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	return NewRefresher(cfg, backend, zap.NewNop()), backend
}

func baseConfig(tokensDir string) *config.Config {
	return &config.Config{
		Listen: ":8080",
		Tokens: &config.TokensConfig{
			Enabled:       true,
			Dir:           tokensDir,
			WakeInterval:  5 * time.Minute,
			RefreshBuffer: time.Hour,
		},
	}
}

func TestDue(t *testing.T) {
	r, _ := newRefresher(t, baseConfig(""))
	now := time.Now()

	assert.True(t, r.due("unknown", now))

	r.tokens["static"] = &oauth2.Token{AccessToken: "x"}
	assert.False(t, r.due("static", now))

	r.tokens["fresh"] = &oauth2.Token{AccessToken: "x", Expiry: now.Add(2 * time.Hour)}
	assert.False(t, r.due("fresh", now))

	r.tokens["expiring"] = &oauth2.Token{AccessToken: "x", Expiry: now.Add(30 * time.Minute)}
	assert.True(t, r.due("expiring", now))
}

func TestGatewayBaseURL(t *testing.T) {
	r, _ := newRefresher(t, baseConfig(""))
	assert.Equal(t, "http://localhost:8080", r.gatewayBaseURL())

	r.cfg.Listen = "0.0.0.0:9090"
	assert.Equal(t, "http://0.0.0.0:9090", r.gatewayBaseURL())
}

func TestWriteClientConfigs(t *testing.T) {
	dir := t.TempDir()
	r, backend := newRefresher(t, baseConfig(filepath.Join(dir, "tokens")))
	ctx := context.Background()

	require.NoError(t, backend.Servers().Create(ctx, &contracts.Server{
		Path: "/team/files", ServerName: "files",
		ProxyPassURL: "http://x:1", IsEnabled: true,
	}))
	require.NoError(t, backend.Servers().Create(ctx, &contracts.Server{
		Path: "/team/off", ServerName: "off",
		ProxyPassURL: "http://x:2", IsEnabled: false,
	}))

	r.cfg.Tokens.Credentials = []config.CredentialConfig{{Name: "ingress-main", Kind: "ingress"}}
	r.tokens["ingress-main"] = &oauth2.Token{AccessToken: "live-token"}

	require.NoError(t, r.writeClientConfigs(ctx))

	claudePath := filepath.Join(r.cfg.Tokens.Dir, "mcp_config.json")
	data, err := os.ReadFile(claudePath)
	require.NoError(t, err)

	var claude struct {
		MCPServers map[string]struct {
			Type    string            `json:"type"`
			URL     string            `json:"url"`
			Headers map[string]string `json:"headers"`
		} `json:"mcpServers"`
	}
	require.NoError(t, json.Unmarshal(data, &claude))
	require.Contains(t, claude.MCPServers, "files")
	assert.NotContains(t, claude.MCPServers, "off")
	entry := claude.MCPServers["files"]
	assert.Equal(t, "http", entry.Type)
	assert.Equal(t, "http://localhost:8080/team/files/mcp", entry.URL)
	assert.Equal(t, "Bearer live-token", entry.Headers["X-Authorization"])

	if runtime.GOOS != "windows" {
		info, err := os.Stat(claudePath)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}

	vsData, err := os.ReadFile(filepath.Join(r.cfg.Tokens.Dir, "vscode_mcp.json"))
	require.NoError(t, err)
	var vscode struct {
		Servers map[string]json.RawMessage `json:"servers"`
	}
	require.NoError(t, json.Unmarshal(vsData, &vscode))
	assert.Contains(t, vscode.Servers, "files")
}

func TestWriteClientConfigsNoDirConfigured(t *testing.T) {
	r, _ := newRefresher(t, baseConfig(""))
	assert.NoError(t, r.writeClientConfigs(context.Background()))
}

func TestRefreshAgainstTokenEndpoint(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"issued-token","token_type":"bearer","expires_in":3600}`))
	}))
	defer ts.Close()

	r, _ := newRefresher(t, baseConfig(""))
	cred := &config.CredentialConfig{
		Name:         "egress-main",
		Kind:         "egress",
		TokenURL:     ts.URL,
		ClientID:     "client",
		ClientSecret: "secret",
	}

	require.NoError(t, r.refresh(context.Background(), cred))
	tok := r.Token("egress-main")
	require.NotNil(t, tok)
	assert.Equal(t, "issued-token", tok.AccessToken)
	assert.False(t, tok.Expiry.IsZero())
}
