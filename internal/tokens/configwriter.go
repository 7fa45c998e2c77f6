package tokens

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"mcpregistry-go/internal/apperrors"
)

// File names written into the tokens directory each cycle.
const (
	claudeConfigFile = "mcp_config.json"
	vscodeConfigFile = "vscode_mcp.json"
)

// claudeConfig is the Claude/Roocode client config shape.
type claudeConfig struct {
	MCPServers map[string]clientServerEntry `json:"mcpServers"`
}

// vscodeConfig is the VS Code MCP config shape.
type vscodeConfig struct {
	Servers map[string]clientServerEntry `json:"servers"`
}

type clientServerEntry struct {
	Type    string            `json:"type"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// writeClientConfigs renders both client config files from the current
// server list. Servers without auth requirements appear alongside tokened
// ones so clients get one complete map.
func (r *Refresher) writeClientConfigs(ctx context.Context) error {
	if r.cfg.Tokens.Dir == "" {
		return nil
	}

	servers, err := r.backend.Servers().ListAll(ctx)
	if err != nil {
		return err
	}

	var headers map[string]string
	if tok := r.ingressToken(); tok != "" {
		headers = map[string]string{"X-Authorization": "Bearer " + tok}
	}

	base := r.gatewayBaseURL()
	entries := make(map[string]clientServerEntry, len(servers))
	for _, server := range servers {
		if !server.IsEnabled {
			continue
		}
		entries[server.ServerName] = clientServerEntry{
			Type:    "http",
			URL:     base + server.Path + "/mcp",
			Headers: headers,
		}
	}

	if err := os.MkdirAll(r.cfg.Tokens.Dir, 0o700); err != nil {
		return apperrors.Wrap(apperrors.KindTransientBackend, "creating tokens dir failed", err)
	}

	if err := r.writeJSON(claudeConfigFile, claudeConfig{MCPServers: entries}); err != nil {
		return err
	}
	return r.writeJSON(vscodeConfigFile, vscodeConfig{Servers: entries})
}

// ingressToken returns the first live ingress credential's access token.
func (r *Refresher) ingressToken() string {
	for i := range r.cfg.Tokens.Credentials {
		cred := &r.cfg.Tokens.Credentials[i]
		if cred.Kind != "ingress" {
			continue
		}
		if tok := r.Token(cred.Name); tok != nil {
			return tok.AccessToken
		}
	}
	return ""
}

// writeJSON writes the file atomically with 0600 permissions so tokens never
// appear in a partially-written or world-readable file.
func (r *Refresher) writeJSON(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return apperrors.Wrap(apperrors.KindBackendData, "encoding client config failed", err)
	}

	target := filepath.Join(r.cfg.Tokens.Dir, name)
	tmp, err := os.CreateTemp(r.cfg.Tokens.Dir, name+".tmp-*")
	if err != nil {
		return apperrors.Wrap(apperrors.KindTransientBackend, "creating temp config failed", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return apperrors.Wrap(apperrors.KindTransientBackend, "writing client config failed", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return apperrors.Wrap(apperrors.KindTransientBackend, "setting config permissions failed", err)
	}
	if err := tmp.Close(); err != nil {
		return apperrors.Wrap(apperrors.KindTransientBackend, "closing temp config failed", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return apperrors.Wrap(apperrors.KindTransientBackend,
			fmt.Sprintf("replacing %s failed", name), err)
	}
	return nil
}
