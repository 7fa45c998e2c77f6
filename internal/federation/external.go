package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"mcpregistry-go/internal/apperrors"
	"mcpregistry-go/internal/contracts"
)

// External source ids. They double as the origin_peer value on imported
// entities and as the sync-status key.
const (
	SourceAnthropic = "anthropic"
	SourceAsor      = "asor"
)

// anthropicCatalog is the upstream MCP registry's catalog shape.
type anthropicCatalog struct {
	Servers []struct {
		Name        string           `json:"name"`
		Description string           `json:"description"`
		URL         string           `json:"url"`
		Tags        []string         `json:"tags"`
		Tools       []contracts.Tool `json:"tools"`
	} `json:"servers"`
}

// asorCatalog is the upstream agent registry's catalog shape.
type asorCatalog struct {
	Agents []struct {
		Name            string                `json:"name"`
		Description     string                `json:"description"`
		URL             string                `json:"url"`
		ProtocolVersion string                `json:"protocol_version"`
		Tags            []string              `json:"tags"`
		Skills          []contracts.AgentSkill `json:"skills"`
	} `json:"agents"`
}

// SyncExternal pulls one of the two fixed external catalogs, translating
// entries into canonical entities tagged with the source's origin type.
func (m *Manager) SyncExternal(ctx context.Context, source string) (*contracts.PeerSyncStatus, error) {
	cfg, err := m.backend.Federation().GetConfig(ctx)
	if err != nil {
		return nil, err
	}

	var srcCfg contracts.ExternalSourceConfig
	switch source {
	case SourceAnthropic:
		srcCfg = cfg.Anthropic
	case SourceAsor:
		srcCfg = cfg.Asor
	default:
		return nil, apperrors.Newf(apperrors.KindBadRequest, "unknown external source %q", source)
	}
	if !srcCfg.Enabled {
		return nil, apperrors.Newf(apperrors.KindBadRequest, "external source %s is disabled", source)
	}

	lock := m.peerLock(source)
	if !lock.TryLock() {
		return nil, apperrors.Newf(apperrors.KindConflict, "sync of %s already in progress", source)
	}
	defer lock.Unlock()

	status, err := m.backend.Federation().GetSyncStatus(ctx, source)
	if err != nil {
		if apperrors.KindOf(err) != apperrors.KindNotFound {
			return nil, err
		}
		status = &contracts.PeerSyncStatus{PeerID: source, IsHealthy: true}
	}

	newGeneration := status.CurrentGeneration + 1
	status.SyncInProgress = true
	status.LastSyncAttempt = time.Now().UTC()
	if err := m.backend.Federation().PutSyncStatus(ctx, status); err != nil {
		return nil, err
	}

	body, err := m.fetchExternal(ctx, &srcCfg)
	if err != nil {
		status.SyncInProgress = false
		status.ConsecutiveFailures++
		status.LastError = err.Error()
		if status.ConsecutiveFailures > unhealthyAfter {
			status.IsHealthy = false
		}
		_ = m.backend.Federation().PutSyncStatus(ctx, status)
		return status, err
	}

	serversSynced, agentsSynced := 0, 0
	switch source {
	case SourceAnthropic:
		serversSynced, err = m.importAnthropic(ctx, body, &srcCfg, newGeneration)
	case SourceAsor:
		agentsSynced, err = m.importAsor(ctx, body, &srcCfg, newGeneration)
	}
	if err != nil {
		status.SyncInProgress = false
		status.LastError = err.Error()
		_ = m.backend.Federation().PutSyncStatus(ctx, status)
		return status, err
	}

	serversOrphaned, agentsOrphaned := m.reclaimOrphans(ctx, source, newGeneration)

	status.CurrentGeneration = newGeneration
	status.LastSuccessfulSync = time.Now().UTC()
	status.TotalServersSynced = serversSynced
	status.TotalAgentsSynced = agentsSynced
	status.ServersOrphaned = serversOrphaned
	status.AgentsOrphaned = agentsOrphaned
	status.ConsecutiveFailures = 0
	status.IsHealthy = true
	status.SyncInProgress = false
	status.LastError = ""
	if err := m.backend.Federation().PutSyncStatus(ctx, status); err != nil {
		return nil, err
	}

	m.logger.Info("external sync complete",
		zap.String("source", source),
		zap.Int64("generation", newGeneration),
		zap.Int("servers", serversSynced),
		zap.Int("agents", agentsSynced))
	return status, nil
}

func (m *Manager) fetchExternal(ctx context.Context, srcCfg *contracts.ExternalSourceConfig) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, m.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcCfg.Endpoint, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindBadRequest, "invalid external endpoint", err)
	}
	if srcCfg.AuthEnvVar != "" {
		if token := os.Getenv(srcCfg.AuthEnvVar); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindPeerUnreachable, "external source unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.Newf(apperrors.KindPeerUnreachable,
			"external source returned %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (m *Manager) importAnthropic(ctx context.Context, body []byte, srcCfg *contracts.ExternalSourceConfig, generation int64) (int, error) {
	var catalog anthropicCatalog
	if err := json.Unmarshal(body, &catalog); err != nil {
		return 0, apperrors.Wrap(apperrors.KindBackendData, "decoding anthropic catalog failed", err)
	}

	imported := 0
	for _, entry := range catalog.Servers {
		if len(srcCfg.Servers) > 0 && !containsString(srcCfg.Servers, entry.Name) {
			continue
		}
		item := contracts.ServerExportItem{
			Path:         "/" + slugify(entry.Name),
			ServerName:   entry.Name,
			Description:  entry.Description,
			ProxyPassURL: entry.URL,
			Tags:         entry.Tags,
			ToolList:     entry.Tools,
			Visibility:   contracts.VisibilityPublic,
		}
		peer := &contracts.PeerRegistry{PeerID: SourceAnthropic}
		if err := m.upsertServer(ctx, peer, &item, generation); err != nil {
			m.logger.Warn("failed to import anthropic server",
				zap.String("name", entry.Name), zap.Error(err))
			continue
		}
		imported++
	}
	return imported, nil
}

func (m *Manager) importAsor(ctx context.Context, body []byte, srcCfg *contracts.ExternalSourceConfig, generation int64) (int, error) {
	var catalog asorCatalog
	if err := json.Unmarshal(body, &catalog); err != nil {
		return 0, apperrors.Wrap(apperrors.KindBackendData, "decoding asor catalog failed", err)
	}

	imported := 0
	for _, entry := range catalog.Agents {
		if len(srcCfg.Agents) > 0 && !containsString(srcCfg.Agents, entry.Name) {
			continue
		}
		item := contracts.AgentExportItem{
			Path:            "/" + slugify(entry.Name),
			AgentName:       entry.Name,
			Description:     entry.Description,
			ProxyPassURL:    entry.URL,
			ProtocolVersion: entry.ProtocolVersion,
			Tags:            entry.Tags,
			Skills:          entry.Skills,
			Visibility:      contracts.VisibilityPublic,
		}
		peer := &contracts.PeerRegistry{PeerID: SourceAsor}
		if err := m.upsertAgent(ctx, peer, &item, generation); err != nil {
			m.logger.Warn("failed to import asor agent",
				zap.String("name", entry.Name), zap.Error(err))
			continue
		}
		imported++
	}
	return imported, nil
}

// slugify lowers a display name into a path segment.
func slugify(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_' || r == '/':
			b.WriteRune('-')
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		slug = fmt.Sprintf("entry-%d", time.Now().UnixNano())
	}
	return slug
}
