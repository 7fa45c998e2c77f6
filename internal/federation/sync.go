package federation

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"mcpregistry-go/internal/apperrors"
	"mcpregistry-go/internal/contracts"
)

// unhealthyAfter is the consecutive-failure count that marks a peer down.
const unhealthyAfter = 2

// originType labels an imported entity by its source: peers by the generic
// "peer" type, the fixed external catalogs by their own ids.
func originType(sourceID string) string {
	switch sourceID {
	case SourceAnthropic, SourceAsor:
		return sourceID
	default:
		return "peer"
	}
}

// RemapPath prefixes an imported entity path with the peer id so federated
// copies never collide with local entities. Already-prefixed paths pass
// through unchanged, keeping re-imports idempotent.
func RemapPath(peerID, path string) string {
	prefix := "/" + peerID + "/"
	if strings.HasPrefix(path, prefix) {
		return path
	}
	return prefix + strings.TrimPrefix(path, "/")
}

// SyncPeer runs one pull-sync cycle against the peer. Concurrent syncs of
// the same peer are excluded by the in-memory lock; the sync_in_progress
// flag on the status document is the durable safety net.
func (m *Manager) SyncPeer(ctx context.Context, peerID string) (*contracts.PeerSyncStatus, error) {
	lock := m.peerLock(peerID)
	if !lock.TryLock() {
		return nil, apperrors.Newf(apperrors.KindConflict, "sync of peer %s already in progress", peerID)
	}
	defer lock.Unlock()

	peer, err := m.backend.Federation().GetPeer(ctx, peerID)
	if err != nil {
		return nil, err
	}

	status, err := m.backend.Federation().GetSyncStatus(ctx, peerID)
	if err != nil {
		if apperrors.KindOf(err) != apperrors.KindNotFound {
			return nil, err
		}
		status = &contracts.PeerSyncStatus{PeerID: peerID, IsHealthy: true}
	}

	newGeneration := status.CurrentGeneration + 1
	status.SyncInProgress = true
	status.LastSyncAttempt = time.Now().UTC()
	if err := m.backend.Federation().PutSyncStatus(ctx, status); err != nil {
		return nil, err
	}

	client := newPeerClient(peer, m.fetchTimeout)
	serverResp, err := client.FetchServers(ctx)
	var agentResp *contracts.AgentExportResponse
	if err == nil {
		agentResp, err = client.FetchAgents(ctx)
	}
	if err != nil {
		status.SyncInProgress = false
		status.ConsecutiveFailures++
		status.LastError = err.Error()
		if status.ConsecutiveFailures > unhealthyAfter {
			status.IsHealthy = false
		}
		if putErr := m.backend.Federation().PutSyncStatus(ctx, status); putErr != nil {
			m.logger.Error("failed to persist sync failure", zap.String("peer", peerID), zap.Error(putErr))
		}
		return status, err
	}

	serversSynced := 0
	for _, item := range serverResp.Items {
		if !m.acceptServer(peer, &item) {
			continue
		}
		if err := m.upsertServer(ctx, peer, &item, newGeneration); err != nil {
			m.logger.Warn("failed to import server",
				zap.String("peer", peerID), zap.String("path", item.Path), zap.Error(err))
			continue
		}
		serversSynced++
	}

	agentsSynced := 0
	for _, item := range agentResp.Items {
		if !m.acceptAgent(peer, &item) {
			continue
		}
		if err := m.upsertAgent(ctx, peer, &item, newGeneration); err != nil {
			m.logger.Warn("failed to import agent",
				zap.String("peer", peerID), zap.String("path", item.Path), zap.Error(err))
			continue
		}
		agentsSynced++
	}

	serversOrphaned, agentsOrphaned := m.reclaimOrphans(ctx, peerID, newGeneration)

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

	m.logger.Info("peer sync complete",
		zap.String("peer", peerID),
		zap.Int64("generation", newGeneration),
		zap.Int("servers", serversSynced),
		zap.Int("agents", agentsSynced),
		zap.Int("servers_orphaned", serversOrphaned),
		zap.Int("agents_orphaned", agentsOrphaned))
	return status, nil
}

// acceptServer applies the peer's sync-mode filter.
func (m *Manager) acceptServer(peer *contracts.PeerRegistry, item *contracts.ServerExportItem) bool {
	if item.Visibility != contracts.VisibilityPublic {
		return false
	}
	switch peer.SyncMode {
	case contracts.SyncModeWhitelist:
		return containsString(peer.WhitelistServers, item.Path)
	case contracts.SyncModeTagFilter:
		return intersects(item.Tags, peer.TagFilters)
	default:
		return true
	}
}

func (m *Manager) acceptAgent(peer *contracts.PeerRegistry, item *contracts.AgentExportItem) bool {
	if item.Visibility != contracts.VisibilityPublic {
		return false
	}
	switch peer.SyncMode {
	case contracts.SyncModeWhitelist:
		return containsString(peer.WhitelistAgents, item.Path)
	case contracts.SyncModeTagFilter:
		return intersects(item.Tags, peer.TagFilters)
	default:
		return true
	}
}

func (m *Manager) upsertServer(ctx context.Context, peer *contracts.PeerRegistry, item *contracts.ServerExportItem, generation int64) error {
	localPath := RemapPath(peer.PeerID, item.Path)

	server := &contracts.Server{
		Path:                localPath,
		ServerName:          item.ServerName,
		Description:         item.Description,
		ProxyPassURL:        item.ProxyPassURL,
		SupportedTransports: item.SupportedTransports,
		Tags:                item.Tags,
		ToolList:            item.ToolList,
		NumTools:            len(item.ToolList),
		IsEnabled:           true,
		Visibility:          contracts.VisibilityPublic,
		Federation: contracts.FederationMeta{
			OriginPeer: peer.PeerID,
			OriginType: originType(peer.PeerID),
			Generation: generation,
		},
	}

	existing, err := m.backend.Servers().Get(ctx, localPath)
	switch {
	case err == nil:
		server.CreatedAt = existing.CreatedAt
		server.IsEnabled = existing.IsEnabled
		server.UpdatedAt = existing.UpdatedAt // CAS token
		if err := m.backend.Servers().Update(ctx, server); err != nil {
			return err
		}
	case apperrors.KindOf(err) == apperrors.KindNotFound:
		if err := m.backend.Servers().Create(ctx, server); err != nil {
			return err
		}
	default:
		return err
	}

	return m.indexer.IndexServer(ctx, server)
}

func (m *Manager) upsertAgent(ctx context.Context, peer *contracts.PeerRegistry, item *contracts.AgentExportItem, generation int64) error {
	localPath := RemapPath(peer.PeerID, item.Path)

	agent := &contracts.Agent{
		Path:                localPath,
		AgentName:           item.AgentName,
		Description:         item.Description,
		ProxyPassURL:        item.ProxyPassURL,
		SupportedTransports: item.SupportedTransports,
		Tags:                item.Tags,
		ProtocolVersion:     item.ProtocolVersion,
		Skills:              item.Skills,
		TrustLevel:          contracts.TrustLow,
		IsEnabled:           true,
		Visibility:          contracts.VisibilityPublic,
		Federation: contracts.FederationMeta{
			OriginPeer: peer.PeerID,
			OriginType: originType(peer.PeerID),
			Generation: generation,
		},
	}

	existing, err := m.backend.Agents().Get(ctx, localPath)
	switch {
	case err == nil:
		agent.CreatedAt = existing.CreatedAt
		agent.IsEnabled = existing.IsEnabled
		agent.TrustLevel = existing.TrustLevel
		agent.UpdatedAt = existing.UpdatedAt
		if err := m.backend.Agents().Update(ctx, agent); err != nil {
			return err
		}
	case apperrors.KindOf(err) == apperrors.KindNotFound:
		if err := m.backend.Agents().Create(ctx, agent); err != nil {
			return err
		}
	default:
		return err
	}

	return m.indexer.IndexAgent(ctx, agent)
}

// reclaimOrphans deletes federated entities of the peer left behind by
// earlier generations.
func (m *Manager) reclaimOrphans(ctx context.Context, peerID string, generation int64) (int, int) {
	serversOrphaned := 0
	if servers, err := m.backend.Servers().ListAll(ctx); err == nil {
		for _, server := range servers {
			if server.Federation.OriginPeer != peerID || server.Federation.Generation >= generation {
				continue
			}
			if err := m.backend.Servers().Delete(ctx, server.Path); err != nil {
				m.logger.Warn("failed to reclaim orphaned server", zap.String("path", server.Path), zap.Error(err))
				continue
			}
			if err := m.indexer.Remove(ctx, contracts.EntityTypeServer, server.Path); err != nil {
				m.logger.Warn("failed to remove orphan embedding", zap.String("path", server.Path), zap.Error(err))
			}
			serversOrphaned++
		}
	}

	agentsOrphaned := 0
	if agents, err := m.backend.Agents().ListAll(ctx); err == nil {
		for _, agent := range agents {
			if agent.Federation.OriginPeer != peerID || agent.Federation.Generation >= generation {
				continue
			}
			if err := m.backend.Agents().Delete(ctx, agent.Path); err != nil {
				m.logger.Warn("failed to reclaim orphaned agent", zap.String("path", agent.Path), zap.Error(err))
				continue
			}
			if err := m.indexer.Remove(ctx, contracts.EntityTypeAgent, agent.Path); err != nil {
				m.logger.Warn("failed to remove orphan embedding", zap.String("path", agent.Path), zap.Error(err))
			}
			agentsOrphaned++
		}
	}

	return serversOrphaned, agentsOrphaned
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
