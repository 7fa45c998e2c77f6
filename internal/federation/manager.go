package federation

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"mcpregistry-go/internal/apperrors"
	"mcpregistry-go/internal/config"
	"mcpregistry-go/internal/contracts"
	"mcpregistry-go/internal/search"
	"mcpregistry-go/internal/storage"
)

// Manager owns federation state: peer configuration, per-peer sync workers,
// the two external-source adapters, and the unified topology view.
type Manager struct {
	backend      storage.Backend
	indexer      *search.Indexer
	fetchTimeout time.Duration
	logger       *zap.Logger

	mu        sync.Mutex
	peerLocks map[string]*sync.Mutex
	cancels   map[string]context.CancelFunc

	// runCtx parents the per-peer workers; set by Run.
	runCtx context.Context
	wg     sync.WaitGroup
}

// NewManager builds the manager.
func NewManager(backend storage.Backend, indexer *search.Indexer, cfg *config.FederationConfig, logger *zap.Logger) *Manager {
	return &Manager{
		backend:      backend,
		indexer:      indexer,
		fetchTimeout: cfg.PeerFetchTimeout,
		logger:       logger,
		peerLocks:    map[string]*sync.Mutex{},
		cancels:      map[string]context.CancelFunc{},
	}
}

func (m *Manager) peerLock(peerID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.peerLocks[peerID]
	if !ok {
		lock = &sync.Mutex{}
		m.peerLocks[peerID] = lock
	}
	return lock
}

// Run starts one worker per enabled peer, syncs enabled external sources on
// startup when configured, and blocks until the context ends.
func (m *Manager) Run(ctx context.Context) {
	m.runCtx = ctx

	peers, err := m.backend.Federation().ListPeers(ctx)
	if err != nil {
		m.logger.Error("failed to list peers at startup", zap.Error(err))
	}
	for _, peer := range peers {
		if peer.Enabled {
			m.startWorker(peer)
		}
	}

	if cfg, err := m.backend.Federation().GetConfig(ctx); err == nil {
		if cfg.Anthropic.Enabled && cfg.Anthropic.SyncOnStartup {
			if _, err := m.SyncExternal(ctx, SourceAnthropic); err != nil {
				m.logger.Warn("startup anthropic sync failed", zap.Error(err))
			}
		}
		if cfg.Asor.Enabled && cfg.Asor.SyncOnStartup {
			if _, err := m.SyncExternal(ctx, SourceAsor); err != nil {
				m.logger.Warn("startup asor sync failed", zap.Error(err))
			}
		}
	}

	<-ctx.Done()
	m.wg.Wait()
}

// startWorker launches the pull-sync loop for one peer.
func (m *Manager) startWorker(peer *contracts.PeerRegistry) {
	m.mu.Lock()
	if _, running := m.cancels[peer.PeerID]; running {
		m.mu.Unlock()
		return
	}
	workerCtx, cancel := context.WithCancel(m.runCtx)
	m.cancels[peer.PeerID] = cancel
	m.mu.Unlock()

	interval := time.Duration(peer.SyncIntervalMinutes) * time.Minute
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.logger.Info("peer sync worker started",
			zap.String("peer", peer.PeerID), zap.Duration("interval", interval))

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				m.logger.Info("peer sync worker stopped", zap.String("peer", peer.PeerID))
				return
			case <-ticker.C:
				if _, err := m.SyncPeer(workerCtx, peer.PeerID); err != nil {
					m.logger.Warn("scheduled sync failed",
						zap.String("peer", peer.PeerID), zap.Error(err))
				}
			}
		}
	}()
}

func (m *Manager) stopWorker(peerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.cancels[peerID]; ok {
		cancel()
		delete(m.cancels, peerID)
	}
}

// AddPeer validates and stores a peer, starting its worker when enabled.
func (m *Manager) AddPeer(ctx context.Context, peer *contracts.PeerRegistry) (*contracts.PeerRegistry, error) {
	if err := validatePeer(peer); err != nil {
		return nil, err
	}
	if _, err := m.backend.Federation().GetPeer(ctx, peer.PeerID); err == nil {
		return nil, apperrors.Newf(apperrors.KindConflict, "peer %s already exists", peer.PeerID)
	}

	if err := m.backend.Federation().PutPeer(ctx, peer); err != nil {
		return nil, err
	}
	if err := m.backend.Federation().PutSyncStatus(ctx, &contracts.PeerSyncStatus{
		PeerID:    peer.PeerID,
		IsHealthy: true,
	}); err != nil {
		return nil, err
	}

	if peer.Enabled && m.runCtx != nil {
		m.startWorker(peer)
	}
	return peer, nil
}

// UpdatePeer replaces a peer's configuration and restarts its worker.
func (m *Manager) UpdatePeer(ctx context.Context, peer *contracts.PeerRegistry) (*contracts.PeerRegistry, error) {
	if err := validatePeer(peer); err != nil {
		return nil, err
	}
	existing, err := m.backend.Federation().GetPeer(ctx, peer.PeerID)
	if err != nil {
		return nil, err
	}
	peer.CreatedAt = existing.CreatedAt

	if err := m.backend.Federation().PutPeer(ctx, peer); err != nil {
		return nil, err
	}

	m.stopWorker(peer.PeerID)
	if peer.Enabled && m.runCtx != nil {
		m.startWorker(peer)
	}
	return peer, nil
}

// SetPeerEnabled toggles a peer and its worker.
func (m *Manager) SetPeerEnabled(ctx context.Context, peerID string, enabled bool) error {
	peer, err := m.backend.Federation().GetPeer(ctx, peerID)
	if err != nil {
		return err
	}
	peer.Enabled = enabled
	if err := m.backend.Federation().PutPeer(ctx, peer); err != nil {
		return err
	}

	if enabled && m.runCtx != nil {
		m.startWorker(peer)
	} else {
		m.stopWorker(peerID)
	}
	return nil
}

// RemovePeer deletes the peer, its worker and its sync status. Federated
// copies remain until reclaimed or deleted explicitly.
func (m *Manager) RemovePeer(ctx context.Context, peerID string) error {
	m.stopWorker(peerID)
	return m.backend.Federation().DeletePeer(ctx, peerID)
}

// GetPeer returns one peer.
func (m *Manager) GetPeer(ctx context.Context, peerID string) (*contracts.PeerRegistry, error) {
	return m.backend.Federation().GetPeer(ctx, peerID)
}

// ListPeers returns all configured peers.
func (m *Manager) ListPeers(ctx context.Context) ([]*contracts.PeerRegistry, error) {
	return m.backend.Federation().ListPeers(ctx)
}

// PeerStatus returns the sync status of one peer.
func (m *Manager) PeerStatus(ctx context.Context, peerID string) (*contracts.PeerSyncStatus, error) {
	if _, err := m.backend.Federation().GetPeer(ctx, peerID); err != nil {
		return nil, err
	}
	return m.backend.Federation().GetSyncStatus(ctx, peerID)
}

// SyncAll syncs every enabled peer sequentially, collecting statuses.
func (m *Manager) SyncAll(ctx context.Context) (map[string]*contracts.PeerSyncStatus, error) {
	peers, err := m.backend.Federation().ListPeers(ctx)
	if err != nil {
		return nil, err
	}

	statuses := map[string]*contracts.PeerSyncStatus{}
	for _, peer := range peers {
		if !peer.Enabled {
			continue
		}
		status, err := m.SyncPeer(ctx, peer.PeerID)
		if err != nil {
			m.logger.Warn("sync-all: peer failed", zap.String("peer", peer.PeerID), zap.Error(err))
		}
		if status != nil {
			statuses[peer.PeerID] = status
		}
	}
	return statuses, nil
}

// Topology renders the star topology: local at the center, directed edges
// from every source to local.
func (m *Manager) Topology(ctx context.Context) (*contracts.Topology, error) {
	topo := &contracts.Topology{
		Nodes: []contracts.TopologyNode{{
			ID:        "local",
			Name:      "Local Registry",
			Type:      contracts.NodeTypeLocal,
			Enabled:   true,
			IsHealthy: true,
		}},
	}

	peers, err := m.backend.Federation().ListPeers(ctx)
	if err != nil {
		return nil, err
	}
	for _, peer := range peers {
		node := contracts.TopologyNode{
			ID:       peer.PeerID,
			Name:     peer.Name,
			Type:     contracts.NodeTypePeer,
			Endpoint: peer.Endpoint,
			Enabled:  peer.Enabled,
		}
		if status, err := m.backend.Federation().GetSyncStatus(ctx, peer.PeerID); err == nil {
			node.IsHealthy = status.IsHealthy
			node.LastSync = status.LastSuccessfulSync
		}
		topo.Nodes = append(topo.Nodes, node)
		topo.Edges = append(topo.Edges, contracts.TopologyEdge{From: peer.PeerID, To: "local"})
	}

	if cfg, err := m.backend.Federation().GetConfig(ctx); err == nil {
		for _, src := range []struct {
			id     string
			nt     contracts.TopologyNodeType
			source contracts.ExternalSourceConfig
		}{
			{SourceAnthropic, contracts.NodeTypeAnthropic, cfg.Anthropic},
			{SourceAsor, contracts.NodeTypeAsor, cfg.Asor},
		} {
			if !src.source.Enabled {
				continue
			}
			node := contracts.TopologyNode{
				ID:        src.id,
				Name:      src.id,
				Type:      src.nt,
				Endpoint:  src.source.Endpoint,
				Enabled:   true,
				IsHealthy: true,
			}
			if status, err := m.backend.Federation().GetSyncStatus(ctx, src.id); err == nil {
				node.IsHealthy = status.IsHealthy
				node.LastSync = status.LastSuccessfulSync
			}
			topo.Nodes = append(topo.Nodes, node)
			topo.Edges = append(topo.Edges, contracts.TopologyEdge{From: src.id, To: "local"})
		}
	}

	return topo, nil
}

// GetExternalConfig returns the singleton external-source configuration.
func (m *Manager) GetExternalConfig(ctx context.Context) (*contracts.FederationConfig, error) {
	cfg, err := m.backend.Federation().GetConfig(ctx)
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindNotFound {
			return &contracts.FederationConfig{ConfigID: contracts.FederationConfigID}, nil
		}
		return nil, err
	}
	return cfg, nil
}

// PutExternalConfig stores the singleton external-source configuration.
func (m *Manager) PutExternalConfig(ctx context.Context, cfg *contracts.FederationConfig) error {
	return m.backend.Federation().PutConfig(ctx, cfg)
}

func validatePeer(peer *contracts.PeerRegistry) error {
	if !contracts.ValidPeerID(peer.PeerID) {
		return apperrors.Newf(apperrors.KindBadRequest, "invalid peer_id %q", peer.PeerID)
	}
	if peer.Endpoint == "" {
		return apperrors.New(apperrors.KindBadRequest, "endpoint is required")
	}
	if peer.SyncIntervalMinutes < contracts.MinSyncIntervalMinutes ||
		peer.SyncIntervalMinutes > contracts.MaxSyncIntervalMinutes {
		return apperrors.Newf(apperrors.KindBadRequest,
			"sync_interval_minutes must be in [%d, %d]",
			contracts.MinSyncIntervalMinutes, contracts.MaxSyncIntervalMinutes)
	}
	switch peer.SyncMode {
	case contracts.SyncModeAll, contracts.SyncModeWhitelist, contracts.SyncModeTagFilter:
	case "":
		peer.SyncMode = contracts.SyncModeAll
	default:
		return apperrors.Newf(apperrors.KindBadRequest, "unknown sync_mode %q", peer.SyncMode)
	}
	switch peer.Auth.Type {
	case contracts.PeerAuthNone, contracts.PeerAuthAPIKey, contracts.PeerAuthOAuth2, contracts.PeerAuthStaticToken:
	case "":
		peer.Auth.Type = contracts.PeerAuthNone
	default:
		return apperrors.Newf(apperrors.KindBadRequest, "unknown auth type %q", peer.Auth.Type)
	}
	return nil
}
