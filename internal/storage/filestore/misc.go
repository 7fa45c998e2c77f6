package filestore

import (
	"context"
	"sort"
	"time"

	"mcpregistry-go/internal/apperrors"
	"mcpregistry-go/internal/contracts"
)

// scopeRepo stores scope documents, one file per scope key.
type scopeRepo struct {
	coll *collection[contracts.ScopeDocument]
}

func (r *scopeRepo) Get(_ context.Context, key string) (*contracts.ScopeDocument, error) {
	return r.coll.get(key)
}

func (r *scopeRepo) Put(_ context.Context, doc *contracts.ScopeDocument) error {
	if doc.Key() == "" {
		return apperrors.New(apperrors.KindBadRequest, "scope document has no key")
	}
	return r.coll.put(doc.Key(), doc)
}

func (r *scopeRepo) Delete(_ context.Context, key string) error {
	return r.coll.delete(key)
}

func (r *scopeRepo) ListAll(_ context.Context) ([]*contracts.ScopeDocument, error) {
	return r.coll.listAll()
}

// scanHistory is the stored shape of all scans of one server.
type scanHistory struct {
	ServerPath string                  `json:"server_path"`
	Results    []*contracts.ScanResult `json:"results"`
}

// scanRepo keeps one history file per server; results are append-only.
type scanRepo struct {
	coll *collection[scanHistory]
}

func (r *scanRepo) Append(_ context.Context, result *contracts.ScanResult) error {
	return r.coll.withLock(func() error {
		hist, err := r.coll.getLocked(result.ServerPath)
		if err != nil {
			if apperrors.KindOf(err) != apperrors.KindNotFound {
				return err
			}
			hist = &scanHistory{ServerPath: result.ServerPath}
		}
		hist.Results = append(hist.Results, result)
		return r.coll.putLocked(result.ServerPath, hist)
	})
}

func (r *scanRepo) Latest(ctx context.Context, serverPath string) (*contracts.ScanResult, error) {
	results, err := r.ListForServer(ctx, serverPath)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, apperrors.Newf(apperrors.KindNotFound, "no scans for server %s", serverPath)
	}
	return results[0], nil
}

// ListForServer returns scans newest first.
func (r *scanRepo) ListForServer(_ context.Context, serverPath string) ([]*contracts.ScanResult, error) {
	hist, err := r.coll.get(serverPath)
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindNotFound {
			return nil, nil
		}
		return nil, err
	}
	results := make([]*contracts.ScanResult, len(hist.Results))
	copy(results, hist.Results)
	sort.Slice(results, func(i, j int) bool {
		return results[i].ScanTimestamp.After(results[j].ScanTimestamp)
	})
	return results, nil
}

func (r *scanRepo) DeleteForServer(_ context.Context, serverPath string) error {
	return r.coll.delete(serverPath)
}

// federationRepo stores peers, per-peer sync status documents, and the
// singleton external-source config.
type federationRepo struct {
	peers  *collection[contracts.PeerRegistry]
	status *collection[contracts.PeerSyncStatus]
	config *collection[contracts.FederationConfig]
}

func (r *federationRepo) GetPeer(_ context.Context, peerID string) (*contracts.PeerRegistry, error) {
	return r.peers.get(peerID)
}

func (r *federationRepo) PutPeer(_ context.Context, peer *contracts.PeerRegistry) error {
	now := time.Now().UTC()
	if peer.CreatedAt.IsZero() {
		peer.CreatedAt = now
	}
	peer.UpdatedAt = now
	return r.peers.put(peer.PeerID, peer)
}

func (r *federationRepo) DeletePeer(_ context.Context, peerID string) error {
	if err := r.peers.delete(peerID); err != nil {
		return err
	}
	return r.status.delete(peerID)
}

func (r *federationRepo) ListPeers(_ context.Context) ([]*contracts.PeerRegistry, error) {
	return r.peers.listAll()
}

func (r *federationRepo) GetSyncStatus(_ context.Context, peerID string) (*contracts.PeerSyncStatus, error) {
	return r.status.get(peerID)
}

func (r *federationRepo) PutSyncStatus(_ context.Context, status *contracts.PeerSyncStatus) error {
	return r.status.put(status.PeerID, status)
}

func (r *federationRepo) GetConfig(_ context.Context) (*contracts.FederationConfig, error) {
	return r.config.get(contracts.FederationConfigID)
}

func (r *federationRepo) PutConfig(_ context.Context, cfg *contracts.FederationConfig) error {
	cfg.ConfigID = contracts.FederationConfigID
	cfg.UpdatedAt = time.Now().UTC()
	return r.config.put(contracts.FederationConfigID, cfg)
}
