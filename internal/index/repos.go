package index

import (
	"context"
	"sort"
	"time"

	"github.com/blevesearch/bleve/v2"

	"mcpregistry-go/internal/apperrors"
	"mcpregistry-go/internal/contracts"
)

// serverRepo stores server envelopes. Updates are compare-and-swap on
// UpdatedAt, matching the file backend's contract.
type serverRepo struct {
	store *docStore[contracts.Server]
}

func newServerRepo(idx bleve.Index) *serverRepo {
	return &serverRepo{store: newDocStore[contracts.Server](idx, kindServer)}
}

func (r *serverRepo) Get(_ context.Context, path string) (*contracts.Server, error) {
	return r.store.get(path)
}

func (r *serverRepo) Create(_ context.Context, server *contracts.Server) error {
	return r.store.withLock(func() error {
		exists, err := r.store.exists(server.Path)
		if err != nil {
			return err
		}
		if exists {
			return apperrors.Newf(apperrors.KindConflict, "server %s already exists", server.Path)
		}
		now := time.Now().UTC()
		if server.CreatedAt.IsZero() {
			server.CreatedAt = now
		}
		server.UpdatedAt = now
		return r.store.put(server.Path, "", server)
	})
}

func (r *serverRepo) Update(_ context.Context, server *contracts.Server) error {
	return r.store.withLock(func() error {
		stored, err := r.store.get(server.Path)
		if err != nil {
			return err
		}
		if !stored.UpdatedAt.Equal(server.UpdatedAt) {
			return apperrors.Newf(apperrors.KindConflict,
				"server %s was modified concurrently", server.Path)
		}
		server.UpdatedAt = time.Now().UTC()
		return r.store.put(server.Path, "", server)
	})
}

func (r *serverRepo) Delete(_ context.Context, path string) error {
	return r.store.delete(path)
}

func (r *serverRepo) ListAll(_ context.Context) ([]*contracts.Server, error) {
	return r.store.list("")
}

func (r *serverRepo) SetEnabled(_ context.Context, path string, enabled bool) error {
	return r.store.withLock(func() error {
		stored, err := r.store.get(path)
		if err != nil {
			return err
		}
		stored.IsEnabled = enabled
		return r.store.put(path, "", stored)
	})
}

// agentRepo mirrors serverRepo for agents.
type agentRepo struct {
	store *docStore[contracts.Agent]
}

func newAgentRepo(idx bleve.Index) *agentRepo {
	return &agentRepo{store: newDocStore[contracts.Agent](idx, kindAgent)}
}

func (r *agentRepo) Get(_ context.Context, path string) (*contracts.Agent, error) {
	return r.store.get(path)
}

func (r *agentRepo) Create(_ context.Context, agent *contracts.Agent) error {
	return r.store.withLock(func() error {
		exists, err := r.store.exists(agent.Path)
		if err != nil {
			return err
		}
		if exists {
			return apperrors.Newf(apperrors.KindConflict, "agent %s already exists", agent.Path)
		}
		now := time.Now().UTC()
		if agent.CreatedAt.IsZero() {
			agent.CreatedAt = now
		}
		agent.UpdatedAt = now
		return r.store.put(agent.Path, "", agent)
	})
}

func (r *agentRepo) Update(_ context.Context, agent *contracts.Agent) error {
	return r.store.withLock(func() error {
		stored, err := r.store.get(agent.Path)
		if err != nil {
			return err
		}
		if !stored.UpdatedAt.Equal(agent.UpdatedAt) {
			return apperrors.Newf(apperrors.KindConflict,
				"agent %s was modified concurrently", agent.Path)
		}
		agent.UpdatedAt = time.Now().UTC()
		return r.store.put(agent.Path, "", agent)
	})
}

func (r *agentRepo) Delete(_ context.Context, path string) error {
	return r.store.delete(path)
}

func (r *agentRepo) ListAll(_ context.Context) ([]*contracts.Agent, error) {
	return r.store.list("")
}

func (r *agentRepo) SetEnabled(_ context.Context, path string, enabled bool) error {
	return r.store.withLock(func() error {
		stored, err := r.store.get(path)
		if err != nil {
			return err
		}
		stored.IsEnabled = enabled
		return r.store.put(path, "", stored)
	})
}

type skillRepo struct {
	store *docStore[contracts.Skill]
}

func newSkillRepo(idx bleve.Index) *skillRepo {
	return &skillRepo{store: newDocStore[contracts.Skill](idx, kindSkill)}
}

func (r *skillRepo) Get(_ context.Context, path string) (*contracts.Skill, error) {
	return r.store.get(path)
}

func (r *skillRepo) Create(_ context.Context, skill *contracts.Skill) error {
	return r.store.withLock(func() error {
		exists, err := r.store.exists(skill.Path)
		if err != nil {
			return err
		}
		if exists {
			return apperrors.Newf(apperrors.KindConflict, "skill %s already exists", skill.Path)
		}
		now := time.Now().UTC()
		if skill.CreatedAt.IsZero() {
			skill.CreatedAt = now
		}
		skill.UpdatedAt = now
		return r.store.put(skill.Path, "", skill)
	})
}

func (r *skillRepo) Update(_ context.Context, skill *contracts.Skill) error {
	return r.store.withLock(func() error {
		stored, err := r.store.get(skill.Path)
		if err != nil {
			return err
		}
		if !stored.UpdatedAt.Equal(skill.UpdatedAt) {
			return apperrors.Newf(apperrors.KindConflict,
				"skill %s was modified concurrently", skill.Path)
		}
		skill.UpdatedAt = time.Now().UTC()
		return r.store.put(skill.Path, "", skill)
	})
}

func (r *skillRepo) Delete(_ context.Context, path string) error {
	return r.store.delete(path)
}

func (r *skillRepo) ListAll(_ context.Context) ([]*contracts.Skill, error) {
	return r.store.list("")
}

type virtualServerRepo struct {
	store *docStore[contracts.VirtualServer]
}

func newVirtualServerRepo(idx bleve.Index) *virtualServerRepo {
	return &virtualServerRepo{store: newDocStore[contracts.VirtualServer](idx, kindVirtualServer)}
}

func (r *virtualServerRepo) Get(_ context.Context, path string) (*contracts.VirtualServer, error) {
	return r.store.get(path)
}

func (r *virtualServerRepo) Create(_ context.Context, vs *contracts.VirtualServer) error {
	return r.store.withLock(func() error {
		exists, err := r.store.exists(vs.Path)
		if err != nil {
			return err
		}
		if exists {
			return apperrors.Newf(apperrors.KindConflict, "virtual server %s already exists", vs.Path)
		}
		now := time.Now().UTC()
		if vs.CreatedAt.IsZero() {
			vs.CreatedAt = now
		}
		vs.UpdatedAt = now
		return r.store.put(vs.Path, "", vs)
	})
}

func (r *virtualServerRepo) Update(_ context.Context, vs *contracts.VirtualServer) error {
	return r.store.withLock(func() error {
		stored, err := r.store.get(vs.Path)
		if err != nil {
			return err
		}
		if !stored.UpdatedAt.Equal(vs.UpdatedAt) {
			return apperrors.Newf(apperrors.KindConflict,
				"virtual server %s was modified concurrently", vs.Path)
		}
		vs.UpdatedAt = time.Now().UTC()
		return r.store.put(vs.Path, "", vs)
	})
}

func (r *virtualServerRepo) Delete(_ context.Context, path string) error {
	return r.store.delete(path)
}

func (r *virtualServerRepo) ListAll(_ context.Context) ([]*contracts.VirtualServer, error) {
	return r.store.list("")
}

type scopeRepo struct {
	store *docStore[contracts.ScopeDocument]
}

func newScopeRepo(idx bleve.Index) *scopeRepo {
	return &scopeRepo{store: newDocStore[contracts.ScopeDocument](idx, kindScope)}
}

func (r *scopeRepo) Get(_ context.Context, key string) (*contracts.ScopeDocument, error) {
	return r.store.get(key)
}

func (r *scopeRepo) Put(_ context.Context, doc *contracts.ScopeDocument) error {
	if doc.Key() == "" {
		return apperrors.New(apperrors.KindBadRequest, "scope document has no key")
	}
	return r.store.put(doc.Key(), "", doc)
}

func (r *scopeRepo) Delete(_ context.Context, key string) error {
	return r.store.delete(key)
}

func (r *scopeRepo) ListAll(_ context.Context) ([]*contracts.ScopeDocument, error) {
	return r.store.list("")
}

// scanRepo keys each result by scan id and groups by server path.
type scanRepo struct {
	store *docStore[contracts.ScanResult]
}

func newScanRepo(idx bleve.Index) *scanRepo {
	return &scanRepo{store: newDocStore[contracts.ScanResult](idx, kindScan)}
}

func (r *scanRepo) Append(_ context.Context, result *contracts.ScanResult) error {
	return r.store.put(result.ScanID, result.ServerPath, result)
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

func (r *scanRepo) ListForServer(_ context.Context, serverPath string) ([]*contracts.ScanResult, error) {
	results, err := r.store.list(serverPath)
	if err != nil {
		return nil, err
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].ScanTimestamp.After(results[j].ScanTimestamp)
	})
	return results, nil
}

func (r *scanRepo) DeleteForServer(ctx context.Context, serverPath string) error {
	results, err := r.store.list(serverPath)
	if err != nil {
		return err
	}
	for _, result := range results {
		if err := r.store.delete(result.ScanID); err != nil {
			return err
		}
	}
	return nil
}

// federationRepo stores peers, sync status and the singleton config in one
// index under three envelope kinds.
type federationRepo struct {
	peers  *docStore[contracts.PeerRegistry]
	status *docStore[contracts.PeerSyncStatus]
	config *docStore[contracts.FederationConfig]
}

func newFederationRepo(idx bleve.Index) *federationRepo {
	return &federationRepo{
		peers:  newDocStore[contracts.PeerRegistry](idx, kindPeer),
		status: newDocStore[contracts.PeerSyncStatus](idx, kindSyncStatus),
		config: newDocStore[contracts.FederationConfig](idx, kindFedConfig),
	}
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
	return r.peers.put(peer.PeerID, "", peer)
}

func (r *federationRepo) DeletePeer(_ context.Context, peerID string) error {
	if err := r.peers.delete(peerID); err != nil {
		return err
	}
	return r.status.delete(peerID)
}

func (r *federationRepo) ListPeers(_ context.Context) ([]*contracts.PeerRegistry, error) {
	return r.peers.list("")
}

func (r *federationRepo) GetSyncStatus(_ context.Context, peerID string) (*contracts.PeerSyncStatus, error) {
	return r.status.get(peerID)
}

func (r *federationRepo) PutSyncStatus(_ context.Context, status *contracts.PeerSyncStatus) error {
	return r.status.put(status.PeerID, "", status)
}

func (r *federationRepo) GetConfig(_ context.Context) (*contracts.FederationConfig, error) {
	return r.config.get(contracts.FederationConfigID)
}

func (r *federationRepo) PutConfig(_ context.Context, cfg *contracts.FederationConfig) error {
	cfg.ConfigID = contracts.FederationConfigID
	cfg.UpdatedAt = time.Now().UTC()
	return r.config.put(contracts.FederationConfigID, "", cfg)
}
