package index

import (
	"fmt"
	"path/filepath"

	"github.com/blevesearch/bleve/v2"
	"go.uber.org/zap"

	"mcpregistry-go/internal/config"
	"mcpregistry-go/internal/storage"
)

// Envelope kinds inside the shared indices.
const (
	kindServer        = "server"
	kindSkill         = "skill"
	kindVirtualServer = "virtual-server"
	kindAgent         = "agent"
	kindScope         = "scope"
	kindScan          = "scan"
	kindPeer          = "peer"
	kindSyncStatus    = "sync-status"
	kindFedConfig     = "federation-config"
)

// Backend is the distributed-index storage backend. Every document lives in
// one of five namespaced envelope indices plus the embeddings index:
//
//	mcp-servers-<ns>            servers, skills, virtual servers
//	mcp-agents-<ns>             agents
//	mcp-scopes-<ns>             scope documents
//	mcp-security-scans-<ns>     scan results
//	mcp-federation-config-<ns>  peers, sync status, external-source config
//	mcp-embeddings-<ns>         search documents with vectors
type Backend struct {
	logger *zap.Logger

	serversIdx bleve.Index
	agentsIdx  bleve.Index
	scopesIdx  bleve.Index
	scansIdx   bleve.Index
	fedIdx     bleve.Index

	servers  *serverRepo
	agents   *agentRepo
	skills   *skillRepo
	virtuals *virtualServerRepo
	scopes   *scopeRepo
	scans    *scanRepo
	fed      *federationRepo
	search   *EmbeddingsIndex
}

// Open creates or opens all six indices under <dataDir>/indices. With
// recreate set every index is wiped first; required when the embedding
// dimension changes.
func Open(cfg *config.Config, recreate bool, logger *zap.Logger) (*Backend, error) {
	dir := filepath.Join(cfg.DataDir, "indices")
	path := func(base string) string {
		return filepath.Join(dir, cfg.IndexName(base)+".bleve")
	}

	b := &Backend{logger: logger}
	var err error

	if b.serversIdx, err = openOrCreate(path("mcp-servers"), documentMapping(), recreate, logger); err != nil {
		return nil, err
	}
	if b.agentsIdx, err = openOrCreate(path("mcp-agents"), documentMapping(), recreate, logger); err != nil {
		b.Close()
		return nil, err
	}
	if b.scopesIdx, err = openOrCreate(path("mcp-scopes"), documentMapping(), recreate, logger); err != nil {
		b.Close()
		return nil, err
	}
	if b.scansIdx, err = openOrCreate(path("mcp-security-scans"), documentMapping(), recreate, logger); err != nil {
		b.Close()
		return nil, err
	}
	if b.fedIdx, err = openOrCreate(path("mcp-federation-config"), documentMapping(), recreate, logger); err != nil {
		b.Close()
		return nil, err
	}
	if b.search, err = NewEmbeddingsIndex(path("mcp-embeddings"), cfg.Embeddings.Dimensions, recreate, logger); err != nil {
		b.Close()
		return nil, err
	}

	b.servers = newServerRepo(b.serversIdx)
	b.agents = newAgentRepo(b.agentsIdx)
	b.skills = newSkillRepo(b.serversIdx)
	b.virtuals = newVirtualServerRepo(b.serversIdx)
	b.scopes = newScopeRepo(b.scopesIdx)
	b.scans = newScanRepo(b.scansIdx)
	b.fed = newFederationRepo(b.fedIdx)

	logger.Info("distributed-index backend opened",
		zap.String("dir", dir), zap.String("namespace", cfg.Namespace))
	return b, nil
}

func (b *Backend) Servers() storage.ServerRepository               { return b.servers }
func (b *Backend) Agents() storage.AgentRepository                 { return b.agents }
func (b *Backend) Skills() storage.SkillRepository                 { return b.skills }
func (b *Backend) VirtualServers() storage.VirtualServerRepository { return b.virtuals }
func (b *Backend) Scopes() storage.ScopeRepository                 { return b.scopes }
func (b *Backend) Scans() storage.ScanRepository                   { return b.scans }
func (b *Backend) Federation() storage.FederationRepository        { return b.fed }
func (b *Backend) Search() storage.SearchIndex                     { return b.search }

// Close closes every open index, keeping the first error.
func (b *Backend) Close() error {
	var firstErr error
	closeIdx := func(idx bleve.Index, name string) {
		if idx == nil {
			return
		}
		if err := idx.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close %s index: %w", name, err)
		}
	}

	closeIdx(b.serversIdx, "servers")
	closeIdx(b.agentsIdx, "agents")
	closeIdx(b.scopesIdx, "scopes")
	closeIdx(b.scansIdx, "scans")
	closeIdx(b.fedIdx, "federation")
	if b.search != nil {
		if err := b.search.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close embeddings index: %w", err)
		}
	}
	return firstErr
}
