// Package storage defines the repository contracts over the registry's
// persistent state and the factory that selects a backend implementation.
//
// Two interchangeable backends exist: a file backend (JSON documents on
// disk, suited to single-node development) and a distributed-index backend
// storing documents in namespaced search indices. Business code never
// branches on the backend.
package storage

import (
	"context"

	"mcpregistry-go/internal/contracts"
)

// ServerRepository stores Server documents keyed by path.
//
// Create fails with Conflict when the path exists. Update replaces the
// document atomically and fails with Conflict when the stored document's
// UpdatedAt differs from the incoming one (optimistic concurrency); callers
// perform read-modify-write and retry on conflict. Get returns NotFound for
// absent paths, never partial state.
type ServerRepository interface {
	Get(ctx context.Context, path string) (*contracts.Server, error)
	Create(ctx context.Context, server *contracts.Server) error
	Update(ctx context.Context, server *contracts.Server) error
	Delete(ctx context.Context, path string) error
	ListAll(ctx context.Context) ([]*contracts.Server, error)
	SetEnabled(ctx context.Context, path string, enabled bool) error
}

// AgentRepository stores Agent documents keyed by path; same contract as
// ServerRepository.
type AgentRepository interface {
	Get(ctx context.Context, path string) (*contracts.Agent, error)
	Create(ctx context.Context, agent *contracts.Agent) error
	Update(ctx context.Context, agent *contracts.Agent) error
	Delete(ctx context.Context, path string) error
	ListAll(ctx context.Context) ([]*contracts.Agent, error)
	SetEnabled(ctx context.Context, path string, enabled bool) error
}

// SkillRepository stores Skill documents keyed by path.
type SkillRepository interface {
	Get(ctx context.Context, path string) (*contracts.Skill, error)
	Create(ctx context.Context, skill *contracts.Skill) error
	Update(ctx context.Context, skill *contracts.Skill) error
	Delete(ctx context.Context, path string) error
	ListAll(ctx context.Context) ([]*contracts.Skill, error)
}

// VirtualServerRepository stores VirtualServer documents keyed by path.
type VirtualServerRepository interface {
	Get(ctx context.Context, path string) (*contracts.VirtualServer, error)
	Create(ctx context.Context, vs *contracts.VirtualServer) error
	Update(ctx context.Context, vs *contracts.VirtualServer) error
	Delete(ctx context.Context, path string) error
	ListAll(ctx context.Context) ([]*contracts.VirtualServer, error)
}

// ScopeRepository stores scope documents keyed by ScopeDocument.Key().
// Put is an upsert; scope mutation is admin-only and rare.
type ScopeRepository interface {
	Get(ctx context.Context, key string) (*contracts.ScopeDocument, error)
	Put(ctx context.Context, doc *contracts.ScopeDocument) error
	Delete(ctx context.Context, key string) error
	ListAll(ctx context.Context) ([]*contracts.ScopeDocument, error)
}

// ScanRepository stores security scan results. Results are append-only;
// Latest returns the most recent result for a server by scan timestamp.
type ScanRepository interface {
	Append(ctx context.Context, result *contracts.ScanResult) error
	Latest(ctx context.Context, serverPath string) (*contracts.ScanResult, error)
	ListForServer(ctx context.Context, serverPath string) ([]*contracts.ScanResult, error)
	DeleteForServer(ctx context.Context, serverPath string) error
}

// FederationRepository stores peer registries, their sync status documents,
// and the singleton external-source configuration.
type FederationRepository interface {
	GetPeer(ctx context.Context, peerID string) (*contracts.PeerRegistry, error)
	PutPeer(ctx context.Context, peer *contracts.PeerRegistry) error
	DeletePeer(ctx context.Context, peerID string) error
	ListPeers(ctx context.Context) ([]*contracts.PeerRegistry, error)

	GetSyncStatus(ctx context.Context, peerID string) (*contracts.PeerSyncStatus, error)
	PutSyncStatus(ctx context.Context, status *contracts.PeerSyncStatus) error

	GetConfig(ctx context.Context) (*contracts.FederationConfig, error)
	PutConfig(ctx context.Context, cfg *contracts.FederationConfig) error
}

// IndexHit is one scored document from a search sub-query.
type IndexHit struct {
	Doc   *contracts.EmbeddingDocument
	Score float64
}

// SearchIndex stores embedding documents, one per (entity_type, path), and
// serves the two retrieval sub-queries of the hybrid pipeline. The vector
// dimension is fixed at init; Index fails with BackendDataError on mismatch.
type SearchIndex interface {
	Index(ctx context.Context, doc *contracts.EmbeddingDocument) error
	Delete(ctx context.Context, entityType contracts.EntityType, path string) error
	LexicalSearch(ctx context.Context, query string, entityTypes []contracts.EntityType, limit int, includeDisabled bool) ([]IndexHit, error)
	VectorSearch(ctx context.Context, vector []float32, entityTypes []contracts.EntityType, limit int, includeDisabled bool) ([]IndexHit, error)
}

// Backend aggregates the repositories of one storage implementation.
type Backend interface {
	Servers() ServerRepository
	Agents() AgentRepository
	Skills() SkillRepository
	VirtualServers() VirtualServerRepository
	Scopes() ScopeRepository
	Scans() ScanRepository
	Federation() FederationRepository
	Search() SearchIndex
	Close() error
}
