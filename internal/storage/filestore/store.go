// Package filestore is the file storage backend: one JSON document per
// entity under the data directory, enable-state sidecars for servers and
// agents, and an injected embeddings index for search.
package filestore

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"mcpregistry-go/internal/contracts"
	"mcpregistry-go/internal/storage"
)

// Store implements storage.Backend over a directory tree:
//
//	<dir>/servers/*.json          server documents
//	<dir>/servers_state.json      enable overrides
//	<dir>/agents/*.json           agent documents
//	<dir>/agents_state.json       enable overrides
//	<dir>/skills/*.json
//	<dir>/virtual_servers/*.json
//	<dir>/scopes/*.json
//	<dir>/scans/*.json            one history file per server
//	<dir>/federation/peers/*.json
//	<dir>/federation/status/*.json
//	<dir>/federation/config/*.json
type Store struct {
	dir    string
	logger *zap.Logger

	servers  *serverRepo
	agents   *agentRepo
	skills   *skillRepo
	virtuals *virtualServerRepo
	scopes   *scopeRepo
	scans    *scanRepo
	fed      *federationRepo
	search   storage.SearchIndex
	closer   func() error
}

// New opens (creating if needed) the directory tree under dir. The search
// index is built by the caller so both backends share one implementation;
// closeSearch, if non-nil, is invoked on Close.
func New(dir string, search storage.SearchIndex, closeSearch func() error, logger *zap.Logger) (*Store, error) {
	s := &Store{dir: dir, logger: logger, search: search, closer: closeSearch}

	serverColl, err := newCollection[contracts.Server](filepath.Join(dir, "servers"))
	if err != nil {
		return nil, err
	}
	agentColl, err := newCollection[contracts.Agent](filepath.Join(dir, "agents"))
	if err != nil {
		return nil, err
	}
	skillColl, err := newCollection[contracts.Skill](filepath.Join(dir, "skills"))
	if err != nil {
		return nil, err
	}
	virtualColl, err := newCollection[contracts.VirtualServer](filepath.Join(dir, "virtual_servers"))
	if err != nil {
		return nil, err
	}
	scopeColl, err := newCollection[contracts.ScopeDocument](filepath.Join(dir, "scopes"))
	if err != nil {
		return nil, err
	}
	scanColl, err := newCollection[scanHistory](filepath.Join(dir, "scans"))
	if err != nil {
		return nil, err
	}
	peerColl, err := newCollection[contracts.PeerRegistry](filepath.Join(dir, "federation", "peers"))
	if err != nil {
		return nil, err
	}
	statusColl, err := newCollection[contracts.PeerSyncStatus](filepath.Join(dir, "federation", "status"))
	if err != nil {
		return nil, err
	}
	configColl, err := newCollection[contracts.FederationConfig](filepath.Join(dir, "federation", "config"))
	if err != nil {
		return nil, err
	}

	s.servers = &serverRepo{coll: serverColl, state: newStateFile(filepath.Join(dir, "servers_state.json"))}
	s.agents = &agentRepo{coll: agentColl, state: newStateFile(filepath.Join(dir, "agents_state.json"))}
	s.skills = &skillRepo{coll: skillColl}
	s.virtuals = &virtualServerRepo{coll: virtualColl}
	s.scopes = &scopeRepo{coll: scopeColl}
	s.scans = &scanRepo{coll: scanColl}
	s.fed = &federationRepo{peers: peerColl, status: statusColl, config: configColl}

	logger.Info("file storage backend opened", zap.String("dir", dir))
	return s, nil
}

func (s *Store) Servers() storage.ServerRepository               { return s.servers }
func (s *Store) Agents() storage.AgentRepository                 { return s.agents }
func (s *Store) Skills() storage.SkillRepository                 { return s.skills }
func (s *Store) VirtualServers() storage.VirtualServerRepository { return s.virtuals }
func (s *Store) Scopes() storage.ScopeRepository                 { return s.scopes }
func (s *Store) Scans() storage.ScanRepository                   { return s.scans }
func (s *Store) Federation() storage.FederationRepository        { return s.fed }
func (s *Store) Search() storage.SearchIndex                     { return s.search }

// Close releases the embeddings index. Document files need no teardown.
func (s *Store) Close() error {
	if s.closer != nil {
		if err := s.closer(); err != nil {
			return fmt.Errorf("failed to close embeddings index: %w", err)
		}
	}
	return nil
}
