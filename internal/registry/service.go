// Package registry implements the control-plane service: CRUD and lifecycle
// for servers, agents, skills and virtual servers, with search indexing and
// security-scan gating on every mutation.
package registry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mcpregistry-go/internal/apperrors"
	"mcpregistry-go/internal/config"
	"mcpregistry-go/internal/contracts"
	"mcpregistry-go/internal/scanner"
	"mcpregistry-go/internal/search"
	"mcpregistry-go/internal/storage"
)

// Service is the registry control plane.
type Service struct {
	backend  storage.Backend
	indexer  *search.Indexer
	scanner  *scanner.Orchestrator
	security *config.SecurityConfig
	logger   *zap.Logger
}

// New builds the service.
func New(backend storage.Backend, indexer *search.Indexer, orch *scanner.Orchestrator, security *config.SecurityConfig, logger *zap.Logger) *Service {
	return &Service{
		backend:  backend,
		indexer:  indexer,
		scanner:  orch,
		security: security,
		logger:   logger,
	}
}

// Backend exposes the underlying repositories for callers that need direct
// reads, such as scope administration.
func (s *Service) Backend() storage.Backend {
	return s.backend
}

// RegisterServer validates and persists a new server. With scan-on-register
// enabled the server starts disabled and a scan task is queued; the returned
// status tells the caller where the scan stands.
func (s *Service) RegisterServer(ctx context.Context, server *contracts.Server) (*contracts.Server, contracts.ScanStatus, error) {
	if err := validateServer(server); err != nil {
		return nil, "", err
	}

	server.NumTools = len(server.ToolList)
	if server.Visibility == "" {
		server.Visibility = contracts.VisibilityPrivate
	}

	scanStatus := contracts.ScanStatus("")
	if s.security.ScanEnabled && s.security.ScanOnRegistration {
		server.IsEnabled = false
		scanStatus = contracts.ScanStatusPending
	} else {
		server.IsEnabled = true
	}

	if _, err := storage.RetryTransient(ctx, func() (struct{}, error) {
		return struct{}{}, s.backend.Servers().Create(ctx, server)
	}); err != nil {
		return nil, "", err
	}

	if err := s.indexer.IndexServer(ctx, server); err != nil {
		s.logger.Warn("failed to index server", zap.String("path", server.Path), zap.Error(err))
	}

	if scanStatus == contracts.ScanStatusPending {
		s.scanner.Enqueue(scanner.Task{ServerPath: server.Path, Trigger: scanner.TriggerRegistration})
	}

	s.logger.Info("server registered",
		zap.String("path", server.Path),
		zap.String("scan_status", string(scanStatus)))
	return server, scanStatus, nil
}

// GetServer returns one server by path.
func (s *Service) GetServer(ctx context.Context, path string) (*contracts.Server, error) {
	return s.backend.Servers().Get(ctx, path)
}

// ListServers returns every server; disabled entities are filtered unless
// includeDisabled is set.
func (s *Service) ListServers(ctx context.Context, includeDisabled bool) ([]*contracts.Server, error) {
	servers, err := s.backend.Servers().ListAll(ctx)
	if err != nil {
		return nil, err
	}
	if includeDisabled {
		return servers, nil
	}
	out := servers[:0]
	for _, server := range servers {
		if server.IsEnabled {
			out = append(out, server)
		}
	}
	return out, nil
}

// ToggleServer flips the enabled flag. Enabling a server whose latest scan
// is unsafe requires admin plus an explicit override; the override clears
// the security-pending tag.
func (s *Service) ToggleServer(ctx context.Context, path string, enabled, isAdmin, override bool) error {
	server, err := s.backend.Servers().Get(ctx, path)
	if err != nil {
		return err
	}

	if enabled {
		latest, err := s.backend.Scans().Latest(ctx, path)
		if err != nil && apperrors.KindOf(err) != apperrors.KindNotFound {
			return err
		}
		if latest != nil && latest.ScanStatus == contracts.ScanStatusUnsafe {
			if !isAdmin || !override {
				return apperrors.Newf(apperrors.KindForbidden,
					"server %s is flagged unsafe; admin override required to enable", path)
			}
			server.Tags = removeTag(server.Tags, contracts.SecurityPendingTag)
			server.IsEnabled = true
			if err := s.backend.Servers().Update(ctx, server); err != nil {
				return err
			}
			return s.indexer.IndexServer(ctx, server)
		}
	}

	if err := s.backend.Servers().SetEnabled(ctx, path, enabled); err != nil {
		return err
	}
	server.IsEnabled = enabled
	return s.indexer.IndexServer(ctx, server)
}

// UpdateServer replaces the stored document. The caller supplies the
// document it read, carrying the original UpdatedAt for conflict detection.
func (s *Service) UpdateServer(ctx context.Context, server *contracts.Server) (*contracts.Server, error) {
	if err := validateServer(server); err != nil {
		return nil, err
	}
	server.NumTools = len(server.ToolList)

	if err := s.backend.Servers().Update(ctx, server); err != nil {
		if apperrors.KindOf(err) == apperrors.KindConflict {
			if current, getErr := s.backend.Servers().Get(ctx, server.Path); getErr == nil {
				return nil, apperrors.New(apperrors.KindConflict,
					"server was modified concurrently").
					WithField("updated_at", current.UpdatedAt.Format(time.RFC3339Nano))
			}
		}
		return nil, err
	}

	if err := s.indexer.IndexServer(ctx, server); err != nil {
		s.logger.Warn("failed to reindex server", zap.String("path", server.Path), zap.Error(err))
	}
	return server, nil
}

// SetDefaultVersion marks one version default and clears the flag on all
// others, atomically through the document CAS.
func (s *Service) SetDefaultVersion(ctx context.Context, path, version string) (*contracts.Server, error) {
	server, err := s.backend.Servers().Get(ctx, path)
	if err != nil {
		return nil, err
	}
	if server.FindVersion(version) == nil {
		return nil, apperrors.Newf(apperrors.KindNotFound,
			"server %s has no version %s", path, version)
	}

	for i := range server.Versions {
		server.Versions[i].IsDefault = server.Versions[i].Version == version
	}
	if err := s.backend.Servers().Update(ctx, server); err != nil {
		return nil, err
	}
	return server, nil
}

// DeleteServer removes the server after the caller echoes its name.
// Embedding documents and scan records cascade; federation state does not,
// so a federated copy can re-sync.
func (s *Service) DeleteServer(ctx context.Context, path, echoName string) error {
	server, err := s.backend.Servers().Get(ctx, path)
	if err != nil {
		return err
	}
	if echoName != server.ServerName {
		return apperrors.Newf(apperrors.KindBadRequest,
			"confirmation name does not match server name %q", server.ServerName)
	}

	if err := s.backend.Servers().Delete(ctx, path); err != nil {
		return err
	}
	if err := s.indexer.Remove(ctx, contracts.EntityTypeServer, path); err != nil {
		s.logger.Warn("failed to remove embedding document", zap.String("path", path), zap.Error(err))
	}
	if err := s.backend.Scans().DeleteForServer(ctx, path); err != nil {
		s.logger.Warn("failed to remove scan records", zap.String("path", path), zap.Error(err))
	}

	s.logger.Info("server deleted", zap.String("path", path))
	return nil
}

// ScanServer runs an on-demand scan.
func (s *Service) ScanServer(ctx context.Context, path string) (*contracts.ScanResult, error) {
	if !s.security.ScanEnabled {
		return nil, apperrors.New(apperrors.KindBadRequest, "security scanning is disabled")
	}
	return s.scanner.Scan(ctx, path, scanner.TriggerOnDemand)
}

// ScanHistory lists a server's scans, newest first.
func (s *Service) ScanHistory(ctx context.Context, path string) ([]*contracts.ScanResult, error) {
	if _, err := s.backend.Servers().Get(ctx, path); err != nil {
		return nil, err
	}
	return s.backend.Scans().ListForServer(ctx, path)
}

func removeTag(tags []string, tag string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t != tag {
			out = append(out, t)
		}
	}
	return out
}
