// Package server wires the registry's components together and runs the
// process lifecycle: storage backend selection, background workers, the
// HTTP listener, and graceful shutdown.
package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mcpregistry-go/internal/audit"
	"mcpregistry-go/internal/auth"
	"mcpregistry-go/internal/config"
	"mcpregistry-go/internal/embeddings"
	"mcpregistry-go/internal/federation"
	"mcpregistry-go/internal/gateway"
	"mcpregistry-go/internal/httpapi"
	"mcpregistry-go/internal/index"
	"mcpregistry-go/internal/observability"
	"mcpregistry-go/internal/registry"
	"mcpregistry-go/internal/scanner"
	"mcpregistry-go/internal/scopes"
	"mcpregistry-go/internal/search"
	"mcpregistry-go/internal/storage"
	"mcpregistry-go/internal/storage/filestore"
	"mcpregistry-go/internal/tokens"
)

// Version is stamped at build time.
var Version = "dev"

// Runtime holds every long-lived component of the process.
type Runtime struct {
	cfg    *config.Config
	logger *zap.Logger

	backend    storage.Backend
	engine     *search.Engine
	indexer    *search.Indexer
	registry   *registry.Service
	scopes     *scopes.Service
	scanner    *scanner.Orchestrator
	federation *federation.Manager
	exporter   *federation.Exporter
	refresher  *tokens.Refresher
	auditStore *audit.Store
	verifier   *auth.Verifier
	metrics    *observability.Metrics
	tracing    *observability.Tracing
	health     *observability.HealthChecker
	httpServer *httpapi.Server
}

// New assembles the runtime from configuration. Nothing is started yet;
// Run owns the lifecycle.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Runtime, error) {
	rt := &Runtime{cfg: cfg, logger: logger}

	provider, err := embeddings.NewProvider(cfg.Embeddings, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing embeddings provider: %w", err)
	}
	gate := embeddings.NewGate(provider, logger)

	rt.backend, err = openBackend(cfg, logger)
	if err != nil {
		return nil, err
	}

	rt.indexer = search.NewIndexer(rt.backend.Search(), gate, logger)
	rt.engine = search.New(rt.backend.Search(), gate, cfg.Search, logger)

	rt.scanner = scanner.New(cfg.Security, rt.backend, rt.indexer, logger)
	rt.registry = registry.New(rt.backend, rt.indexer, rt.scanner, cfg.Security, logger)
	rt.scopes = scopes.New(rt.backend.Scopes(), logger)

	if cfg.Scopes.File != "" {
		if err := scopes.LoadFile(ctx, cfg.Scopes.File, rt.backend.Scopes(), logger); err != nil {
			return nil, fmt.Errorf("loading scope file: %w", err)
		}
	}

	if !cfg.Auth.Disabled {
		rt.verifier, err = auth.NewVerifier(ctx, cfg.Auth, logger)
		if err != nil {
			return nil, fmt.Errorf("initializing token verifier: %w", err)
		}
	}

	rt.federation = federation.NewManager(rt.backend, rt.indexer, cfg.Federation, logger)
	rt.exporter = federation.NewExporter(rt.backend, cfg.Federation, rt.verifier, logger)

	rt.auditStore, err = audit.Open(filepath.Join(cfg.DataDir, "audit.db"), logger)
	if err != nil {
		return nil, err
	}

	rt.refresher = tokens.NewRefresher(cfg, rt.backend, logger)

	rt.metrics = observability.NewMetrics(logger)
	rt.tracing, err = observability.NewTracing(cfg.Observability, Version, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}

	rt.health = observability.NewHealthChecker(Version)
	rt.health.Register("storage", func(ctx context.Context) error {
		_, err := rt.backend.Servers().ListAll(ctx)
		return err
	})
	rt.health.Register("search", func(ctx context.Context) error {
		_, err := rt.backend.Search().LexicalSearch(ctx, "healthcheck", nil, 1, false)
		return err
	})

	gw := gateway.NewHandler(rt.registry, rt.scopes, rt.verifier, rt.auditStore,
		cfg.Gateway, cfg.Auth.Disabled, logger)

	rt.httpServer = httpapi.NewServer(httpapi.Deps{
		Config:     cfg,
		Registry:   rt.registry,
		Search:     rt.engine,
		Scopes:     rt.scopes,
		Federation: rt.federation,
		Exporter:   rt.exporter,
		Audit:      rt.auditStore,
		Verifier:   rt.verifier,
		Metrics:    rt.metrics,
		Tracing:    rt.tracing,
		Health:     rt.health,
		Gateway:    gw,
		Logger:     logger,
	})

	return rt, nil
}

// openBackend selects the storage implementation. Both carry an embeddings
// index; the file backend keeps it as a sidecar next to the JSON documents.
func openBackend(cfg *config.Config, logger *zap.Logger) (storage.Backend, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	switch cfg.StorageBackend {
	case config.BackendDistributedIndex:
		return index.Open(cfg, false, logger)
	default:
		embIdx, err := index.NewEmbeddingsIndex(
			filepath.Join(cfg.DataDir, "embeddings.bleve"),
			cfg.Embeddings.Dimensions, false, logger)
		if err != nil {
			return nil, err
		}
		return filestore.New(filepath.Join(cfg.DataDir, "registry"), embIdx, embIdx.Close, logger)
	}
}

// Run starts every background worker plus the HTTP listener and blocks
// until the context is cancelled or a worker fails.
func (rt *Runtime) Run(ctx context.Context) error {
	defer rt.close()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return rt.httpServer.Start(ctx)
	})
	group.Go(func() error {
		rt.scanner.Run(ctx)
		return nil
	})
	group.Go(func() error {
		rt.federation.Run(ctx)
		return nil
	})
	if rt.cfg.Tokens.Enabled {
		group.Go(func() error {
			rt.refresher.Run(ctx)
			return nil
		})
	}
	group.Go(func() error {
		return rt.updateGauges(ctx)
	})

	if rt.cfg.Scopes.File != "" {
		group.Go(func() error {
			return scopes.WatchFile(ctx, rt.cfg.Scopes.File, rt.backend.Scopes(), rt.logger)
		})
	}

	rt.logger.Info("registry started",
		zap.String("listen", rt.cfg.Listen),
		zap.String("storage_backend", rt.cfg.StorageBackend),
		zap.String("version", Version))
	return group.Wait()
}

// updateGauges refreshes the uptime and entity-count metrics periodically.
func (rt *Runtime) updateGauges(ctx context.Context) error {
	start := time.Now()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rt.metrics.SetUptime(start)
			servers, err1 := rt.backend.Servers().ListAll(ctx)
			agents, err2 := rt.backend.Agents().ListAll(ctx)
			skills, err3 := rt.backend.Skills().ListAll(ctx)
			if err1 == nil && err2 == nil && err3 == nil {
				rt.metrics.SetEntityCounts(len(servers), len(agents), len(skills))
			}
		}
	}
}

func (rt *Runtime) close() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := rt.tracing.Close(shutdownCtx); err != nil {
		rt.logger.Warn("tracing shutdown failed", zap.Error(err))
	}
	if err := rt.auditStore.Close(); err != nil {
		rt.logger.Warn("closing audit store failed", zap.Error(err))
	}
	if err := rt.backend.Close(); err != nil {
		rt.logger.Warn("closing storage backend failed", zap.Error(err))
	}
	rt.logger.Info("registry stopped")
}
