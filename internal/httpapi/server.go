// Package httpapi assembles the registry's HTTP surface: the admin/API
// routes, the federation export endpoints, health and metrics, and the
// gateway fallback for proxied MCP traffic.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"mcpregistry-go/internal/audit"
	"mcpregistry-go/internal/auth"
	"mcpregistry-go/internal/config"
	"mcpregistry-go/internal/federation"
	"mcpregistry-go/internal/httpx"
	"mcpregistry-go/internal/observability"
	"mcpregistry-go/internal/registry"
	"mcpregistry-go/internal/scopes"
	"mcpregistry-go/internal/search"
)

// Deps carries everything the HTTP layer serves.
type Deps struct {
	Config     *config.Config
	Registry   *registry.Service
	Search     *search.Engine
	Scopes     *scopes.Service
	Federation *federation.Manager
	Exporter   *federation.Exporter
	Audit      *audit.Store
	Verifier   *auth.Verifier
	Metrics    *observability.Metrics
	Tracing    *observability.Tracing
	Health     *observability.HealthChecker
	Gateway    http.Handler
	Logger     *zap.Logger
}

// Server is the single HTTP listener for API and gateway traffic.
type Server struct {
	Deps
	router *chi.Mux
	httpd  *http.Server
}

func NewServer(deps Deps) *Server {
	s := &Server{Deps: deps}
	s.router = chi.NewRouter()
	s.routes()
	s.httpd = &http.Server{
		Addr:              deps.Config.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if s.Tracing != nil {
		r.Use(s.Tracing.HTTPMiddleware())
	}
	if s.Metrics != nil {
		r.Use(s.Metrics.HTTPMiddleware())
	}
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	// Unauthenticated surface: liveness, metrics, and the federation
	// export endpoints, which carry their own credential scheme.
	r.Get("/health", s.handleHealth)
	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics.Handler())
	}
	r.Get("/api/federation/servers", s.handleExportServers)
	r.Get("/api/federation/agents", s.handleExportAgents)

	// Authenticated API surface.
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(s.Verifier, s.Config.Auth.Disabled, s.Logger))
		r.Use(audit.Middleware(s.Audit))

		r.Route("/api/servers", func(r chi.Router) {
			r.Get("/", s.handleListServers)
			r.Post("/", s.handleRegisterServer)
			r.HandleFunc("/*", s.handleServerSubtree)
		})
		r.Route("/api/agents", func(r chi.Router) {
			r.Get("/", s.handleListAgents)
			r.Post("/", s.handleRegisterAgent)
			r.HandleFunc("/*", s.handleAgentSubtree)
		})
		r.Route("/api/skills", func(r chi.Router) {
			r.Get("/", s.handleListSkills)
			r.Post("/", s.handleCreateSkill)
			r.HandleFunc("/*", s.handleSkillSubtree)
		})
		r.Route("/api/virtual-servers", func(r chi.Router) {
			r.Get("/", s.handleListVirtualServers)
			r.Post("/", s.handleCreateVirtualServer)
			r.HandleFunc("/*", s.handleVirtualServerSubtree)
		})

		r.Route("/api/peers", func(r chi.Router) {
			r.Get("/", s.handleListPeers)
			r.Post("/", s.handleAddPeer)
			r.Post("/sync", s.handleSyncAllPeers)
			r.Route("/{peerID}", func(r chi.Router) {
				r.Get("/", s.handleGetPeer)
				r.Put("/", s.handleUpdatePeer)
				r.Delete("/", s.handleRemovePeer)
				r.Post("/sync", s.handleSyncPeer)
				r.Get("/status", s.handlePeerStatus)
				r.Post("/enable", s.handleEnablePeer)
				r.Post("/disable", s.handleDisablePeer)
			})
		})

		r.Route("/api/v1/federation", func(r chi.Router) {
			r.Get("/unified-topology", s.handleTopology)
			r.Post("/{source}/sync", s.handleExternalSync)
			r.Get("/{source}/config", s.handleGetExternalConfig)
			r.Put("/{source}/config", s.handlePutExternalConfig)
		})

		r.Post("/api/search", s.handleSearch)
		r.Get("/api/search", s.handleSearch)

		r.Get("/api/audit/events", s.handleAuditEvents)
		r.Get("/api/audit/export", s.handleAuditExport)

		r.Route("/api/scopes", func(r chi.Router) {
			r.Get("/", s.handleListScopes)
			r.Put("/", s.handlePutScope)
			r.HandleFunc("/*", s.handleScopeSubtree)
		})
	})

	// Everything else is gateway traffic.
	r.NotFound(s.Gateway.ServeHTTP)
}

// Start serves until the context is cancelled, then drains connections.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("http server listening", zap.String("addr", s.Config.Listen))
		if err := s.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return s.httpd.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.Logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// isAdmin resolves the caller's admin bit from the identity in context.
func (s *Server) isAdmin(r *http.Request) bool {
	ident := auth.IdentityFrom(r.Context())
	if ident == nil {
		return false
	}
	return s.Scopes.IsAdmin(r.Context(), ident)
}

// requireAdmin writes a 403 and returns false for non-admin callers.
func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if s.Config.Auth.Disabled {
		return true
	}
	if !s.isAdmin(r) {
		httpx.WriteError(w, adminOnlyErr)
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.Health.Report(r.Context())
	status := http.StatusOK
	httpx.WriteJSON(w, status, report)
}
