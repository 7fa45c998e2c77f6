// Package gateway is the reverse-proxy edge: it authenticates the caller,
// enforces fine-grained access control per MCP method and tool, resolves the
// target backend version, and streams the request through.
package gateway

import (
	"context"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"mcpregistry-go/internal/apperrors"
	"mcpregistry-go/internal/audit"
	"mcpregistry-go/internal/auth"
	"mcpregistry-go/internal/config"
	"mcpregistry-go/internal/contracts"
	"mcpregistry-go/internal/httpx"
	"mcpregistry-go/internal/registry"
	"mcpregistry-go/internal/scopes"
)

// versionHeader selects a specific server version instead of the default.
const versionHeader = "X-MCP-Server-Version"

// internalHeaders never reach the upstream server. The plain Authorization
// header carries the egress credential and passes through untouched.
var internalHeaders = []string{
	"X-Authorization",
	versionHeader,
	"X-Registry-Internal",
}

// Handler proxies /{server_path}/mcp/** to the registered backend.
type Handler struct {
	registry *registry.Service
	scopes   *scopes.Service
	verifier *auth.Verifier
	audit    *audit.Store
	cfg      *config.GatewayConfig
	logger   *zap.Logger

	authDisabled bool

	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

func NewHandler(reg *registry.Service, sc *scopes.Service, verifier *auth.Verifier, auditStore *audit.Store, cfg *config.GatewayConfig, authDisabled bool, logger *zap.Logger) *Handler {
	return &Handler{
		registry:     reg,
		scopes:       sc,
		verifier:     verifier,
		audit:        auditStore,
		cfg:          cfg,
		logger:       logger.Named("gateway"),
		authDisabled: authDisabled,
		sems:         make(map[string]*semaphore.Weighted),
	}
}

// splitMCPPath splits "/a/b/mcp/rest" into ("/a/b", "/rest"). The second
// return is empty for a bare "/a/b/mcp". The scan runs from the right so a
// server path whose own segments start with "mcp" still routes.
func splitMCPPath(path string) (string, string, bool) {
	for idx := strings.LastIndex(path, "/mcp"); idx > 0; idx = strings.LastIndex(path[:idx], "/mcp") {
		rest := path[idx+len("/mcp"):]
		if rest == "" || strings.HasPrefix(rest, "/") {
			return path[:idx], rest, true
		}
	}
	return "", "", false
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	serverPath, rest, ok := splitMCPPath(r.URL.Path)
	if !ok {
		httpx.WriteError(w, apperrors.New(apperrors.KindNotFound, "no such gateway route"))
		return
	}

	ident, err := h.authenticate(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	call, err := peekRPC(r)
	if err != nil {
		httpx.WriteError(w, apperrors.Wrap(apperrors.KindBadRequest, "reading request body failed", err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.RequestTimeout)
	defer cancel()
	r = r.WithContext(ctx)

	backend, target, err := h.resolveTarget(ctx, serverPath, r.Header.Get(versionHeader), call)
	if err != nil {
		h.emitAudit(r, ident, serverPath, call, apperrors.HTTPStatus(err), start, err)
		httpx.WriteError(w, err)
		return
	}

	// With ingress auth disabled there is no identity to evaluate; every
	// call passes.
	decision := &scopes.Decision{Allowed: true}
	if !h.authDisabled {
		decision, err = h.scopes.Evaluate(ctx, ident, serverPath, call.Method, call.ToolName)
		if err != nil {
			h.emitAudit(r, ident, serverPath, call, apperrors.HTTPStatus(err), start, err)
			httpx.WriteError(w, err)
			return
		}
	}
	if !decision.Allowed {
		denial := apperrors.New(apperrors.KindForbidden, "access denied").
			WithField("required_permission", decision.RequiredPermission)
		h.emitAudit(r, ident, serverPath, call, http.StatusForbidden, start, denial)
		httpx.WriteError(w, denial)
		return
	}

	sem := h.backendSemaphore(target.Host)
	if !sem.TryAcquire(1) {
		err := apperrors.Newf(apperrors.KindBackpressure,
			"backend %s connection pool exhausted", backend.Path)
		h.emitAudit(r, ident, serverPath, call, http.StatusServiceUnavailable, start, err)
		httpx.WriteError(w, err)
		return
	}
	defer sem.Release(1)

	ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
	h.proxy(target, rest).ServeHTTP(ww, r)

	h.emitAudit(r, ident, backend.Path, call, ww.Status(), start, nil)
}

func (h *Handler) authenticate(r *http.Request) (*auth.Identity, error) {
	if h.authDisabled {
		return &auth.Identity{Username: "anonymous"}, nil
	}
	token := auth.BearerToken(r)
	if token == "" {
		return nil, apperrors.New(apperrors.KindUnauthenticated, "missing ingress credentials")
	}
	return h.verifier.Verify(r.Context(), token)
}

// resolveTarget maps a gateway path to the concrete backend server and its
// proxy URL, honoring version pinning and virtual-server tool routing.
func (h *Handler) resolveTarget(ctx context.Context, serverPath, version string, call rpcCall) (*contracts.Server, *url.URL, error) {
	server, err := h.registry.GetServer(ctx, serverPath)
	if err != nil {
		if apperrors.KindOf(err) != apperrors.KindNotFound {
			return nil, nil, err
		}
		server, err = h.resolveVirtual(ctx, serverPath, call)
		if err != nil {
			return nil, nil, err
		}
	}
	if !server.IsEnabled {
		return nil, nil, apperrors.Newf(apperrors.KindNotFound, "server %s is disabled", serverPath)
	}

	proxyURL := server.ProxyPassURL
	switch {
	case version != "":
		v := server.FindVersion(version)
		if v == nil {
			return nil, nil, apperrors.Newf(apperrors.KindNotFound,
				"server %s has no version %s", server.Path, version)
		}
		proxyURL = v.ProxyPassURL
	case server.DefaultVersion() != nil:
		proxyURL = server.DefaultVersion().ProxyPassURL
	}

	target, err := url.Parse(proxyURL)
	if err != nil || target.Host == "" {
		return nil, nil, apperrors.Newf(apperrors.KindBackendData,
			"server %s has an invalid proxy URL", server.Path)
	}
	return server, target, nil
}

// resolveVirtual routes through a virtual server's tool table. Tool calls
// resolve per tool; other methods go to the first configured backend.
func (h *Handler) resolveVirtual(ctx context.Context, path string, call rpcCall) (*contracts.Server, error) {
	vs, err := h.registry.GetVirtualServer(ctx, path)
	if err != nil {
		return nil, err
	}

	if call.ToolName != "" {
		return h.registry.ResolveVirtualTool(ctx, path, call.ToolName)
	}
	if len(vs.BackendPaths) == 0 {
		return nil, apperrors.Newf(apperrors.KindNotFound,
			"virtual server %s has no backends", path)
	}
	return h.registry.GetServer(ctx, vs.BackendPaths[0])
}

func (h *Handler) backendSemaphore(host string) *semaphore.Weighted {
	h.mu.Lock()
	defer h.mu.Unlock()
	sem, ok := h.sems[host]
	if !ok {
		sem = semaphore.NewWeighted(h.cfg.MaxConnsPerBackend)
		h.sems[host] = sem
	}
	return sem
}

// proxy builds a streaming reverse proxy for one resolved target. The
// flush interval is negative so server-sent event streams pass through
// without buffering.
func (h *Handler) proxy(target *url.URL, rest string) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		FlushInterval: -1,
		Director: func(req *http.Request) {
			req.URL.Scheme = target.Scheme
			req.URL.Host = target.Host
			req.URL.Path = singleJoin(target.Path, rest)
			req.Host = target.Host
			for _, header := range internalHeaders {
				req.Header.Del(header)
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			h.logger.Warn("upstream proxy error",
				zap.String("target", target.String()), zap.Error(err))
			httpx.WriteError(w, apperrors.Wrap(apperrors.KindPeerUnreachable, "upstream unreachable", err))
		},
	}
}

func singleJoin(base, rest string) string {
	if rest == "" {
		return base
	}
	return strings.TrimSuffix(base, "/") + rest
}

// emitAudit records one mcp_access event for the request.
func (h *Handler) emitAudit(r *http.Request, ident *auth.Identity, serverPath string, call rpcCall, status int, start time.Time, cause error) {
	event := &contracts.AuditEvent{
		LogType:       contracts.AuditStreamMCPAccess,
		RequestID:     middleware.GetReqID(r.Context()),
		CorrelationID: r.Header.Get("X-Correlation-ID"),
		Request: contracts.AuditRequest{
			Method:    r.Method,
			Path:      r.URL.Path,
			ClientIP:  r.RemoteAddr,
			UserAgent: r.UserAgent(),
		},
		Response: contracts.AuditResponse{
			StatusCode: status,
			DurationMs: time.Since(start).Milliseconds(),
		},
		MCPServer: &contracts.AuditMCPServer{Path: serverPath},
		MCPRequest: &contracts.AuditMCPRequest{
			Method:      call.Method,
			ToolName:    call.ToolName,
			ResourceURI: call.ResourceURI,
			Transport:   contracts.TransportStreamableHTTP,
			JSONRPCID:   call.ID,
		},
	}
	if ident != nil {
		event.Identity = contracts.AuditIdentity{
			Username: ident.Username,
			Groups:   ident.Groups,
			Scopes:   ident.Scopes,
		}
	}
	mcpStatus := "success"
	if cause != nil || status >= 400 {
		mcpStatus = "error"
	}
	event.MCPResponse = &contracts.AuditMCPResponse{
		Status:     mcpStatus,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if cause != nil {
		event.MCPResponse.ErrorCode = strconv.Itoa(apperrors.HTTPStatus(cause))
	}
	h.audit.EmitAsync(event)
}
