package federation

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"mcpregistry-go/internal/apperrors"
	"mcpregistry-go/internal/auth"
	"mcpregistry-go/internal/config"
	"mcpregistry-go/internal/contracts"
	"mcpregistry-go/internal/storage"
)

// Exporter serves the local side of the federation protocol: the two export
// endpoints peers pull from.
type Exporter struct {
	backend  storage.Backend
	cfg      *config.FederationConfig
	verifier *auth.Verifier
	logger   *zap.Logger
}

// NewExporter builds the exporter. The verifier may be nil when only static
// token auth is configured.
func NewExporter(backend storage.Backend, cfg *config.FederationConfig, verifier *auth.Verifier, logger *zap.Logger) *Exporter {
	return &Exporter{backend: backend, cfg: cfg, verifier: verifier, logger: logger}
}

// Authorize validates an export caller: a static federation token, or an
// OAuth2 client-credentials JWT constrained by expected client id and
// issuer.
func (e *Exporter) Authorize(r *http.Request) error {
	raw := r.Header.Get("Authorization")
	if raw == "" {
		return apperrors.New(apperrors.KindUnauthenticated, "missing federation credentials")
	}
	token := strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))

	if e.cfg.ExportToken != "" &&
		subtle.ConstantTimeCompare([]byte(token), []byte(e.cfg.ExportToken)) == 1 {
		return nil
	}

	if e.verifier != nil && e.cfg.ExpectedClientID != "" {
		ident, err := e.verifier.Verify(r.Context(), token)
		if err != nil {
			return err
		}
		if ident.ClientID != e.cfg.ExpectedClientID {
			return apperrors.Newf(apperrors.KindForbidden,
				"client %q is not allowed to pull exports", ident.ClientID)
		}
		if e.cfg.ExpectedIssuer != "" {
			if iss, err := ident.Claims.GetIssuer(); err != nil || iss != e.cfg.ExpectedIssuer {
				return apperrors.New(apperrors.KindForbidden, "unexpected token issuer")
			}
		}
		return nil
	}

	return apperrors.New(apperrors.KindUnauthenticated, "invalid federation credentials")
}

// ExportServers renders every public server in export shape. Federated
// copies are exported as-is; importers dedupe nothing and their own path
// remapping stays idempotent.
func (e *Exporter) ExportServers(ctx context.Context) (*contracts.ServerExportResponse, error) {
	servers, err := e.backend.Servers().ListAll(ctx)
	if err != nil {
		return nil, err
	}

	resp := &contracts.ServerExportResponse{Items: []contracts.ServerExportItem{}}
	for _, server := range servers {
		if server.Visibility != contracts.VisibilityPublic || !server.IsEnabled {
			continue
		}
		resp.Items = append(resp.Items, contracts.ServerExportItem{
			Path:                server.Path,
			ServerName:          server.ServerName,
			Description:         server.Description,
			ProxyPassURL:        server.ProxyPassURL,
			SupportedTransports: server.SupportedTransports,
			Tags:                server.Tags,
			ToolList:            server.ToolList,
			Visibility:          server.Visibility,
			UpdatedAt:           server.UpdatedAt,
		})
		if server.Federation.Generation > resp.Generation {
			resp.Generation = server.Federation.Generation
		}
	}
	resp.TotalCount = len(resp.Items)
	return resp, nil
}

// ExportAgents renders every public agent in export shape.
func (e *Exporter) ExportAgents(ctx context.Context) (*contracts.AgentExportResponse, error) {
	agents, err := e.backend.Agents().ListAll(ctx)
	if err != nil {
		return nil, err
	}

	resp := &contracts.AgentExportResponse{Items: []contracts.AgentExportItem{}}
	for _, agent := range agents {
		if agent.Visibility != contracts.VisibilityPublic || !agent.IsEnabled {
			continue
		}
		resp.Items = append(resp.Items, contracts.AgentExportItem{
			Path:                agent.Path,
			AgentName:           agent.AgentName,
			Description:         agent.Description,
			ProxyPassURL:        agent.ProxyPassURL,
			SupportedTransports: agent.SupportedTransports,
			Tags:                agent.Tags,
			ProtocolVersion:     agent.ProtocolVersion,
			Skills:              agent.Skills,
			Visibility:          agent.Visibility,
			UpdatedAt:           agent.UpdatedAt,
		})
		if agent.Federation.Generation > resp.Generation {
			resp.Generation = agent.Federation.Generation
		}
	}
	resp.TotalCount = len(resp.Items)
	return resp, nil
}
