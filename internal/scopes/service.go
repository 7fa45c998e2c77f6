// Package scopes implements the scope-expansion and fine-grained access
// control layers: group claims expand to scope names through group-mapping
// documents, and scope documents carry per-server method/tool rules.
package scopes

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"mcpregistry-go/internal/auth"
	"mcpregistry-go/internal/contracts"
	"mcpregistry-go/internal/storage"
)

// Decision is the outcome of one FGAC evaluation.
type Decision struct {
	Allowed            bool     `json:"allowed"`
	IsAdmin            bool     `json:"is_admin"`
	RequiredPermission string   `json:"required_permission,omitempty"`
	EvaluatedScopes    []string `json:"evaluated_scopes,omitempty"`
}

// Service evaluates access against the scope repository.
type Service struct {
	repo   storage.ScopeRepository
	logger *zap.Logger
}

// New builds the service.
func New(repo storage.ScopeRepository, logger *zap.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Expand maps the identity's groups to the union of their scope names.
func (s *Service) Expand(ctx context.Context, ident *auth.Identity) ([]string, error) {
	seen := map[string]bool{}
	for _, group := range ident.Groups {
		doc, err := s.repo.Get(ctx, group)
		if err != nil {
			// Groups without a mapping contribute nothing.
			continue
		}
		if doc.ScopeType != contracts.ScopeTypeGroupMapping {
			continue
		}
		for _, scope := range doc.GroupMappings {
			seen[scope] = true
		}
	}

	scopes := make([]string, 0, len(seen))
	for scope := range seen {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)
	return scopes, nil
}

// IsAdmin reports whether the identity expands to the admin scope.
func (s *Service) IsAdmin(ctx context.Context, ident *auth.Identity) bool {
	scopeNames, err := s.Expand(ctx, ident)
	if err != nil {
		return false
	}
	for _, scope := range scopeNames {
		if scope == contracts.AdminScopeName {
			return true
		}
	}
	return false
}

// Evaluate decides whether the identity may call method (and optionally
// tool) on the server at serverPath. The admin scope short-circuits to
// allow. A denial carries the permission that would have been required.
func (s *Service) Evaluate(ctx context.Context, ident *auth.Identity, serverPath, method, tool string) (*Decision, error) {
	scopeNames, err := s.Expand(ctx, ident)
	if err != nil {
		return nil, err
	}

	decision := &Decision{EvaluatedScopes: scopeNames}
	for _, scope := range scopeNames {
		if scope == contracts.AdminScopeName {
			decision.Allowed = true
			decision.IsAdmin = true
			return decision, nil
		}
	}

	for _, scopeName := range scopeNames {
		doc, err := s.repo.Get(ctx, scopeName)
		if err != nil {
			s.logger.Debug("scope document missing", zap.String("scope", scopeName))
			continue
		}
		if doc.ScopeType != contracts.ScopeTypeServer {
			continue
		}
		for _, rule := range doc.ServerAccess {
			if rule.Server != serverPath {
				continue
			}
			if !rule.AllowsMethod(method) {
				continue
			}
			if tool != "" && !rule.AllowsTool(tool) {
				continue
			}
			decision.Allowed = true
			return decision, nil
		}
	}

	decision.RequiredPermission = RequiredPermission(serverPath, method, tool)
	return decision, nil
}

// RequiredPermission renders the permission string reported on denials.
func RequiredPermission(serverPath, method, tool string) string {
	if tool != "" {
		return fmt.Sprintf("server=%s method=%s tool=%s", serverPath, method, tool)
	}
	return fmt.Sprintf("server=%s method=%s", serverPath, method)
}
