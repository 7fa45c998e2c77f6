package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"mcpregistry-go/internal/audit"
	"mcpregistry-go/internal/contracts"
	"mcpregistry-go/internal/httpx"
)

// Scope administration. Keys are single-segment names, but a wildcard route
// keeps the dispatch style consistent with the entity subtrees.

func (s *Server) handleListScopes(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	docs, err := s.Registry.Backend().Scopes().ListAll(r.Context())
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, docs)
}

func (s *Server) handlePutScope(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	var doc contracts.ScopeDocument
	if err := httpx.DecodeJSON(r, &doc); err != nil {
		httpx.WriteError(w, err)
		return
	}

	if err := s.Registry.Backend().Scopes().Put(r.Context(), &doc); err != nil {
		httpx.WriteError(w, err)
		return
	}
	audit.SetAction(r.Context(), "put_scope", "scope", doc.Key())
	httpx.WriteJSON(w, http.StatusOK, doc)
}

func (s *Server) handleScopeSubtree(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	key := strings.Trim(chi.URLParam(r, "*"), "/")

	switch r.Method {
	case http.MethodGet:
		doc, err := s.Registry.Backend().Scopes().Get(r.Context(), key)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, doc)
	case http.MethodDelete:
		if err := s.Registry.Backend().Scopes().Delete(r.Context(), key); err != nil {
			httpx.WriteError(w, err)
			return
		}
		audit.SetAction(r.Context(), "delete_scope", "scope", key)
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"deleted": key})
	default:
		methodNotAllowed(w)
	}
}
