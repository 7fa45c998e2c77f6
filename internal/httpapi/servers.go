package httpapi

import (
	"net/http"

	"mcpregistry-go/internal/audit"
	"mcpregistry-go/internal/contracts"
	"mcpregistry-go/internal/httpx"
)

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	includeDisabled := queryBool(r, "include_disabled") && s.isAdmin(r)
	servers, err := s.Registry.ListServers(r.Context(), includeDisabled)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, servers)
}

func (s *Server) handleRegisterServer(w http.ResponseWriter, r *http.Request) {
	var server contracts.Server
	if err := httpx.DecodeJSON(r, &server); err != nil {
		httpx.WriteError(w, err)
		return
	}

	created, scanStatus, err := s.Registry.RegisterServer(r.Context(), &server)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	audit.SetAction(r.Context(), "register_server", "server", created.Path)
	httpx.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"server":      created,
		"scan_status": scanStatus,
	})
}

// handleServerSubtree dispatches the multi-segment server routes: CRUD by
// method plus the toggle, default-version and scan operations.
func (s *Server) handleServerSubtree(w http.ResponseWriter, r *http.Request) {
	path := subtreePath(r)

	if base, ok := splitSuffix(path, "toggle"); ok && r.Method == http.MethodPost {
		s.toggleServer(w, r, base)
		return
	}
	if base, ok := splitSuffix(path, "versions/default"); ok && (r.Method == http.MethodPut || r.Method == http.MethodPost) {
		s.setDefaultVersion(w, r, base)
		return
	}
	if base, ok := splitSuffix(path, "scan"); ok && r.Method == http.MethodPost {
		s.scanServer(w, r, base)
		return
	}
	if base, ok := splitSuffix(path, "scans"); ok && r.Method == http.MethodGet {
		s.scanHistory(w, r, base)
		return
	}

	switch r.Method {
	case http.MethodGet:
		server, err := s.Registry.GetServer(r.Context(), path)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, server)
	case http.MethodPut:
		var server contracts.Server
		if err := httpx.DecodeJSON(r, &server); err != nil {
			httpx.WriteError(w, err)
			return
		}
		server.Path = path
		updated, err := s.Registry.UpdateServer(r.Context(), &server)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		audit.SetAction(r.Context(), "update_server", "server", path)
		httpx.WriteJSON(w, http.StatusOK, updated)
	case http.MethodDelete:
		if err := s.Registry.DeleteServer(r.Context(), path, r.URL.Query().Get("name")); err != nil {
			httpx.WriteError(w, err)
			return
		}
		audit.SetAction(r.Context(), "delete_server", "server", path)
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"deleted": path})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) toggleServer(w http.ResponseWriter, r *http.Request, path string) {
	var body struct {
		Enabled  bool `json:"enabled"`
		Override bool `json:"override"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.WriteError(w, err)
		return
	}

	isAdmin := s.isAdmin(r) || s.Config.Auth.Disabled
	audit.SetAdmin(r.Context(), isAdmin)
	if err := s.Registry.ToggleServer(r.Context(), path, body.Enabled, isAdmin, body.Override); err != nil {
		httpx.WriteError(w, err)
		return
	}

	audit.SetAction(r.Context(), "toggle_server", "server", path)
	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{"path": path, "enabled": body.Enabled})
}

func (s *Server) setDefaultVersion(w http.ResponseWriter, r *http.Request, path string) {
	var body struct {
		Version string `json:"version"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.WriteError(w, err)
		return
	}

	server, err := s.Registry.SetDefaultVersion(r.Context(), path, body.Version)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	audit.SetAction(r.Context(), "set_default_version", "server", path)
	httpx.WriteJSON(w, http.StatusOK, server)
}

func (s *Server) scanServer(w http.ResponseWriter, r *http.Request, path string) {
	if !s.requireAdmin(w, r) {
		return
	}
	result, err := s.Registry.ScanServer(r.Context(), path)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	audit.SetAction(r.Context(), "scan_server", "server", path)
	httpx.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) scanHistory(w http.ResponseWriter, r *http.Request, path string) {
	results, err := s.Registry.ScanHistory(r.Context(), path)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, results)
}
