package httpapi

import (
	"net/http"

	"mcpregistry-go/internal/audit"
	"mcpregistry-go/internal/contracts"
	"mcpregistry-go/internal/httpx"
)

func (s *Server) handleListVirtualServers(w http.ResponseWriter, r *http.Request) {
	servers, err := s.Registry.ListVirtualServers(r.Context())
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, servers)
}

func (s *Server) handleCreateVirtualServer(w http.ResponseWriter, r *http.Request) {
	var vs contracts.VirtualServer
	if err := httpx.DecodeJSON(r, &vs); err != nil {
		httpx.WriteError(w, err)
		return
	}

	created, err := s.Registry.CreateVirtualServer(r.Context(), &vs)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	audit.SetAction(r.Context(), "create_virtual_server", "virtual_server", created.Path)
	httpx.WriteJSON(w, http.StatusCreated, created)
}

func (s *Server) handleVirtualServerSubtree(w http.ResponseWriter, r *http.Request) {
	path := subtreePath(r)

	if base, ok := splitSuffix(path, "tools"); ok && r.Method == http.MethodGet {
		tools, err := s.Registry.VirtualServerTools(r.Context(), base)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, tools)
		return
	}

	switch r.Method {
	case http.MethodGet:
		vs, err := s.Registry.GetVirtualServer(r.Context(), path)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, vs)
	case http.MethodPut:
		var vs contracts.VirtualServer
		if err := httpx.DecodeJSON(r, &vs); err != nil {
			httpx.WriteError(w, err)
			return
		}
		vs.Path = path
		updated, err := s.Registry.UpdateVirtualServer(r.Context(), &vs)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		audit.SetAction(r.Context(), "update_virtual_server", "virtual_server", path)
		httpx.WriteJSON(w, http.StatusOK, updated)
	case http.MethodDelete:
		if err := s.Registry.DeleteVirtualServer(r.Context(), path, r.URL.Query().Get("name")); err != nil {
			httpx.WriteError(w, err)
			return
		}
		audit.SetAction(r.Context(), "delete_virtual_server", "virtual_server", path)
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"deleted": path})
	default:
		methodNotAllowed(w)
	}
}
