package httpapi

import (
	"net/http"

	"mcpregistry-go/internal/audit"
	"mcpregistry-go/internal/contracts"
	"mcpregistry-go/internal/httpx"
)

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	includeDisabled := queryBool(r, "include_disabled") && s.isAdmin(r)
	agents, err := s.Registry.ListAgents(r.Context(), includeDisabled)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, agents)
}

func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var agent contracts.Agent
	if err := httpx.DecodeJSON(r, &agent); err != nil {
		httpx.WriteError(w, err)
		return
	}

	created, err := s.Registry.RegisterAgent(r.Context(), &agent)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	audit.SetAction(r.Context(), "register_agent", "agent", created.Path)
	httpx.WriteJSON(w, http.StatusCreated, created)
}

func (s *Server) handleAgentSubtree(w http.ResponseWriter, r *http.Request) {
	path := subtreePath(r)

	if base, ok := splitSuffix(path, "toggle"); ok && r.Method == http.MethodPost {
		var body struct {
			Enabled bool `json:"enabled"`
		}
		if err := httpx.DecodeJSON(r, &body); err != nil {
			httpx.WriteError(w, err)
			return
		}
		if err := s.Registry.ToggleAgent(r.Context(), base, body.Enabled); err != nil {
			httpx.WriteError(w, err)
			return
		}
		audit.SetAction(r.Context(), "toggle_agent", "agent", base)
		httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{"path": base, "enabled": body.Enabled})
		return
	}

	switch r.Method {
	case http.MethodGet:
		agent, err := s.Registry.GetAgent(r.Context(), path)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, agent)
	case http.MethodPut:
		var agent contracts.Agent
		if err := httpx.DecodeJSON(r, &agent); err != nil {
			httpx.WriteError(w, err)
			return
		}
		agent.Path = path
		updated, err := s.Registry.UpdateAgent(r.Context(), &agent)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		audit.SetAction(r.Context(), "update_agent", "agent", path)
		httpx.WriteJSON(w, http.StatusOK, updated)
	case http.MethodDelete:
		if err := s.Registry.DeleteAgent(r.Context(), path, r.URL.Query().Get("name")); err != nil {
			httpx.WriteError(w, err)
			return
		}
		audit.SetAction(r.Context(), "delete_agent", "agent", path)
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"deleted": path})
	default:
		methodNotAllowed(w)
	}
}
