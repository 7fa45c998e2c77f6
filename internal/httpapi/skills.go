package httpapi

import (
	"context"
	"io"
	"net/http"
	"time"

	"mcpregistry-go/internal/apperrors"
	"mcpregistry-go/internal/audit"
	"mcpregistry-go/internal/contracts"
	"mcpregistry-go/internal/httpx"
)

func (s *Server) handleListSkills(w http.ResponseWriter, r *http.Request) {
	skills, err := s.Registry.ListSkills(r.Context())
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, skills)
}

func (s *Server) handleCreateSkill(w http.ResponseWriter, r *http.Request) {
	var skill contracts.Skill
	if err := httpx.DecodeJSON(r, &skill); err != nil {
		httpx.WriteError(w, err)
		return
	}

	created, err := s.Registry.CreateSkill(r.Context(), &skill)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	audit.SetAction(r.Context(), "create_skill", "skill", created.Path)
	httpx.WriteJSON(w, http.StatusCreated, created)
}

func (s *Server) handleSkillSubtree(w http.ResponseWriter, r *http.Request) {
	path := subtreePath(r)

	if base, ok := splitSuffix(path, "content"); ok && r.Method == http.MethodGet {
		s.skillContent(w, r, base)
		return
	}
	if base, ok := splitSuffix(path, "tools"); ok && r.Method == http.MethodGet {
		tools, err := s.Registry.SkillTools(r.Context(), base)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, tools)
		return
	}
	if base, ok := splitSuffix(path, "rate"); ok && r.Method == http.MethodPost {
		s.rateSkill(w, r, base)
		return
	}
	if base, ok := splitSuffix(path, "health"); ok && r.Method == http.MethodGet {
		s.skillHealth(w, r, base)
		return
	}

	switch r.Method {
	case http.MethodGet:
		skill, err := s.Registry.GetSkill(r.Context(), path)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, skill)
	case http.MethodPut:
		var skill contracts.Skill
		if err := httpx.DecodeJSON(r, &skill); err != nil {
			httpx.WriteError(w, err)
			return
		}
		skill.Path = path
		updated, err := s.Registry.UpdateSkill(r.Context(), &skill)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		audit.SetAction(r.Context(), "update_skill", "skill", path)
		httpx.WriteJSON(w, http.StatusOK, updated)
	case http.MethodDelete:
		if err := s.Registry.DeleteSkill(r.Context(), path, r.URL.Query().Get("name")); err != nil {
			httpx.WriteError(w, err)
			return
		}
		audit.SetAction(r.Context(), "delete_skill", "skill", path)
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"deleted": path})
	default:
		methodNotAllowed(w)
	}
}

// skillContent streams the skill.md document from its source URL.
func (s *Server) skillContent(w http.ResponseWriter, r *http.Request, path string) {
	skill, err := s.Registry.GetSkill(r.Context(), path)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if skill.SkillMDURL == "" {
		httpx.WriteError(w, apperrors.Newf(apperrors.KindNotFound, "skill %s has no content URL", path))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, skill.SkillMDURL, nil)
	if err != nil {
		httpx.WriteError(w, apperrors.Wrap(apperrors.KindBackendData, "invalid skill content URL", err))
		return
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		httpx.WriteError(w, apperrors.Wrap(apperrors.KindTransientBackend, "fetching skill content failed", err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		httpx.WriteError(w, apperrors.Newf(apperrors.KindTransientBackend,
			"skill content source returned %d", resp.StatusCode))
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.Copy(w, resp.Body) //nolint:errcheck
}

func (s *Server) rateSkill(w http.ResponseWriter, r *http.Request, path string) {
	var body struct {
		Rating float64 `json:"rating"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.WriteError(w, err)
		return
	}

	skill, err := s.Registry.RateSkill(r.Context(), path, body.Rating)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	audit.SetAction(r.Context(), "rate_skill", "skill", path)
	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"path":         skill.Path,
		"rating":       skill.Rating(),
		"rating_count": skill.RatingCount,
	})
}

// skillHealth reports whether each tool the skill depends on is currently
// backed by an enabled server.
func (s *Server) skillHealth(w http.ResponseWriter, r *http.Request, path string) {
	skill, err := s.Registry.GetSkill(r.Context(), path)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	type toolHealth struct {
		ToolName   string `json:"tool_name"`
		ServerPath string `json:"server_path"`
		Status     string `json:"status"`
	}

	healthy := true
	tools := make([]toolHealth, 0, len(skill.AllowedTools))
	for _, tool := range skill.AllowedTools {
		status := "available"
		server, err := s.Registry.GetServer(r.Context(), tool.ServerPath)
		switch {
		case err != nil:
			status = "server_missing"
			healthy = false
		case !server.IsEnabled:
			status = "server_disabled"
			healthy = false
		}
		tools = append(tools, toolHealth{ToolName: tool.ToolName, ServerPath: tool.ServerPath, Status: status})
	}

	status := "healthy"
	if !healthy {
		status = "degraded"
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"path":   skill.Path,
		"status": status,
		"tools":  tools,
	})
}
