package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"mcpregistry-go/internal/contracts"
	"mcpregistry-go/internal/httpx"
	"mcpregistry-go/internal/search"
)

// handleSearch serves both GET with query parameters and POST with a JSON
// body. The include_disabled flag only takes effect for admin callers.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req search.Request

	if r.Method == http.MethodPost {
		var body struct {
			Query           string   `json:"query"`
			EntityTypes     []string `json:"entity_types,omitempty"`
			MaxResults      int      `json:"max_results,omitempty"`
			IncludeDisabled bool     `json:"include_disabled,omitempty"`
		}
		if err := httpx.DecodeJSON(r, &body); err != nil {
			httpx.WriteError(w, err)
			return
		}
		req.Query = body.Query
		req.EntityTypes = parseEntityTypes(body.EntityTypes)
		req.MaxResults = body.MaxResults
		req.IncludeDisabled = body.IncludeDisabled
	} else {
		q := r.URL.Query()
		req.Query = q.Get("q")
		if types := q.Get("entity_types"); types != "" {
			req.EntityTypes = parseEntityTypes(strings.Split(types, ","))
		}
		if max := q.Get("max_results"); max != "" {
			req.MaxResults, _ = strconv.Atoi(max)
		}
		req.IncludeDisabled = q.Get("include_disabled") == "true"
	}

	if req.IncludeDisabled && !s.isAdmin(r) {
		req.IncludeDisabled = false
	}

	resp, err := s.Search.Search(r.Context(), req)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if s.Metrics != nil {
		s.Metrics.RecordSearchQuery(string(resp.SearchMode))
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func parseEntityTypes(raw []string) []contracts.EntityType {
	var out []contracts.EntityType
	for _, t := range raw {
		switch contracts.EntityType(strings.TrimSpace(t)) {
		case contracts.EntityTypeServer:
			out = append(out, contracts.EntityTypeServer)
		case contracts.EntityTypeAgent:
			out = append(out, contracts.EntityTypeAgent)
		}
	}
	return out
}
