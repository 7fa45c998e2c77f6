package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"mcpregistry-go/internal/apperrors"
	"mcpregistry-go/internal/audit"
	"mcpregistry-go/internal/httpx"
)

func auditFilterFromQuery(r *http.Request) (*audit.Filter, error) {
	q := r.URL.Query()
	filter := &audit.Filter{
		Stream:        q.Get("stream"),
		Username:      q.Get("username"),
		Operation:     q.Get("operation"),
		ResourceType:  q.Get("resource_type"),
		SortAscending: q.Get("sort") == "asc",
	}

	for name, dst := range map[string]*time.Time{"from": &filter.From, "to": &filter.To} {
		if raw := q.Get(name); raw != "" {
			ts, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return nil, apperrors.Newf(apperrors.KindBadRequest, "invalid %s timestamp", name)
			}
			*dst = ts
		}
	}
	for name, dst := range map[string]*int{
		"status_min": &filter.StatusMin,
		"status_max": &filter.StatusMax,
		"limit":      &filter.Limit,
		"offset":     &filter.Offset,
	} {
		if raw := q.Get(name); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return nil, apperrors.Newf(apperrors.KindBadRequest, "invalid %s value", name)
			}
			*dst = n
		}
	}
	return filter, nil
}

func (s *Server) handleAuditEvents(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	filter, err := auditFilterFromQuery(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	events, total, err := s.Audit.Query(r.Context(), filter)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"total_count": total,
		"events":      events,
	})
}

// handleAuditExport streams matching events as newline-delimited JSON.
func (s *Server) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	filter, err := auditFilterFromQuery(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-export.ndjson"`)
	w.WriteHeader(http.StatusOK)
	if err := s.Audit.ExportNDJSON(r.Context(), filter, w); err != nil {
		s.Logger.Warn("audit export aborted", zap.Error(err))
	}
}
