package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"mcpregistry-go/internal/apperrors"
)

var adminOnlyErr = apperrors.New(apperrors.KindForbidden, "administrator access required")

// subtreePath rebuilds the entity path from a wildcard route match.
// Entity paths are multi-segment, so /api/servers/team/files yields
// "/team/files".
func subtreePath(r *http.Request) string {
	rest := chi.URLParam(r, "*")
	return "/" + strings.Trim(rest, "/")
}

// splitSuffix strips a known operation suffix from an entity path.
// ("/team/files/toggle", "toggle") yields ("/team/files", true).
func splitSuffix(path, op string) (string, bool) {
	suffix := "/" + op
	if !strings.HasSuffix(path, suffix) || len(path) == len(suffix) {
		return path, false
	}
	return strings.TrimSuffix(path, suffix), true
}

func queryBool(r *http.Request, name string) bool {
	return r.URL.Query().Get(name) == "true"
}

func methodNotAllowed(w http.ResponseWriter) {
	w.WriteHeader(http.StatusMethodNotAllowed)
}
