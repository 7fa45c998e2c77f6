package audit

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"mcpregistry-go/internal/auth"
	"mcpregistry-go/internal/contracts"
	"mcpregistry-go/internal/scopes"
)

type recorderKey struct{}

// recorder is stashed in the request context so handlers can annotate the
// event the middleware will emit.
type recorder struct {
	event *contracts.AuditEvent
}

// Middleware emits one registry_api event per request after the handler
// completes. It must run after the request-id and auth middlewares.
func Middleware(store *Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			event := &contracts.AuditEvent{
				LogType:       contracts.AuditStreamRegistryAPI,
				RequestID:     middleware.GetReqID(r.Context()),
				CorrelationID: r.Header.Get("X-Correlation-ID"),
				Request: contracts.AuditRequest{
					Method:    r.Method,
					Path:      r.URL.Path,
					ClientIP:  clientIP(r),
					UserAgent: r.UserAgent(),
				},
			}
			if ident := auth.IdentityFrom(r.Context()); ident != nil {
				event.Identity = contracts.AuditIdentity{
					Username:   ident.Username,
					AuthMethod: authMethod(ident),
					Groups:     ident.Groups,
					Scopes:     ident.Scopes,
				}
			}

			ctx := context.WithValue(r.Context(), recorderKey{}, &recorder{event: event})
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			event.Response = contracts.AuditResponse{
				StatusCode: ww.Status(),
				DurationMs: time.Since(start).Milliseconds(),
			}
			store.EmitAsync(event)
		})
	}
}

func authMethod(ident *auth.Identity) string {
	if ident.Subject == "" {
		return "anonymous"
	}
	if ident.IsMachine() {
		return "oauth2_m2m"
	}
	return "oauth2"
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// SetAction annotates the in-flight request's audit event with the operation
// performed and the resource it touched.
func SetAction(ctx context.Context, operation, resourceType, resourceID string) {
	if rec, ok := ctx.Value(recorderKey{}).(*recorder); ok {
		rec.event.Action = contracts.AuditAction{
			Operation:    operation,
			ResourceType: resourceType,
			ResourceID:   resourceID,
		}
	}
}

// SetAdmin marks the event's identity as an admin caller.
func SetAdmin(ctx context.Context, isAdmin bool) {
	if rec, ok := ctx.Value(recorderKey{}).(*recorder); ok {
		rec.event.Identity.IsAdmin = isAdmin
	}
}

// SetAuthorization records the access-control decision on the event.
func SetAuthorization(ctx context.Context, decision *scopes.Decision) {
	if rec, ok := ctx.Value(recorderKey{}).(*recorder); ok {
		outcome := "deny"
		if decision.Allowed {
			outcome = "allow"
		}
		rec.event.Identity.IsAdmin = decision.IsAdmin
		rec.event.Authorization = contracts.AuditAuthorization{
			Decision:           outcome,
			RequiredPermission: decision.RequiredPermission,
			EvaluatedScopes:    decision.EvaluatedScopes,
		}
	}
}
