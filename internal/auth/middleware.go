package auth

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"mcpregistry-go/internal/apperrors"
	"mcpregistry-go/internal/httpx"
)

// BearerToken extracts the bearer token from a request. X-Authorization wins
// over Authorization so gateway clients can reserve the standard header for
// the backend service.
func BearerToken(r *http.Request) string {
	for _, header := range []string{"X-Authorization", "Authorization"} {
		value := r.Header.Get(header)
		if value == "" {
			continue
		}
		if strings.HasPrefix(strings.ToLower(value), "bearer ") {
			return strings.TrimSpace(value[len("bearer "):])
		}
	}
	return ""
}

// Middleware verifies the bearer token and stores the identity in the
// request context. With verification disabled (dev mode) an anonymous
// admin-less identity passes through.
func Middleware(verifier *Verifier, disabled bool, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if disabled {
				ctx := WithIdentity(r.Context(), &Identity{Subject: "anonymous", Username: "anonymous"})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			token := BearerToken(r)
			if token == "" {
				httpx.WriteError(w, apperrors.New(apperrors.KindUnauthenticated, "missing bearer token"))
				return
			}

			ident, err := verifier.Verify(r.Context(), token)
			if err != nil {
				logger.Debug("token verification failed", zap.Error(err))
				httpx.WriteError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), ident)))
		})
	}
}
