package auth

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the verified caller of a request.
type Identity struct {
	Subject  string
	Username string
	ClientID string
	Groups   []string
	Claims   jwt.MapClaims

	// Scopes is filled by the scope-expansion layer after verification.
	Scopes []string
}

// IsMachine reports whether the caller authenticated with client
// credentials rather than a user login.
func (i *Identity) IsMachine() bool {
	return i.ClientID != "" && i.Subject == ""
}

type contextKey string

const identityKey contextKey = "auth.identity"

// WithIdentity attaches the identity to the context.
func WithIdentity(ctx context.Context, ident *Identity) context.Context {
	return context.WithValue(ctx, identityKey, ident)
}

// IdentityFrom returns the request identity, or nil when unauthenticated.
func IdentityFrom(ctx context.Context) *Identity {
	ident, _ := ctx.Value(identityKey).(*Identity)
	return ident
}
