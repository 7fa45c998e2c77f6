// Package auth verifies ingress bearer tokens against the identity
// provider's JWKS and carries the resulting identity through request
// contexts.
package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"go.uber.org/zap"

	"mcpregistry-go/internal/apperrors"
	"mcpregistry-go/internal/config"
)

// Verifier validates JWTs with keys fetched (and auto-refreshed) from the
// configured JWKS endpoint.
type Verifier struct {
	cfg       *config.AuthConfig
	jwksCache *jwk.Cache
	logger    *zap.Logger
}

// NewVerifier registers the JWKS URL with an auto-refreshing key cache. The
// context bounds the cache's background refresh loop.
func NewVerifier(ctx context.Context, cfg *config.AuthConfig, logger *zap.Logger) (*Verifier, error) {
	if cfg.JWKSURL == "" {
		return nil, fmt.Errorf("auth: jwks-url is required")
	}

	cache := jwk.NewCache(ctx)
	if err := cache.Register(cfg.JWKSURL); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
	}

	return &Verifier{cfg: cfg, jwksCache: cache, logger: logger}, nil
}

// keyFunc resolves the signing key for a token by kid lookup in the JWKS.
func (v *Verifier) keyFunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("token header missing kid")
		}

		keySet, err := v.jwksCache.Get(ctx, v.cfg.JWKSURL)
		if err != nil {
			return nil, fmt.Errorf("failed to get JWKS: %w", err)
		}

		key, found := keySet.LookupKeyID(kid)
		if !found {
			return nil, fmt.Errorf("key ID %s not found in JWKS", kid)
		}

		var rawKey interface{}
		if err := key.Raw(&rawKey); err != nil {
			return nil, fmt.Errorf("failed to get raw key: %w", err)
		}
		return rawKey, nil
	}
}

// Verify parses and validates the token and extracts the caller identity.
// All failures map to Unauthenticated.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (*Identity, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}
	if v.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.cfg.Audience))
	}

	token, err := jwt.Parse(tokenString, v.keyFunc(ctx), opts...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindUnauthenticated, "token validation failed", err)
	}
	if !token.Valid {
		return nil, apperrors.New(apperrors.KindUnauthenticated, "invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, apperrors.New(apperrors.KindUnauthenticated, "token has no claims")
	}

	return v.identityFromClaims(claims), nil
}

func (v *Verifier) identityFromClaims(claims jwt.MapClaims) *Identity {
	ident := &Identity{Claims: claims}

	if sub, err := claims.GetSubject(); err == nil {
		ident.Subject = sub
	}
	if cid, ok := claims["client_id"].(string); ok {
		ident.ClientID = cid
	}

	usernameClaim := v.cfg.UsernameClaim
	if usernameClaim == "" {
		usernameClaim = "preferred_username"
	}
	if username, ok := claims[usernameClaim].(string); ok {
		ident.Username = username
	}
	if ident.Username == "" {
		ident.Username = ident.Subject
	}

	groupsClaim := v.cfg.GroupsClaim
	if groupsClaim == "" {
		groupsClaim = "groups"
	}
	switch groups := claims[groupsClaim].(type) {
	case []interface{}:
		for _, g := range groups {
			if s, ok := g.(string); ok {
				ident.Groups = append(ident.Groups, s)
			}
		}
	case []string:
		ident.Groups = groups
	case string:
		if groups != "" {
			ident.Groups = []string{groups}
		}
	}

	return ident
}
