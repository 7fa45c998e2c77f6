// Package tokens keeps the registry's OAuth credential sets fresh and
// renders MCP client configuration files that point at the gateway.
package tokens

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"mcpregistry-go/internal/config"
	"mcpregistry-go/internal/storage"
)

const refreshMaxTries = 5

// Refresher is the background service that refreshes ingress and egress
// OAuth2 client-credentials tokens ahead of expiry and rewrites the MCP
// client config files each cycle.
type Refresher struct {
	cfg     *config.Config
	backend storage.Backend
	logger  *zap.Logger

	mu     sync.RWMutex
	tokens map[string]*oauth2.Token
}

func NewRefresher(cfg *config.Config, backend storage.Backend, logger *zap.Logger) *Refresher {
	return &Refresher{
		cfg:     cfg,
		backend: backend,
		logger:  logger.Named("tokens"),
		tokens:  make(map[string]*oauth2.Token),
	}
}

// Token returns the current token for a named credential set, or nil when
// none has been acquired yet.
func (r *Refresher) Token(name string) *oauth2.Token {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tokens[name]
}

// Run executes refresh cycles until the context is cancelled. One cycle runs
// immediately so client configs exist shortly after startup.
func (r *Refresher) Run(ctx context.Context) {
	r.cycle(ctx)

	ticker := time.NewTicker(r.cfg.Tokens.WakeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("token refresher stopped")
			return
		case <-ticker.C:
			r.cycle(ctx)
		}
	}
}

func (r *Refresher) cycle(ctx context.Context) {
	now := time.Now()
	for i := range r.cfg.Tokens.Credentials {
		cred := &r.cfg.Tokens.Credentials[i]
		if !r.due(cred.Name, now) {
			continue
		}
		if err := r.refresh(ctx, cred); err != nil {
			r.logger.Warn("credential refresh failed",
				zap.String("credential", cred.Name),
				zap.String("kind", cred.Kind),
				zap.Error(err))
			continue
		}
		r.logger.Info("credential refreshed", zap.String("credential", cred.Name))
	}

	if err := r.writeClientConfigs(ctx); err != nil {
		r.logger.Warn("writing client configs failed", zap.Error(err))
	}
}

// due reports whether the credential's refresh deadline (expiry minus the
// configured buffer, floored at one hour by config validation) has passed.
func (r *Refresher) due(name string, now time.Time) bool {
	r.mu.RLock()
	tok := r.tokens[name]
	r.mu.RUnlock()
	if tok == nil {
		return true
	}
	if tok.Expiry.IsZero() {
		return false
	}
	return now.After(tok.Expiry.Add(-r.cfg.Tokens.RefreshBuffer))
}

func (r *Refresher) refresh(ctx context.Context, cred *config.CredentialConfig) error {
	src := clientcredentials.Config{
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret,
		TokenURL:     cred.TokenURL,
		Scopes:       cred.Scopes,
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     time.Second,
		RandomizationFactor: 0.2,
		Multiplier:          2,
		MaxInterval:         30 * time.Second,
	}
	tok, err := backoff.Retry(ctx, func() (*oauth2.Token, error) {
		return src.Token(ctx)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(refreshMaxTries))
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.tokens[cred.Name] = tok
	r.mu.Unlock()
	return nil
}

// gatewayBaseURL derives the URL client configs point at from the listen
// address.
func (r *Refresher) gatewayBaseURL() string {
	listen := r.cfg.Listen
	if strings.HasPrefix(listen, ":") {
		return "http://localhost" + listen
	}
	return "http://" + listen
}
