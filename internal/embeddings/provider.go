// Package embeddings produces dense vectors for search documents and queries.
// Two providers exist: a local 384-dimension hashing encoder and the Bedrock
// Titan hosted API at 1024 dimensions. The dimension is fixed per namespace
// at index-creation time.
package embeddings

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"mcpregistry-go/internal/config"
)

// Provider computes an embedding for a piece of text. Embed may perform I/O
// (hosted providers); callers pass a context with a deadline.
type Provider interface {
	Name() string
	Dimensions() int
	Embed(ctx context.Context, text string) ([]float32, error)
}

// NewProvider constructs the configured provider.
func NewProvider(cfg *config.EmbeddingsConfig, logger *zap.Logger) (Provider, error) {
	switch cfg.Provider {
	case config.EmbeddingsLocal:
		return NewLocalProvider(cfg.Dimensions), nil
	case config.EmbeddingsBedrock:
		return NewBedrockProvider(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Provider)
	}
}

// Gate wraps a provider with the process-wide unavailability flag. The first
// embedding failure latches the gate: every later call returns the cached
// error without touching the provider, so queries degrade to lexical-only
// without retry storms. Recovery is restart-scoped.
type Gate struct {
	provider Provider
	logger   *zap.Logger

	mu          sync.RWMutex
	unavailable bool
	cachedErr   error
}

// NewGate wraps the provider.
func NewGate(provider Provider, logger *zap.Logger) *Gate {
	return &Gate{provider: provider, logger: logger}
}

// Name returns the underlying provider name.
func (g *Gate) Name() string { return g.provider.Name() }

// Dimensions returns the underlying provider dimension.
func (g *Gate) Dimensions() int { return g.provider.Dimensions() }

// Unavailable reports whether the gate has latched.
func (g *Gate) Unavailable() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.unavailable
}

// Embed delegates to the provider unless the gate has latched.
func (g *Gate) Embed(ctx context.Context, text string) ([]float32, error) {
	g.mu.RLock()
	if g.unavailable {
		err := g.cachedErr
		g.mu.RUnlock()
		return nil, err
	}
	g.mu.RUnlock()

	vec, err := g.provider.Embed(ctx, text)
	if err != nil {
		g.mu.Lock()
		if !g.unavailable {
			g.unavailable = true
			g.cachedErr = fmt.Errorf("embeddings unavailable (provider %s): %w", g.provider.Name(), err)
			g.logger.Warn("Embedding provider failed; switching to lexical-only search for the rest of this process",
				zap.String("provider", g.provider.Name()),
				zap.Error(err))
		}
		err = g.cachedErr
		g.mu.Unlock()
		return nil, err
	}
	return vec, nil
}
