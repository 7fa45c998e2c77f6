package storage

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"mcpregistry-go/internal/apperrors"
)

// Retry policy for transient backend errors: initial 100ms, factor 2,
// max 5 attempts, 10% jitter.
const (
	retryInitialInterval = 100 * time.Millisecond
	retryMultiplier      = 2
	retryMaxAttempts     = 5
	retryJitter          = 0.1
)

// RetryTransient runs op, retrying with exponential backoff while the error
// is a TransientBackendError. Any other error aborts immediately.
func RetryTransient[T any](ctx context.Context, op func() (T, error)) (T, error) {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     retryInitialInterval,
		RandomizationFactor: retryJitter,
		Multiplier:          retryMultiplier,
		MaxInterval:         5 * time.Second,
	}

	return backoff.Retry(ctx, func() (T, error) {
		out, err := op()
		if err != nil && !apperrors.IsTransient(err) {
			return out, backoff.Permanent(err)
		}
		return out, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(retryMaxAttempts))
}
