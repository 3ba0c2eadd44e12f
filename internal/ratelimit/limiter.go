// Package ratelimit limits requests to the audit API per client
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter defines the interface for rate limiting operations
type Limiter interface {
	// Allow checks if a request is allowed for the given key
	// Returns:
	//   - allowed: true if request is allowed
	//   - remaining: number of requests remaining in current window
	//   - resetTime: when the rate limit window resets
	Allow(ctx context.Context, key string) (allowed bool, remaining int, resetTime time.Time, err error)

	// AllowN checks if N requests are allowed for the given key
	AllowN(ctx context.Context, key string, n int) (allowed bool, remaining int, resetTime time.Time, err error)

	// Reset clears the rate limit for a key
	Reset(ctx context.Context, key string) error

	// GetLimit returns the current limit for a key
	GetLimit(ctx context.Context, key string) (limit int, err error)

	// Close releases resources
	Close() error
}

// New creates the limiter selected by the configuration. The Redis backend
// requires a client.
func New(cfg *Config, client redis.UniversalClient) (Limiter, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case BackendRedis:
		if client == nil {
			return nil, errNoRedisClient
		}
		return NewRedisLimiter(client, cfg), nil
	default:
		return NewLocalLimiter(cfg), nil
	}
}
