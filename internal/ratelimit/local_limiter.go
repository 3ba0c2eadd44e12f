package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type localBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LocalLimiter keeps one token bucket per key in process memory
type LocalLimiter struct {
	config  *Config
	now     func() time.Time
	mu      sync.Mutex
	buckets map[string]*localBucket
}

// NewLocalLimiter creates an in-process rate limiter
func NewLocalLimiter(config *Config) *LocalLimiter {
	if config == nil {
		config = DefaultConfig()
	}
	return &LocalLimiter{
		config:  config,
		now:     time.Now,
		buckets: make(map[string]*localBucket),
	}
}

func (l *LocalLimiter) bucket(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		perSecond := float64(l.config.GetLimit(key)) / l.config.window().Seconds()
		b = &localBucket{limiter: rate.NewLimiter(rate.Limit(perSecond), l.config.GetBurst(key))}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter
}

// Allow checks if a single request is allowed for the given key
func (l *LocalLimiter) Allow(ctx context.Context, key string) (bool, int, time.Time, error) {
	return l.AllowN(ctx, key, 1)
}

// AllowN consumes n tokens from the bucket of key
func (l *LocalLimiter) AllowN(_ context.Context, key string, n int) (bool, int, time.Time, error) {
	now := l.now()
	lim := l.bucket(key, now)

	allowed := lim.AllowN(now, n)
	tokens := lim.TokensAt(now)
	remaining := int(math.Max(0, math.Floor(tokens)))

	resetTime := now.Add(l.config.window())
	if !allowed && lim.Limit() > 0 {
		missing := float64(n) - tokens
		resetTime = now.Add(time.Duration(missing / float64(lim.Limit()) * float64(time.Second)))
	}
	return allowed, remaining, resetTime, nil
}

// Reset clears the rate limit for a key
func (l *LocalLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	delete(l.buckets, key)
	l.mu.Unlock()
	return nil
}

// GetLimit returns the configured limit for a key
func (l *LocalLimiter) GetLimit(_ context.Context, key string) (int, error) {
	return l.config.GetLimit(key), nil
}

// Cleanup drops buckets idle for longer than idle and returns the number
// removed
func (l *LocalLimiter) Cleanup(idle time.Duration) int {
	cutoff := l.now().Add(-idle)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Close releases the buckets
func (l *LocalLimiter) Close() error {
	l.mu.Lock()
	l.buckets = make(map[string]*localBucket)
	l.mu.Unlock()
	return nil
}
