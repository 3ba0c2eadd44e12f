package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var errNoRedisClient = errors.New("redis rate limiter requires a redis client")

// tokenBucketScript refills and consumes a bucket atomically.
//
//	KEYS[1] = bucket key
//	ARGV[1] = current time (float seconds)
//	ARGV[2] = refill rate (tokens per second)
//	ARGV[3] = capacity (max tokens)
//	ARGV[4] = cost
//
// Returns {allowed, remaining, retry_after_seconds}.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local capacity = tonumber(ARGV[3])
local cost = tonumber(ARGV[4]) or 1

local tokens = tonumber(redis.call('HGET', key, 'tokens'))
local last_refill = tonumber(redis.call('HGET', key, 'last_refill'))

if tokens == nil then
	tokens = capacity
	last_refill = now
end

local elapsed = math.max(0, now - last_refill)
tokens = math.min(tokens + elapsed * rate, capacity)

local allowed = tokens >= cost
if allowed then
	tokens = tokens - cost
end

redis.call('HSET', key, 'tokens', tostring(tokens), 'last_refill', tostring(now))
redis.call('EXPIRE', key, math.ceil(capacity / rate * 2))

local retry_after = 0
if not allowed then
	retry_after = (cost - tokens) / rate
end

return {allowed and 1 or 0, math.floor(tokens), math.ceil(retry_after)}
`)

// RedisLimiter implements a token bucket shared by all instances
type RedisLimiter struct {
	client redis.UniversalClient
	config *Config
	now    func() time.Time
}

// NewRedisLimiter creates a new Redis-backed rate limiter
func NewRedisLimiter(client redis.UniversalClient, config *Config) *RedisLimiter {
	if config == nil {
		config = DefaultConfig()
	}
	return &RedisLimiter{
		client: client,
		config: config,
		now:    time.Now,
	}
}

func (rl *RedisLimiter) key(key string) string {
	return fmt.Sprintf("%s:%s", rl.config.KeyPrefix, key)
}

// Allow checks if a single request is allowed for the given key
func (rl *RedisLimiter) Allow(ctx context.Context, key string) (bool, int, time.Time, error) {
	return rl.AllowN(ctx, key, 1)
}

// AllowN consumes n tokens from the bucket of key
func (rl *RedisLimiter) AllowN(ctx context.Context, key string, n int) (bool, int, time.Time, error) {
	now := rl.now()
	window := rl.config.window()
	limit := rl.config.GetLimit(key)
	refillRate := float64(limit) / window.Seconds()

	result, err := tokenBucketScript.Run(ctx, rl.client,
		[]string{rl.key(key)},
		float64(now.UnixNano())/1e9,
		refillRate,
		rl.config.GetBurst(key),
		n,
	).Int64Slice()
	if err != nil {
		if rl.config.FailOpen {
			return true, 0, now.Add(window), nil
		}
		return false, 0, time.Time{}, fmt.Errorf("rate limit check failed: %w", err)
	}
	if len(result) != 3 {
		return false, 0, time.Time{}, fmt.Errorf("invalid script result: %v", result)
	}

	allowed := result[0] == 1
	remaining := int(result[1])

	resetTime := now.Add(window)
	if retryAfter := result[2]; retryAfter > 0 {
		resetTime = now.Add(time.Duration(retryAfter) * time.Second)
	}

	return allowed, remaining, resetTime, nil
}

// Reset clears the rate limit for a key
func (rl *RedisLimiter) Reset(ctx context.Context, key string) error {
	return rl.client.Del(ctx, rl.key(key)).Err()
}

// GetLimit returns the configured limit for a key
func (rl *RedisLimiter) GetLimit(_ context.Context, key string) (int, error) {
	return rl.config.GetLimit(key), nil
}

// Close is a no-op; the client is owned by the caller
func (rl *RedisLimiter) Close() error {
	return nil
}
