package cache

import (
	"context"
	"sync/atomic"
	"time"
)

// HybridCache combines a local LRU (L1) with Redis (L2). L1 serves hot
// reports; L2 shares them across instances.
type HybridCache struct {
	l1Local   *LRU
	l2Redis   *RedisCache
	l2Enabled bool
	hits      uint64
	misses    uint64
	l1Hits    uint64
	l2Hits    uint64
}

// HybridCacheConfig contains configuration for hybrid cache
type HybridCacheConfig struct {
	// L1 (Local) cache settings
	L1Capacity int
	L1TTL      time.Duration

	// L2 (Redis) cache settings
	L2Config *RedisConfig

	// If false, L2 is disabled and only L1 is used
	L2Enabled bool
}

// NewHybridCache creates a hybrid cache. When Redis cannot be reached the
// cache runs with L1 only.
func NewHybridCache(config *HybridCacheConfig) *HybridCache {
	if config == nil {
		config = &HybridCacheConfig{
			L1Capacity: 1000,
			L1TTL:      1 * time.Minute,
			L2Enabled:  true,
			L2Config:   DefaultRedisConfig(),
		}
	}

	var l2 *RedisCache
	if config.L2Enabled {
		var err error
		if l2, err = NewRedisCache(config.L2Config); err != nil {
			l2 = nil
		}
	}

	return newHybrid(NewLRU(config.L1Capacity, config.L1TTL), l2)
}

func newHybrid(l1 *LRU, l2 *RedisCache) *HybridCache {
	return &HybridCache{
		l1Local:   l1,
		l2Redis:   l2,
		l2Enabled: l2 != nil,
	}
}

// Ping checks the L2 tier. Without L2 the local tier serves alone and
// there is nothing to reach.
func (c *HybridCache) Ping(ctx context.Context) error {
	if !c.l2Enabled {
		return nil
	}
	return c.l2Redis.Ping(ctx)
}

// Get checks L1, then L2, promoting L2 hits into L1
func (c *HybridCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if value, ok := c.l1Local.Get(ctx, key); ok {
		atomic.AddUint64(&c.hits, 1)
		atomic.AddUint64(&c.l1Hits, 1)
		return value, true
	}

	if c.l2Enabled {
		if value, ok := c.l2Redis.Get(ctx, key); ok {
			c.l1Local.Set(ctx, key, value)
			atomic.AddUint64(&c.hits, 1)
			atomic.AddUint64(&c.l2Hits, 1)
			return value, true
		}
	}

	atomic.AddUint64(&c.misses, 1)
	return nil, false
}

// Set writes to both tiers
func (c *HybridCache) Set(ctx context.Context, key string, value []byte) {
	c.SetWithTags(ctx, key, value)
}

// SetWithTags writes to both tiers with tags
func (c *HybridCache) SetWithTags(ctx context.Context, key string, value []byte, tags ...string) {
	c.l1Local.SetWithTags(ctx, key, value, tags...)
	if c.l2Enabled {
		c.l2Redis.SetWithTags(ctx, key, value, tags...)
	}
}

// InvalidateTags invalidates the tags in both tiers
func (c *HybridCache) InvalidateTags(ctx context.Context, tags ...string) error {
	_ = c.l1Local.InvalidateTags(ctx, tags...)
	if c.l2Enabled {
		return c.l2Redis.InvalidateTags(ctx, tags...)
	}
	return nil
}

// Delete removes a key from both tiers
func (c *HybridCache) Delete(ctx context.Context, key string) {
	c.l1Local.Delete(ctx, key)
	if c.l2Enabled {
		c.l2Redis.Delete(ctx, key)
	}
}

// Clear removes all entries from both tiers
func (c *HybridCache) Clear(ctx context.Context) {
	c.l1Local.Clear(ctx)
	if c.l2Enabled {
		c.l2Redis.Clear(ctx)
	}
}

// Stats returns combined statistics
func (c *HybridCache) Stats() Stats {
	size := c.l1Local.Stats().Size
	if c.l2Enabled {
		size += c.l2Redis.Stats().Size
	}
	return newStats(size, atomic.LoadUint64(&c.hits), atomic.LoadUint64(&c.misses))
}

// TierHits returns hits served by L1 and L2
func (c *HybridCache) TierHits() (l1, l2 uint64) {
	return atomic.LoadUint64(&c.l1Hits), atomic.LoadUint64(&c.l2Hits)
}

// Close closes the L2 connection
func (c *HybridCache) Close() error {
	if c.l2Enabled {
		return c.l2Redis.Close()
	}
	return nil
}
