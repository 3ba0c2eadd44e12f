// Package cache provides caching for generated audit reports
package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Cache defines the cache interface. Values are opaque encoded payloads.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte)
	Delete(ctx context.Context, key string)
	Clear(ctx context.Context)
	Stats() Stats
}

// TaggableCache is implemented by caches that can group keys under tags
// and drop every key of a tag at once
type TaggableCache interface {
	Cache
	SetWithTags(ctx context.Context, key string, value []byte, tags ...string)
	InvalidateTags(ctx context.Context, tags ...string) error
}

// Pinger is implemented by caches backed by a remote server
type Pinger interface {
	Ping(ctx context.Context) error
}

// Stats contains cache statistics
type Stats struct {
	Size    int
	Hits    uint64
	Misses  uint64
	HitRate float64
}

func newStats(size int, hits, misses uint64) Stats {
	total := hits + misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return Stats{Size: size, Hits: hits, Misses: misses, HitRate: hitRate}
}

// LRU implements an in-process LRU cache with TTL and tag support
type LRU struct {
	capacity int
	ttl      time.Duration

	items map[string]*list.Element
	order *list.List
	tags  map[string]map[string]struct{}
	mu    sync.Mutex

	hits   uint64
	misses uint64
}

type cacheEntry struct {
	key       string
	value     []byte
	tags      []string
	expiresAt time.Time
}

// NewLRU creates a new LRU cache
func NewLRU(capacity int, ttl time.Duration) *LRU {
	if capacity <= 0 {
		capacity = 1000
	}
	return &LRU{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		tags:     make(map[string]map[string]struct{}),
	}
}

// Get retrieves a value from the cache
func (c *LRU) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*cacheEntry)

		// Check expiration
		if time.Now().After(entry.expiresAt) {
			c.removeElement(elem)
			atomic.AddUint64(&c.misses, 1)
			return nil, false
		}

		// Move to front (most recently used)
		c.order.MoveToFront(elem)
		atomic.AddUint64(&c.hits, 1)
		return entry.value, true
	}

	atomic.AddUint64(&c.misses, 1)
	return nil, false
}

// Set adds or updates a value in the cache
func (c *LRU) Set(ctx context.Context, key string, value []byte) {
	c.SetWithTags(ctx, key, value)
}

// SetWithTags adds or updates a value and associates it with tags
func (c *LRU) SetWithTags(_ context.Context, key string, value []byte, tags ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}

	// Evict if at capacity
	for c.order.Len() >= c.capacity {
		c.evictOldest()
	}

	entry := &cacheEntry{
		key:       key,
		value:     value,
		tags:      tags,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.items[key] = c.order.PushFront(entry)

	for _, tag := range tags {
		keys, ok := c.tags[tag]
		if !ok {
			keys = make(map[string]struct{})
			c.tags[tag] = keys
		}
		keys[key] = struct{}{}
	}
}

// InvalidateTags removes every key associated with any of the tags
func (c *LRU) InvalidateTags(_ context.Context, tags ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, tag := range tags {
		for key := range c.tags[tag] {
			if elem, ok := c.items[key]; ok {
				c.removeElement(elem)
			}
		}
		delete(c.tags, tag)
	}
	return nil
}

// Delete removes a key from the cache
func (c *LRU) Delete(_ context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

// Clear removes all entries from the cache
func (c *LRU) Clear(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.tags = make(map[string]map[string]struct{})
	c.order.Init()
}

// Stats returns cache statistics
func (c *LRU) Stats() Stats {
	c.mu.Lock()
	size := c.order.Len()
	c.mu.Unlock()

	return newStats(size, atomic.LoadUint64(&c.hits), atomic.LoadUint64(&c.misses))
}

// Cleanup removes expired entries
func (c *LRU) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	now := time.Now()

	// Iterate from oldest to newest
	var next *list.Element
	for elem := c.order.Back(); elem != nil; elem = next {
		next = elem.Prev()
		entry := elem.Value.(*cacheEntry)
		if now.After(entry.expiresAt) {
			c.removeElement(elem)
			removed++
		}
	}

	return removed
}

// removeElement removes an element and its tag memberships
func (c *LRU) removeElement(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	delete(c.items, entry.key)
	c.order.Remove(elem)

	for _, tag := range entry.tags {
		if keys, ok := c.tags[tag]; ok {
			delete(keys, entry.key)
			if len(keys) == 0 {
				delete(c.tags, tag)
			}
		}
	}
}

// evictOldest removes the oldest entry
func (c *LRU) evictOldest() {
	if elem := c.order.Back(); elem != nil {
		c.removeElement(elem)
	}
}

// CacheType defines the type of cache to use
type CacheType string

const (
	// LRUCache uses only the local LRU cache
	LRUCache CacheType = "lru"
	// RedisOnly uses only the Redis cache
	RedisOnly CacheType = "redis"
	// HybridCacheType uses both LRU and Redis
	HybridCacheType CacheType = "hybrid"
	// NoCache disables report caching
	NoCache CacheType = "none"
)

// Options selects and configures a cache implementation
type Options struct {
	Type     CacheType
	Capacity int
	TTL      time.Duration
	Redis    *RedisConfig
}

// NewCache creates a cache of the requested type. A nil cache is returned
// for NoCache.
func NewCache(opts Options) (TaggableCache, error) {
	if opts.Capacity <= 0 {
		opts.Capacity = 1000
	}
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}

	switch opts.Type {
	case NoCache:
		return nil, nil

	case RedisOnly:
		c, err := NewRedisCache(opts.Redis)
		if err != nil {
			return nil, err
		}
		return c, nil

	case HybridCacheType:
		return NewHybridCache(&HybridCacheConfig{
			L1Capacity: opts.Capacity,
			L1TTL:      opts.TTL,
			L2Enabled:  true,
			L2Config:   opts.Redis,
		}), nil

	case LRUCache, "":
		return NewLRU(opts.Capacity, opts.TTL), nil

	default:
		return nil, ErrInvalidConfig("unknown cache type " + string(opts.Type))
	}
}
