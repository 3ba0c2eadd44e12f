package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache implements TaggableCache using Redis. Tags are Redis sets
// holding the keys stored under them.
type RedisCache struct {
	client redis.UniversalClient
	config *RedisConfig
	hits   uint64
	misses uint64
}

// NewRedisCache creates a new Redis cache and verifies the connection
func NewRedisCache(config *RedisConfig) (*RedisCache, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}

	client, err := NewRedisClient(context.Background(), config)
	if err != nil {
		return nil, err
	}

	return NewRedisCacheWithClient(client, config), nil
}

// NewRedisClient builds a client from the configuration and verifies the
// connection. The queue and the rate limiter share it with the cache.
func NewRedisClient(ctx context.Context, config *RedisConfig) (redis.UniversalClient, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var client redis.UniversalClient

	if config.ClusterEnabled {
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        []string{config.Addr()},
			Password:     config.Password,
			PoolSize:     config.PoolSize,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			DialTimeout:  config.DialTimeout,
			TLSConfig:    config.TLS,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:         config.Addr(),
			Password:     config.Password,
			DB:           config.DB,
			PoolSize:     config.PoolSize,
			PoolTimeout:  config.PoolTimeout,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			DialTimeout:  config.DialTimeout,
			TLSConfig:    config.TLS,
		})
	}

	// Verify connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, ErrConnectionFailed(err)
	}

	return client, nil
}

// NewRedisCacheWithClient wraps an existing client
func NewRedisCacheWithClient(client redis.UniversalClient, config *RedisConfig) *RedisCache {
	if config == nil {
		config = DefaultRedisConfig()
	}
	return &RedisCache{client: client, config: config}
}

func (c *RedisCache) key(k string) string {
	return c.config.KeyPrefix + k
}

func (c *RedisCache) tagKey(tag string) string {
	return c.config.KeyPrefix + "tag:" + tag
}

// Get retrieves a value from the cache
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		// redis.Nil and transport errors are both misses
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}

	atomic.AddUint64(&c.hits, 1)
	return data, true
}

// Set adds or updates a value in the cache
func (c *RedisCache) Set(ctx context.Context, key string, value []byte) {
	c.client.Set(ctx, c.key(key), value, c.config.TTL)
}

// SetWithTags stores the value and adds the key to each tag set
func (c *RedisCache) SetWithTags(ctx context.Context, key string, value []byte, tags ...string) {
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, c.key(key), value, c.config.TTL)
	for _, tag := range tags {
		pipe.SAdd(ctx, c.tagKey(tag), c.key(key))
		// Tag sets outlive their members by one TTL at most
		pipe.Expire(ctx, c.tagKey(tag), 2*c.config.TTL)
	}
	_, _ = pipe.Exec(ctx)
}

// InvalidateTags deletes every key stored under the tags, then the tag sets
func (c *RedisCache) InvalidateTags(ctx context.Context, tags ...string) error {
	for _, tag := range tags {
		tagKey := c.tagKey(tag)

		keys, err := c.client.SMembers(ctx, tagKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return ErrOperationFailed("smembers", err)
		}

		keys = append(keys, tagKey)
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			return ErrOperationFailed("del", err)
		}
	}
	return nil
}

// Ping checks that the Redis server answers
func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return ErrConnectionFailed(err)
	}
	return nil
}

// Delete removes a key from the cache
func (c *RedisCache) Delete(ctx context.Context, key string) {
	c.client.Del(ctx, c.key(key))
}

// Clear removes all entries matching the key prefix
func (c *RedisCache) Clear(ctx context.Context) {
	iter := c.client.Scan(ctx, 0, c.config.KeyPrefix+"*", 100).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}

	if len(keys) > 0 {
		c.client.Del(ctx, keys...)
	}
}

// Stats returns hit and miss counts; size is the database key count
func (c *RedisCache) Stats() Stats {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	size := 0
	if dbSize, err := c.client.DBSize(ctx).Result(); err == nil {
		size = int(dbSize)
	}

	return newStats(size, atomic.LoadUint64(&c.hits), atomic.LoadUint64(&c.misses))
}

// Exists checks if a key exists
func (c *RedisCache) Exists(ctx context.Context, key string) bool {
	exists, err := c.client.Exists(ctx, c.key(key)).Result()
	return err == nil && exists > 0
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) String() string {
	return fmt.Sprintf("redis cache (prefix %q, ttl %s)", c.config.KeyPrefix, c.config.TTL)
}
