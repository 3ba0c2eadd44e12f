package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisQueue is a FIFO queue on a Redis list (LPUSH / BRPOP). It is both
// the producer and the consumer side.
type RedisQueue struct {
	client redis.UniversalClient
	cfg    Config
}

// NewRedisQueue creates a queue on an existing client
func NewRedisQueue(client redis.UniversalClient, cfg Config) *RedisQueue {
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	return &RedisQueue{client: client, cfg: cfg}
}

// Enqueue pushes a payload, refusing it when the list is over its depth
func (q *RedisQueue) Enqueue(ctx context.Context, payload []byte) error {
	if q.cfg.MaxDepth > 0 {
		n, err := q.client.LLen(ctx, q.cfg.Name).Result()
		if err != nil {
			return fmt.Errorf("redis queue length: %w", err)
		}
		if n >= q.cfg.MaxDepth {
			return ErrQueueFull
		}
	}

	if err := q.client.LPush(ctx, q.cfg.Name, payload).Err(); err != nil {
		return fmt.Errorf("redis queue push: %w", err)
	}
	return nil
}

// Dequeue pops the oldest payload, waiting up to the poll timeout. It
// returns a nil payload when nothing arrived.
func (q *RedisQueue) Dequeue(ctx context.Context) ([]byte, error) {
	res, err := q.client.BRPop(ctx, q.cfg.pollTimeout(), q.cfg.Name).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis queue pop: %w", err)
	}
	// BRPOP replies with [key, value]
	if len(res) != 2 {
		return nil, fmt.Errorf("redis queue pop: unexpected reply of %d elements", len(res))
	}
	return []byte(res[1]), nil
}

// Healthy reports whether Redis answers and the list has room
func (q *RedisQueue) Healthy(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	if q.cfg.MaxDepth <= 0 {
		return nil
	}

	n, err := q.client.LLen(ctx, q.cfg.Name).Result()
	if err != nil {
		return fmt.Errorf("redis queue length: %w", err)
	}
	if n >= q.cfg.MaxDepth {
		return ErrQueueFull
	}
	return nil
}

// Len returns the number of queued payloads
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.cfg.Name).Result()
}

// Close is a no-op; the client is owned by the caller
func (q *RedisQueue) Close() error {
	return nil
}
