package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRU_SetGet(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(10, time.Minute)

	_, ok := c.Get(ctx, "missing")
	assert.False(t, ok)

	c.Set(ctx, "k", []byte("v"))
	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	stats := c.Stats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 0.001)
}

func TestLRU_Eviction(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(2, time.Minute)

	c.Set(ctx, "a", []byte("1"))
	c.Set(ctx, "b", []byte("2"))
	_, _ = c.Get(ctx, "a") // a becomes most recent
	c.Set(ctx, "c", []byte("3"))

	_, ok := c.Get(ctx, "b")
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok = c.Get(ctx, "a")
	assert.True(t, ok)
	_, ok = c.Get(ctx, "c")
	assert.True(t, ok)
}

func TestLRU_Expiry(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(10, 10*time.Millisecond)

	c.Set(ctx, "k", []byte("v"))
	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)

	c.Set(ctx, "x", []byte("v"))
	c.Set(ctx, "y", []byte("v"))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, c.Cleanup())
}

func TestLRU_InvalidateTags(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(10, time.Minute)

	c.SetWithTags(ctx, "auth-1", []byte("1"), "category:authentication")
	c.SetWithTags(ctx, "auth-2", []byte("2"), "category:authentication")
	c.SetWithTags(ctx, "data-1", []byte("3"), "category:data_access")
	c.Set(ctx, "plain", []byte("4"))

	require.NoError(t, c.InvalidateTags(ctx, "category:authentication"))

	_, ok := c.Get(ctx, "auth-1")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "auth-2")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "data-1")
	assert.True(t, ok)
	_, ok = c.Get(ctx, "plain")
	assert.True(t, ok)

	// Unknown tags are a no-op
	assert.NoError(t, c.InvalidateTags(ctx, "category:none"))
}

func TestLRU_ReplacingKeyDropsOldTags(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(10, time.Minute)

	c.SetWithTags(ctx, "k", []byte("1"), "old")
	c.SetWithTags(ctx, "k", []byte("2"), "new")

	require.NoError(t, c.InvalidateTags(ctx, "old"))
	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("2"), got)
}

func TestLRU_DeleteClear(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(10, time.Minute)

	for i := 0; i < 5; i++ {
		c.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"))
	}
	c.Delete(ctx, "k0")
	assert.Equal(t, 4, c.Stats().Size)

	c.Clear(ctx)
	assert.Equal(t, 0, c.Stats().Size)
}

func TestNewCache(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantNil bool
		wantErr bool
	}{
		{name: "default is lru", opts: Options{}},
		{name: "lru", opts: Options{Type: LRUCache, Capacity: 5}},
		{name: "disabled", opts: Options{Type: NoCache}, wantNil: true},
		{name: "unknown type", opts: Options{Type: "memcached"}, wantNil: true, wantErr: true},
		{name: "redis with bad config", opts: Options{Type: RedisOnly, Redis: &RedisConfig{}}, wantNil: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewCache(tt.opts)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			if tt.wantNil {
				assert.Nil(t, c)
			} else {
				assert.NotNil(t, c)
			}
		})
	}
}
