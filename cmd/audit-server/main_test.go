package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/glueful/audit-engine/internal/cache"
	"github.com/glueful/audit-engine/internal/config"
	"github.com/glueful/audit-engine/internal/metrics"
	"github.com/glueful/audit-engine/internal/queue"
	"github.com/glueful/audit-engine/internal/ratelimit"
)

func TestInitLogger(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		logger, err := initLogger("debug", format)
		require.NoError(t, err)
		assert.True(t, logger.Core().Enabled(-1))
	}

	logger, err := initLogger("bogus", "json")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(-1))
}

func TestNeedsRedis(t *testing.T) {
	cfg := config.Default()
	assert.False(t, needsRedis(cfg))

	cfg.Cache.Type = string(cache.HybridCacheType)
	assert.True(t, needsRedis(cfg))

	cfg = config.Default()
	cfg.Async.Enabled = true
	cfg.Async.Queue.Driver = queue.DriverRedis
	assert.True(t, needsRedis(cfg))

	cfg.Async.Queue.Driver = queue.DriverKafka
	assert.False(t, needsRedis(cfg))

	cfg = config.Default()
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.Backend = ratelimit.BackendRedis
	assert.True(t, needsRedis(cfg))
}

func TestBuildSinks(t *testing.T) {
	cfg := config.Default()
	cfg.Sinks.File.Enabled = true
	cfg.Sinks.File.File.Path = filepath.Join(t.TempDir(), "audit.log")
	cfg.Sinks.Log.Enabled = true

	sinks, err := buildSinks(cfg, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, sinks, 2)
	for _, s := range sinks {
		assert.NoError(t, s.Close())
	}

	cfg.Sinks.Webhook.Enabled = true
	cfg.Sinks.Webhook.Webhook.Endpoint = ""
	_, err = buildSinks(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestOpenStore_SQLite(t *testing.T) {
	cfg := config.Default()
	cfg.Store.DSN = filepath.Join(t.TempDir(), "audit.db")

	store, err := openStore(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	assert.NoError(t, store.Close())
}

func TestNewServer_RejectsShortSecret(t *testing.T) {
	cfg := config.Default()
	cfg.Auth.Enabled = true
	cfg.Auth.JWTSecret = "short"

	_, err := newServer(cfg, nil, nil, metrics.NewNoOpMetrics(), zap.NewNop())
	assert.Error(t, err)
}
