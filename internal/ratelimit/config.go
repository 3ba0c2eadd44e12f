package ratelimit

import (
	"fmt"
	"strings"
	"time"
)

// Backends
const (
	BackendRedis = "redis"
	BackendLocal = "local"
)

// Key prefixes select the limit applied to a key
const (
	// IngestKeyPrefix marks event ingest requests
	IngestKeyPrefix = "ingest:"

	// ReportKeyPrefix marks compliance report requests
	ReportKeyPrefix = "report:"
)

// Config holds rate limiter configuration
type Config struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Backend string `yaml:"backend" env:"BACKEND"`

	// DefaultRPS is the default requests per window
	DefaultRPS int `yaml:"default_rps" env:"DEFAULT_RPS"`

	// IngestRPS is the limit for event ingestion
	IngestRPS int `yaml:"ingest_rps" env:"INGEST_RPS"`

	// ReportRPS is the limit for compliance reports, which scan the store
	ReportRPS int `yaml:"report_rps" env:"REPORT_RPS"`

	// BurstFactor multiplies a limit into the bucket capacity
	BurstFactor int `yaml:"burst_factor" env:"BURST_FACTOR"`

	// Window is the time window for rate limiting
	Window time.Duration `yaml:"window" env:"WINDOW"`

	// KeyPrefix is the Redis key prefix
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`

	// FailOpen allows requests when Redis is unavailable
	FailOpen bool `yaml:"fail_open" env:"FAIL_OPEN"`
}

// DefaultConfig returns default rate limiter configuration
func DefaultConfig() *Config {
	return &Config{
		Enabled:     false,
		Backend:     BackendLocal,
		DefaultRPS:  100,
		IngestRPS:   1000,
		ReportRPS:   5,
		BurstFactor: 2,
		Window:      time.Second,
		KeyPrefix:   "ratelimit",
		FailOpen:    true, // Fail open by default for availability
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendRedis, BackendLocal:
	default:
		return fmt.Errorf("unknown rate limit backend %q", c.Backend)
	}
	if c.DefaultRPS <= 0 {
		return fmt.Errorf("default_rps must be greater than 0")
	}
	if c.IngestRPS < 0 || c.ReportRPS < 0 {
		return fmt.Errorf("per-endpoint limits must be >= 0")
	}
	if c.BurstFactor < 0 {
		return fmt.Errorf("burst_factor must be >= 0")
	}
	if c.Window < 0 {
		return fmt.Errorf("window must be >= 0")
	}
	return nil
}

// GetLimit returns the limit for a key. Per-endpoint limits of zero fall
// back to the default.
func (c *Config) GetLimit(key string) int {
	switch {
	case strings.HasPrefix(key, IngestKeyPrefix) && c.IngestRPS > 0:
		return c.IngestRPS
	case strings.HasPrefix(key, ReportKeyPrefix) && c.ReportRPS > 0:
		return c.ReportRPS
	default:
		return c.DefaultRPS
	}
}

// GetBurst returns the bucket capacity for a key
func (c *Config) GetBurst(key string) int {
	limit := c.GetLimit(key)
	if c.BurstFactor > 1 {
		return limit * c.BurstFactor
	}
	return limit
}

func (c *Config) window() time.Duration {
	if c.Window <= 0 {
		return time.Second
	}
	return c.Window
}
