// Package config loads the audit engine configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/glueful/audit-engine/internal/audit"
	"github.com/glueful/audit-engine/internal/cache"
	"github.com/glueful/audit-engine/internal/export"
	"github.com/glueful/audit-engine/internal/queue"
	"github.com/glueful/audit-engine/internal/ratelimit"
	"github.com/glueful/audit-engine/pkg/types"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "AUDIT_"

// Store drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config is the complete audit engine configuration
type Config struct {
	Store     StoreConfig       `yaml:"store" envPrefix:"STORE_"`
	Retention RetentionConfig   `yaml:"retention" envPrefix:"RETENTION_"`
	Routing   RoutingConfig     `yaml:"routing" envPrefix:"ROUTING_"`
	Async     AsyncConfig       `yaml:"async" envPrefix:"ASYNC_"`
	Batch     BatchConfig       `yaml:"batch" envPrefix:"BATCH_"`
	Immutable ImmutableConfig   `yaml:"immutable" envPrefix:"IMMUTABLE_"`
	Sinks     SinksConfig       `yaml:"sinks" envPrefix:"SINKS_"`
	Filter    FilterConfig      `yaml:"filter" envPrefix:"FILTER_"`
	Redis     cache.RedisConfig `yaml:"redis" envPrefix:"REDIS_"`
	Cache     CacheConfig       `yaml:"cache" envPrefix:"CACHE_"`
	Archive   ArchiveConfig     `yaml:"archive" envPrefix:"ARCHIVE_"`
	Server    ServerConfig      `yaml:"server" envPrefix:"SERVER_"`
	Auth      AuthConfig        `yaml:"auth" envPrefix:"AUTH_"`
	RateLimit ratelimit.Config  `yaml:"rate_limit" envPrefix:"RATE_LIMIT_"`
}

// StoreConfig selects the primary record store
type StoreConfig struct {
	Driver       string `yaml:"driver" env:"DRIVER"`
	DSN          string `yaml:"dsn" env:"DSN"`
	MaxOpenConns int    `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	Migrate      bool   `yaml:"migrate" env:"MIGRATE"`
}

// RetentionConfig holds retention periods and periodic enforcement
type RetentionConfig struct {
	DefaultDays int            `yaml:"default_days" env:"DEFAULT_DAYS"`
	Categories  map[string]int `yaml:"categories" env:"CATEGORIES"`

	// Interval between enforcement runs; zero disables the scheduler
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
}

// RoutingConfig is the category classification table
type RoutingConfig struct {
	Categories         map[string]string `yaml:"categories" env:"CATEGORIES"`
	CriticalSeverities []string          `yaml:"critical_severities" env:"CRITICAL_SEVERITIES"`
	HealthTimeout      time.Duration     `yaml:"health_timeout" env:"HEALTH_TIMEOUT"`
}

// AsyncConfig enables the queue hand-off for high-volume categories
type AsyncConfig struct {
	Enabled        bool          `yaml:"enabled" env:"ENABLED"`
	EnqueueTimeout time.Duration `yaml:"enqueue_timeout" env:"ENQUEUE_TIMEOUT"`
	Workers        int           `yaml:"workers" env:"WORKERS"`
	Queue          queue.Config  `yaml:",inline"`
}

// BatchConfig holds the aggregator thresholds
type BatchConfig struct {
	Enabled       bool                            `yaml:"enabled" env:"ENABLED"`
	Size          int                             `yaml:"size" env:"SIZE"`
	Timeout       time.Duration                   `yaml:"timeout" env:"TIMEOUT"`
	FlushInterval time.Duration                   `yaml:"flush_interval" env:"FLUSH_INTERVAL"`
	WriteTimeout  time.Duration                   `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	Categories    map[string]audit.BatchThreshold `yaml:"categories"`
}

// ImmutableConfig flags records that retention must never purge
type ImmutableConfig struct {
	Enabled    bool     `yaml:"enabled" env:"ENABLED"`
	Categories []string `yaml:"categories" env:"CATEGORIES"`
}

// SinksConfig configures the secondary sinks
type SinksConfig struct {
	Timeout time.Duration     `yaml:"timeout" env:"TIMEOUT"`
	File    FileSinkConfig    `yaml:"file" envPrefix:"FILE_"`
	Syslog  SyslogSinkConfig  `yaml:"syslog" envPrefix:"SYSLOG_"`
	Webhook WebhookSinkConfig `yaml:"webhook" envPrefix:"WEBHOOK_"`
	Log     LogSinkConfig     `yaml:"log" envPrefix:"LOG_"`
}

type FileSinkConfig struct {
	Enabled bool                 `yaml:"enabled" env:"ENABLED"`
	File    audit.FileSinkConfig `yaml:",inline"`
}

type SyslogSinkConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Network string `yaml:"network" env:"NETWORK"`
	Address string `yaml:"address" env:"ADDRESS"`
	Tag     string `yaml:"tag" env:"TAG"`
}

type WebhookSinkConfig struct {
	Enabled bool                    `yaml:"enabled" env:"ENABLED"`
	Webhook audit.WebhookSinkConfig `yaml:",inline"`
}

type LogSinkConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
}

// FilterConfig holds the noise suppression settings
type FilterConfig struct {
	MinSeverity    string   `yaml:"min_severity" env:"MIN_SEVERITY"`
	SkipPaths      []string `yaml:"skip_paths" env:"SKIP_PATHS"`
	SkipUserAgents []string `yaml:"skip_user_agents" env:"SKIP_USER_AGENTS"`
	SuppressRules  []string `yaml:"suppress_rules" env:"SUPPRESS_RULES" envSeparator:";"`
}

// CacheConfig selects the report cache
type CacheConfig struct {
	Type     string        `yaml:"type" env:"TYPE"`
	Capacity int           `yaml:"capacity" env:"CAPACITY"`
	TTL      time.Duration `yaml:"ttl" env:"TTL"`
}

// ArchiveConfig uploads expired records before they are purged
type ArchiveConfig struct {
	Enabled bool               `yaml:"enabled" env:"ENABLED"`
	Minio   export.MinioConfig `yaml:",inline"`
}

// ServerConfig configures the REST API
type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	EnableCORS      bool          `yaml:"enable_cors" env:"ENABLE_CORS"`
	MetricsEnabled  bool          `yaml:"metrics_enabled" env:"METRICS_ENABLED"`
}

// AuthConfig configures bearer token authentication of the REST API
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	Issuer    string `yaml:"issuer" env:"ISSUER"`
	Audience  string `yaml:"audience" env:"AUDIENCE"`
}

// Default returns the built-in configuration
func Default() *Config {
	settings := audit.DefaultSettings()

	retention := make(map[string]int, len(settings.Delivery.Retention.Categories))
	for cat, days := range settings.Delivery.Retention.Categories {
		retention[string(cat)] = days
	}

	routing := make(map[string]string, len(settings.Routing.Categories))
	for cat, class := range settings.Routing.Categories {
		routing[string(cat)] = string(class)
	}
	var critical []string
	for _, sev := range types.Severities {
		if settings.Routing.CriticalSeverities[sev] {
			critical = append(critical, string(sev))
		}
	}

	batches := make(map[string]audit.BatchThreshold, len(settings.Batch.PerCategory))
	for cat, t := range settings.Batch.PerCategory {
		batches[string(cat)] = t
	}

	immutable := make([]string, len(settings.Delivery.ImmutableCategories))
	for i, cat := range settings.Delivery.ImmutableCategories {
		immutable[i] = string(cat)
	}

	return &Config{
		Store: StoreConfig{
			Driver:       DriverSQLite,
			DSN:          "audit.db",
			MaxOpenConns: 25,
			Migrate:      true,
		},
		Retention: RetentionConfig{
			DefaultDays: settings.Delivery.Retention.DefaultDays,
			Categories:  retention,
			Interval:    24 * time.Hour,
		},
		Routing: RoutingConfig{
			Categories:         routing,
			CriticalSeverities: critical,
			HealthTimeout:      settings.HealthTimeout,
		},
		Async: AsyncConfig{
			EnqueueTimeout: settings.EnqueueTimeout,
			Workers:        4,
			Queue:          queue.DefaultConfig(),
		},
		Batch: BatchConfig{
			Enabled:       settings.BatchingEnabled,
			Size:          settings.Batch.Default.Size,
			Timeout:       settings.Batch.Default.Timeout,
			FlushInterval: settings.Batch.FlushInterval,
			WriteTimeout:  settings.Batch.WriteTimeout,
			Categories:    batches,
		},
		Immutable: ImmutableConfig{
			Categories: immutable,
		},
		Sinks: SinksConfig{
			Timeout: settings.Delivery.SinkTimeout,
			File: FileSinkConfig{
				File: audit.FileSinkConfig{
					Path:       "/var/log/audit-engine/audit.log",
					MaxSizeMB:  100,
					MaxAgeDays: 30,
					MaxBackups: 10,
					Compress:   true,
				},
			},
			Syslog: SyslogSinkConfig{
				Network: "udp",
				Address: "localhost:514",
				Tag:     "audit-engine",
			},
		},
		Redis: *cache.DefaultRedisConfig(),
		Cache: CacheConfig{
			Type:     string(cache.LRUCache),
			Capacity: 1000,
			TTL:      5 * time.Minute,
		},
		Archive: ArchiveConfig{
			Minio: export.MinioConfig{
				Region: "us-east-1",
				Bucket: "audit-archive",
			},
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MetricsEnabled:  true,
		},
		RateLimit: *ratelimit.DefaultConfig(),
	}
}

// Load reads the YAML file at path over the defaults and applies
// environment overrides. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration
func (c *Config) Validate() error {
	var errs error

	switch c.Store.Driver {
	case DriverPostgres, DriverSQLite:
		if c.Store.DSN == "" {
			errs = multierr.Append(errs, errors.New("store.dsn is required"))
		}
	default:
		errs = multierr.Append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}

	if _, err := c.ToSettings(); err != nil {
		errs = multierr.Append(errs, err)
	}
	if c.Batch.Size <= 0 {
		errs = multierr.Append(errs, errors.New("batch.size must be greater than 0"))
	}
	if c.Batch.Timeout <= 0 {
		errs = multierr.Append(errs, errors.New("batch.timeout must be greater than 0"))
	}
	if c.Retention.DefaultDays <= 0 {
		errs = multierr.Append(errs, errors.New("retention.default_days must be greater than 0"))
	}

	if c.Async.Enabled {
		if err := c.Async.Queue.Validate(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("async: %w", err))
		}
	}
	if c.Archive.Enabled {
		if err := c.Archive.Minio.Validate(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("archive: %w", err))
		}
	}
	if c.Sinks.File.Enabled && c.Sinks.File.File.Path == "" {
		errs = multierr.Append(errs, errors.New("sinks.file.path is required"))
	}
	if c.Sinks.Webhook.Enabled && c.Sinks.Webhook.Webhook.Endpoint == "" {
		errs = multierr.Append(errs, errors.New("sinks.webhook.endpoint is required"))
	}
	if c.Sinks.Syslog.Enabled && c.Sinks.Syslog.Address == "" {
		errs = multierr.Append(errs, errors.New("sinks.syslog.address is required"))
	}

	switch cache.CacheType(c.Cache.Type) {
	case cache.LRUCache, cache.RedisOnly, cache.HybridCacheType, cache.NoCache:
	default:
		errs = multierr.Append(errs, fmt.Errorf("unknown cache type %q", c.Cache.Type))
	}

	if c.Auth.Enabled && len(c.Auth.JWTSecret) < 32 {
		errs = multierr.Append(errs, errors.New("auth.jwt_secret must be at least 32 bytes"))
	}
	if c.RateLimit.Enabled {
		if err := c.RateLimit.Validate(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("rate_limit: %w", err))
		}
	}

	return errs
}

// ToSettings converts the reloadable part of the configuration into the
// runtime settings of the audit service
func (c *Config) ToSettings() (audit.Settings, error) {
	s := audit.DefaultSettings()

	table := audit.RoutingTable{
		Categories:         make(map[types.Category]audit.CategoryClass, len(c.Routing.Categories)),
		CriticalSeverities: make(map[types.Severity]bool, len(c.Routing.CriticalSeverities)),
	}
	for name, className := range c.Routing.Categories {
		cat, err := parseCategory(name)
		if err != nil {
			return s, fmt.Errorf("routing: %w", err)
		}
		class, err := audit.ParseCategoryClass(className)
		if err != nil {
			return s, fmt.Errorf("routing %s: %w", name, err)
		}
		table.Categories[cat] = class
	}
	for _, name := range c.Routing.CriticalSeverities {
		sev, err := types.ParseSeverity(name)
		if err != nil {
			return s, fmt.Errorf("routing: %w", err)
		}
		table.CriticalSeverities[sev] = true
	}
	s.Routing = table
	s.AsyncEnabled = c.Async.Enabled
	s.BatchingEnabled = c.Batch.Enabled
	if c.Routing.HealthTimeout > 0 {
		s.HealthTimeout = c.Routing.HealthTimeout
	}
	if c.Async.EnqueueTimeout > 0 {
		s.EnqueueTimeout = c.Async.EnqueueTimeout
	}

	s.Batch = audit.BatchConfig{
		Default:       audit.BatchThreshold{Size: c.Batch.Size, Timeout: c.Batch.Timeout},
		PerCategory:   make(map[types.Category]audit.BatchThreshold, len(c.Batch.Categories)),
		FlushInterval: c.Batch.FlushInterval,
		WriteTimeout:  c.Batch.WriteTimeout,
	}
	for name, t := range c.Batch.Categories {
		cat, err := parseCategory(name)
		if err != nil {
			return s, fmt.Errorf("batch: %w", err)
		}
		s.Batch.PerCategory[cat] = t
	}

	s.Delivery.Retention = audit.RetentionPolicy{
		DefaultDays: c.Retention.DefaultDays,
		Categories:  make(map[types.Category]int, len(c.Retention.Categories)),
	}
	for name, days := range c.Retention.Categories {
		cat, err := parseCategory(name)
		if err != nil {
			return s, fmt.Errorf("retention: %w", err)
		}
		if days <= 0 {
			return s, fmt.Errorf("retention %s: days must be greater than 0", name)
		}
		s.Delivery.Retention.Categories[cat] = days
	}
	s.Delivery.ImmutableStorage = c.Immutable.Enabled
	s.Delivery.ImmutableCategories = nil
	for _, name := range c.Immutable.Categories {
		cat, err := parseCategory(name)
		if err != nil {
			return s, fmt.Errorf("immutable: %w", err)
		}
		s.Delivery.ImmutableCategories = append(s.Delivery.ImmutableCategories, cat)
	}
	if c.Sinks.Timeout > 0 {
		s.Delivery.SinkTimeout = c.Sinks.Timeout
	}

	if c.Filter.MinSeverity != "" {
		sev, err := types.ParseSeverity(c.Filter.MinSeverity)
		if err != nil {
			return s, fmt.Errorf("filter: %w", err)
		}
		s.MinSeverity = sev
	}
	s.SkipPaths = c.Filter.SkipPaths
	s.SkipUserAgents = c.Filter.SkipUserAgents
	s.SuppressRules = c.Filter.SuppressRules

	return s, nil
}

// parseCategory accepts any non-empty name; the category set is open
func parseCategory(name string) (types.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("empty category name")
	}
	return types.Category(strings.ToLower(name)), nil
}
