package cache

import (
	"crypto/tls"
	"net"
	"strconv"
	"time"
)

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	// Connection settings
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`

	// Pool settings
	PoolSize    int           `yaml:"pool_size" env:"POOL_SIZE"`
	PoolTimeout time.Duration `yaml:"pool_timeout" env:"POOL_TIMEOUT"`

	// TTL for cached reports
	TTL time.Duration `yaml:"ttl" env:"TTL"`

	// TLS configuration
	TLS *tls.Config `yaml:"-"`

	ClusterEnabled bool `yaml:"cluster_enabled" env:"CLUSTER_ENABLED"`

	// Key prefix for namespacing
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`

	ReadTimeout  time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
}

// DefaultRedisConfig returns a configuration with sensible defaults
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Host:         "localhost",
		Port:         6379,
		Password:     "",
		DB:           0,
		PoolSize:     10,
		PoolTimeout:  4 * time.Second,
		TTL:          5 * time.Minute,
		KeyPrefix:    "audit:report:",
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		DialTimeout:  5 * time.Second,
	}
}

// Validate checks the configuration for validity
func (c *RedisConfig) Validate() error {
	if c.Host == "" {
		return ErrInvalidConfig("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return ErrInvalidConfig("port must be between 1 and 65535")
	}
	if c.PoolSize <= 0 {
		return ErrInvalidConfig("pool_size must be greater than 0")
	}
	if c.TTL <= 0 {
		return ErrInvalidConfig("ttl must be greater than 0")
	}
	return nil
}

// Addr returns the host:port address
func (c *RedisConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
