// Package queue provides the async hand-off queues of the audit pipeline.
// Producers satisfy audit.EventQueue and consumers audit.EventSource.
package queue

import (
	"errors"
	"fmt"
	"time"
)

// Drivers
const (
	DriverRedis = "redis"
	DriverKafka = "kafka"
)

const (
	// DefaultName is the Redis list key or Kafka topic
	DefaultName = "audit:events"

	// DefaultPollTimeout bounds a single blocking dequeue
	DefaultPollTimeout = 2 * time.Second

	// DefaultDeliveryTimeout bounds a Kafka delivery report wait
	DefaultDeliveryTimeout = 10 * time.Second
)

var (
	// ErrQueueFull is returned when the queue is over its maximum depth
	ErrQueueFull = errors.New("queue is full")

	// ErrClosed is returned after Close
	ErrClosed = errors.New("queue is closed")
)

// Config configures the async queue
type Config struct {
	Driver          string        `yaml:"driver" env:"DRIVER"`
	Name            string        `yaml:"name" env:"NAME"`
	MaxDepth        int64         `yaml:"max_depth" env:"MAX_DEPTH"`
	PollTimeout     time.Duration `yaml:"poll_timeout" env:"POLL_TIMEOUT"`
	DeliveryTimeout time.Duration `yaml:"delivery_timeout" env:"DELIVERY_TIMEOUT"`

	// Kafka only
	Brokers string `yaml:"brokers" env:"BROKERS"`
	GroupID string `yaml:"group_id" env:"GROUP_ID"`
}

// DefaultConfig returns a Redis backed queue configuration
func DefaultConfig() Config {
	return Config{
		Driver:          DriverRedis,
		Name:            DefaultName,
		MaxDepth:        100000,
		PollTimeout:     DefaultPollTimeout,
		DeliveryTimeout: DefaultDeliveryTimeout,
		GroupID:         "audit-workers",
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	switch c.Driver {
	case DriverRedis:
	case DriverKafka:
		if c.Brokers == "" {
			return fmt.Errorf("kafka queue requires brokers")
		}
		if c.GroupID == "" {
			return fmt.Errorf("kafka queue requires a consumer group")
		}
	default:
		return fmt.Errorf("unknown queue driver %q", c.Driver)
	}
	if c.Name == "" {
		return fmt.Errorf("queue name is required")
	}
	if c.MaxDepth < 0 {
		return fmt.Errorf("max depth must be >= 0")
	}
	return nil
}

func (c Config) pollTimeout() time.Duration {
	if c.PollTimeout > 0 {
		return c.PollTimeout
	}
	return DefaultPollTimeout
}

func (c Config) deliveryTimeout() time.Duration {
	if c.DeliveryTimeout > 0 {
		return c.DeliveryTimeout
	}
	return DefaultDeliveryTimeout
}
