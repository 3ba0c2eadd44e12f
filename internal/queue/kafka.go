package queue

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

// KafkaQueue produces audit payloads to a Kafka topic
type KafkaQueue struct {
	producer *kafka.Producer
	cfg      Config
	logger   *zap.Logger
	closed   atomic.Bool
}

// NewKafkaQueue creates an idempotent producer for the configured topic
func NewKafkaQueue(cfg Config, logger *zap.Logger) (*KafkaQueue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Brokers == "" {
		return nil, fmt.Errorf("kafka queue requires brokers")
	}
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}

	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.Brokers,
		"enable.idempotence": true,
		"acks":               "all",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	logger.Info("Audit Kafka producer created", zap.String("topic", cfg.Name))

	q := &KafkaQueue{producer: p, cfg: cfg, logger: logger}
	go q.drainEvents()
	return q, nil
}

// drainEvents logs producer level errors; delivery reports go to the
// per-message channel
func (q *KafkaQueue) drainEvents() {
	for e := range q.producer.Events() {
		if kerr, ok := e.(kafka.Error); ok {
			q.logger.Warn("Kafka producer error", zap.Error(kerr))
		}
	}
}

// Enqueue produces the payload and waits for its delivery report
func (q *KafkaQueue) Enqueue(ctx context.Context, payload []byte) error {
	if q.closed.Load() {
		return ErrClosed
	}

	deliveryChan := make(chan kafka.Event, 1)
	err := q.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &q.cfg.Name, Partition: kafka.PartitionAny},
		Value:          payload,
	}, deliveryChan)
	if err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}

	timer := time.NewTimer(q.cfg.deliveryTimeout())
	defer timer.Stop()

	select {
	case e := <-deliveryChan:
		msg, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected event type: %T", e)
		}
		if msg.TopicPartition.Error != nil {
			return fmt.Errorf("delivery failed: %w", msg.TopicPartition.Error)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("delivery timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Healthy fetches the topic metadata within the context deadline
func (q *KafkaQueue) Healthy(ctx context.Context) error {
	if q.closed.Load() {
		return ErrClosed
	}

	timeout := time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if timeout <= 0 {
		return context.DeadlineExceeded
	}

	md, err := q.producer.GetMetadata(&q.cfg.Name, false, int(timeout.Milliseconds()))
	if err != nil {
		return fmt.Errorf("kafka metadata: %w", err)
	}
	if t, ok := md.Topics[q.cfg.Name]; ok && t.Error.Code() != kafka.ErrNoError {
		return fmt.Errorf("kafka topic %s: %w", q.cfg.Name, t.Error)
	}
	return nil
}

// Close flushes outstanding messages and closes the producer
func (q *KafkaQueue) Close() error {
	if !q.closed.CompareAndSwap(false, true) {
		return nil
	}
	q.logger.Info("Closing audit Kafka producer")
	if remaining := q.producer.Flush(15 * 1000); remaining > 0 {
		q.logger.Warn("Kafka producer closed with undelivered messages", zap.Int("remaining", remaining))
	}
	q.producer.Close()
	return nil
}

// KafkaConsumer reads audit payloads from the topic in a consumer group
type KafkaConsumer struct {
	consumer *kafka.Consumer
	cfg      Config
}

// NewKafkaConsumer joins the consumer group and subscribes to the topic
func NewKafkaConsumer(cfg Config) (*KafkaConsumer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"group.id":          cfg.GroupID,
		"auto.offset.reset": "earliest",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	if err := c.SubscribeTopics([]string{cfg.Name}, nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", cfg.Name, err)
	}

	return &KafkaConsumer{consumer: c, cfg: cfg}, nil
}

// Dequeue reads the next message, returning a nil payload on poll timeout
func (c *KafkaConsumer) Dequeue(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	msg, err := c.consumer.ReadMessage(c.cfg.pollTimeout())
	if err != nil {
		if kerr, ok := err.(kafka.Error); ok && kerr.IsTimeout() {
			return nil, nil
		}
		return nil, fmt.Errorf("kafka read: %w", err)
	}
	return msg.Value, nil
}

// Close leaves the consumer group
func (c *KafkaConsumer) Close() error {
	return c.consumer.Close()
}
