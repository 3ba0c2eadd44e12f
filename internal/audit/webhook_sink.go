package audit

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookSinkConfig configures delivery to an external compliance service
type WebhookSinkConfig struct {
	Endpoint string        `yaml:"endpoint" env:"ENDPOINT"`
	Token    string        `yaml:"token" env:"TOKEN"`
	Timeout  time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// WebhookSink posts each record as JSON to an HTTP endpoint
type WebhookSink struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewWebhookSink creates a webhook sink
func NewWebhookSink(cfg WebhookSinkConfig) (*WebhookSink, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("webhook endpoint is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &WebhookSink{
		endpoint: cfg.Endpoint,
		token:    cfg.Token,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// Name returns the sink name
func (s *WebhookSink) Name() string {
	return "webhook"
}

// Write posts the record; any non-2xx response is a failure
func (s *WebhookSink) Write(ctx context.Context, rec *Record) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Audit-Event-Id", rec.Event.EventID)
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post record: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Close releases idle connections
func (s *WebhookSink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
