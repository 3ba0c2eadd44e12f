package audit

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/glueful/audit-engine/pkg/types"
)

// Sink is a secondary destination that receives every persisted record.
// Sinks are independent: a failing sink never affects the store or the
// other sinks.
type Sink interface {
	// Name identifies the sink in logs and metrics
	Name() string

	// Write delivers a record; ctx carries the per-sink timeout
	Write(ctx context.Context, rec *Record) error

	// Close releases the sink
	Close() error
}

// sinkRecord is the wire shape written by sinks
type sinkRecord struct {
	Event         map[string]interface{} `json:"event"`
	RetentionDate string                 `json:"retention_date"`
	Immutable     bool                   `json:"immutable"`
}

func encodeRecord(rec *Record) ([]byte, error) {
	return json.Marshal(sinkRecord{
		Event:         rec.Event.ToMap(),
		RetentionDate: rec.RetentionDate.UTC().Format("2006-01-02T15:04:05Z"),
		Immutable:     rec.Immutable,
	})
}

// LogSink forwards records to a generic structured logger
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink writing one structured entry per record
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("audit")}
}

// Name returns the sink name
func (s *LogSink) Name() string {
	return "log"
}

// Write logs the record at a level derived from its severity
func (s *LogSink) Write(_ context.Context, rec *Record) error {
	e := rec.Event
	fields := []zap.Field{
		zap.String("event_id", e.EventID),
		zap.String("category", string(e.Category)),
		zap.String("action", e.Action),
		zap.String("severity", string(e.Severity)),
		zap.String("actor_id", e.ActorID),
		zap.String("target_id", e.TargetID),
		zap.String("target_type", e.TargetType),
		zap.String("ip_address", e.IPAddress),
		zap.Time("timestamp", e.Timestamp),
		zap.Any("details", e.Details),
		zap.String("integrity_hash", e.IntegrityHash),
		zap.Time("retention_date", rec.RetentionDate),
		zap.Bool("immutable", rec.Immutable),
	}

	switch e.Severity {
	case types.SeverityInfo:
		s.logger.Info("audit event", fields...)
	case types.SeverityWarning:
		s.logger.Warn("audit event", fields...)
	default:
		s.logger.Error("audit event", fields...)
	}
	return nil
}

// Close flushes the logger
func (s *LogSink) Close() error {
	_ = s.logger.Sync()
	return nil
}
