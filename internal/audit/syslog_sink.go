package audit

import (
	"context"
	"fmt"
	"log/syslog"
	"sync"

	"github.com/glueful/audit-engine/pkg/types"
)

// SyslogSink writes records to syslog as JSON
type SyslogSink struct {
	writer *syslog.Writer
	mu     sync.Mutex
}

// NewSyslogSink connects to a syslog daemon
func NewSyslogSink(protocol, address, tag string) (*SyslogSink, error) {
	// Default protocol if not specified
	if protocol == "" {
		protocol = "tcp"
	}
	if tag == "" {
		tag = "audit-engine"
	}

	writer, err := syslog.Dial(protocol, address, syslog.LOG_INFO|syslog.LOG_AUTH, tag)
	if err != nil {
		return nil, fmt.Errorf("connect to syslog: %w", err)
	}

	return &SyslogSink{writer: writer}, nil
}

// Name returns the sink name
func (s *SyslogSink) Name() string {
	return "syslog"
}

// Write sends the record at the syslog priority matching its severity
func (s *SyslogSink) Write(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	msg := string(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	switch rec.Event.Severity {
	case types.SeverityInfo:
		return s.writer.Info(msg)
	case types.SeverityWarning:
		return s.writer.Warning(msg)
	case types.SeverityError:
		return s.writer.Err(msg)
	case types.SeverityCritical:
		return s.writer.Crit(msg)
	case types.SeverityAlert:
		return s.writer.Alert(msg)
	case types.SeverityEmergency:
		return s.writer.Emerg(msg)
	default:
		return s.writer.Notice(msg)
	}
}

// Close closes the syslog connection
func (s *SyslogSink) Close() error {
	return s.writer.Close()
}
