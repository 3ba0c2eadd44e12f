package audit

import (
	"errors"
	"fmt"
)

// Error codes
const (
	CodeInvalidArgument    = "INVALID_ARGUMENT"
	CodeIntegrityViolation = "INTEGRITY_VIOLATION"
	CodeDeliveryFailed     = "DELIVERY_FAILED"
	CodeQueueUnavailable   = "QUEUE_UNAVAILABLE"
	CodeRecursionDetected  = "RECURSION_DETECTED"
)

// Sentinel errors for errors.Is
var (
	ErrInvalidArgument    = &Error{Code: CodeInvalidArgument, Message: "invalid argument"}
	ErrIntegrityViolation = &Error{Code: CodeIntegrityViolation, Message: "integrity violation"}
	ErrDeliveryFailed     = &Error{Code: CodeDeliveryFailed, Message: "delivery failed"}
	ErrQueueUnavailable   = &Error{Code: CodeQueueUnavailable, Message: "queue unavailable"}
	ErrRecursionDetected  = &Error{Code: CodeRecursionDetected, Message: "recursive audit call"}
)

// Error represents an error raised by the audit pipeline
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("audit error [%s]: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("audit error [%s]: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors with the same code
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// Error constructors

func invalidArgument(format string, args ...interface{}) *Error {
	return &Error{
		Code:    CodeInvalidArgument,
		Message: fmt.Sprintf(format, args...),
	}
}

func integrityViolation(eventID string) *Error {
	return &Error{
		Code:    CodeIntegrityViolation,
		Message: fmt.Sprintf("integrity hash mismatch for event %s", eventID),
	}
}

func deliveryFailed(sink string, err error) *Error {
	return &Error{
		Code:    CodeDeliveryFailed,
		Message: fmt.Sprintf("delivery to %s failed", sink),
		Err:     err,
	}
}

func queueUnavailable(err error) *Error {
	return &Error{
		Code:    CodeQueueUnavailable,
		Message: "async queue unavailable",
		Err:     err,
	}
}

// IsInvalidArgument reports whether err is a caller error
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}

// IsIntegrityViolation reports whether err signals a tampered record
func IsIntegrityViolation(err error) bool {
	return errors.Is(err, ErrIntegrityViolation)
}
