package cache

import (
	"errors"
	"fmt"
)

// Error codes
const (
	CodeInvalidConfig   = "INVALID_CONFIG"
	CodeUnavailable     = "CONNECTION_FAILED"
	CodeOperationFailed = "OPERATION_FAILED"
)

// Sentinels for errors.Is; matching is by code
var (
	ErrInvalid     = &CacheError{Code: CodeInvalidConfig}
	ErrUnavailable = &CacheError{Code: CodeUnavailable}
	ErrFailed      = &CacheError{Code: CodeOperationFailed}
)

// CacheError is returned by the report cache backends. Op names the Redis
// command when the error came from one.
type CacheError struct {
	Code    string
	Op      string
	Message string
	Err     error
}

func (e *CacheError) Unwrap() error {
	return e.Err
}

// Is matches errors with the same code
func (e *CacheError) Is(target error) bool {
	var t *CacheError
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

func (e *CacheError) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("report cache [%s] %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("report cache [%s] %s", e.Code, msg)
}

// ErrInvalidConfig reports a rejected cache or Redis setting
func ErrInvalidConfig(msg string) *CacheError {
	return &CacheError{Code: CodeInvalidConfig, Message: msg}
}

// ErrConnectionFailed reports an unreachable Redis server
func ErrConnectionFailed(err error) *CacheError {
	return &CacheError{Code: CodeUnavailable, Message: "redis unreachable", Err: err}
}

// ErrOperationFailed reports a failed Redis command
func ErrOperationFailed(op string, err error) *CacheError {
	return &CacheError{Code: CodeOperationFailed, Op: op, Message: "command failed", Err: err}
}

// IsUnavailable reports whether err means the cache backend is unreachable
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
