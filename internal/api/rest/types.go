package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/glueful/audit-engine/internal/audit"
)

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
	Code    string                 `json:"code,omitempty"`
}

// IngestRequest is an event submitted by a client
type IngestRequest struct {
	Category       string                 `json:"category"`
	Action         string                 `json:"action"`
	Severity       string                 `json:"severity,omitempty"`
	ActorID        string                 `json:"actor_id,omitempty"`
	TargetID       string                 `json:"target_id,omitempty"`
	TargetType     string                 `json:"target_type,omitempty"`
	SessionID      string                 `json:"session_id,omitempty"`
	RelatedEventID string                 `json:"related_event_id,omitempty"`
	Details        map[string]interface{} `json:"details,omitempty"`
}

// IngestResponse reports the id of a recorded event. Suppressed events
// have no id.
type IngestResponse struct {
	EventID    string `json:"event_id,omitempty"`
	Suppressed bool   `json:"suppressed,omitempty"`
}

// RetentionResponse reports a retention run
type RetentionResponse struct {
	Purged int64 `json:"purged"`
}

// ReportTypesResponse lists the supported compliance reports
type ReportTypesResponse struct {
	ReportTypes []string `json:"report_types"`
}

// HealthResponse represents a health check response
type HealthResponse struct {
	Status    string             `json:"status"`
	Version   string             `json:"version,omitempty"`
	Uptime    string             `json:"uptime"`
	Timestamp time.Time          `json:"timestamp"`
	Checks    audit.HealthStatus `json:"checks"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		return json.NewEncoder(w).Encode(data)
	}
	return nil
}

// WriteError writes a JSON error response
func WriteError(w http.ResponseWriter, statusCode int, message string, details map[string]interface{}) {
	writeErrorCode(w, statusCode, "", message, details)
}

func writeErrorCode(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	WriteJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Details: details,
		Code:    code,
	})
}

// statusForError maps pipeline errors to HTTP statuses:
// INVALID_ARGUMENT is 400, INTEGRITY_VIOLATION is 409, anything else 500
func statusForError(err error) (int, string) {
	var ae *audit.Error
	if !errors.As(err, &ae) {
		return http.StatusInternalServerError, ""
	}
	switch ae.Code {
	case audit.CodeInvalidArgument:
		return http.StatusBadRequest, ae.Code
	case audit.CodeIntegrityViolation:
		return http.StatusConflict, ae.Code
	default:
		return http.StatusInternalServerError, ae.Code
	}
}

// writeServiceError writes err without leaking internal failures
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusForError(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.String("path", r.URL.Path), zap.Error(err))
		message = "internal server error"
	}
	writeErrorCode(w, status, code, message, nil)
}
