package types

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TimestampLayout is the canonical timestamp representation used for hashing
// and text storage. Microsecond precision matches relational stores.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// AuditEvent represents a single audit occurrence protected by an integrity hash.
//
// Fields must only be changed through the setters, which recompute
// IntegrityHash. An event is not safe for concurrent mutation.
type AuditEvent struct {
	EventID  string   `json:"event_id"`
	Category Category `json:"category"`
	Action   string   `json:"action"`
	Severity Severity `json:"severity"`

	// Actor and target
	ActorID    string `json:"actor_id,omitempty"`
	TargetID   string `json:"target_id,omitempty"`
	TargetType string `json:"target_type,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	// Network and request context
	IPAddress  string `json:"ip_address,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
	RequestURI string `json:"request_uri,omitempty"`
	HTTPMethod string `json:"http_method,omitempty"`
	SessionID  string `json:"session_id,omitempty"`

	Details        map[string]interface{} `json:"details"`
	RelatedEventID string                 `json:"related_event_id,omitempty"`

	IntegrityHash string `json:"integrity_hash"`
}

// NewAuditEvent creates an event, capturing request context from ctx when present
func NewAuditEvent(ctx context.Context, category Category, action string, severity Severity, details map[string]interface{}) *AuditEvent {
	e := &AuditEvent{
		EventID:   uuid.New().String(),
		Category:  category,
		Action:    action,
		Severity:  severity,
		Timestamp: time.Now().UTC().Truncate(time.Microsecond),
		Details:   NormalizeDetails(details),
	}

	if info, ok := RequestInfoFromContext(ctx); ok {
		e.IPAddress = info.IPAddress
		e.UserAgent = info.UserAgent
		e.RequestURI = info.URI
		e.HTTPMethod = info.Method
		e.SessionID = info.SessionID
	}

	e.IntegrityHash = e.ComputeHash()
	return e
}

// SetActor sets the entity that caused the event
func (e *AuditEvent) SetActor(actorID string) *AuditEvent {
	e.ActorID = actorID
	e.IntegrityHash = e.ComputeHash()
	return e
}

// SetTarget sets the object acted upon
func (e *AuditEvent) SetTarget(targetID, targetType string) *AuditEvent {
	e.TargetID = targetID
	e.TargetType = targetType
	e.IntegrityHash = e.ComputeHash()
	return e
}

// SetRelatedEvent links the event to a causally related one
func (e *AuditEvent) SetRelatedEvent(eventID string) *AuditEvent {
	e.RelatedEventID = eventID
	e.IntegrityHash = e.ComputeHash()
	return e
}

// SetNetworkInfo sets the client IP address and user agent
func (e *AuditEvent) SetNetworkInfo(ip, userAgent string) *AuditEvent {
	e.IPAddress = ip
	e.UserAgent = userAgent
	e.IntegrityHash = e.ComputeHash()
	return e
}

// SetRequestInfo sets the request URI and HTTP method
func (e *AuditEvent) SetRequestInfo(uri, method string) *AuditEvent {
	e.RequestURI = uri
	e.HTTPMethod = method
	e.IntegrityHash = e.ComputeHash()
	return e
}

// SetSession sets the session identifier
func (e *AuditEvent) SetSession(sessionID string) *AuditEvent {
	e.SessionID = sessionID
	e.IntegrityHash = e.ComputeHash()
	return e
}

// AddDetails merges details into the event; existing keys are overwritten
func (e *AuditEvent) AddDetails(details map[string]interface{}) *AuditEvent {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	for k, v := range NormalizeDetails(details) {
		e.Details[k] = v
	}
	e.IntegrityHash = e.ComputeHash()
	return e
}

// ComputeHash returns the hex SHA-256 digest of the canonical form of every
// field except the hash itself
func (e *AuditEvent) ComputeHash() string {
	details := e.Details
	if details == nil {
		details = map[string]interface{}{}
	}

	hashInput := struct {
		EventID        string                 `json:"event_id"`
		Category       string                 `json:"category"`
		Action         string                 `json:"action"`
		Severity       string                 `json:"severity"`
		ActorID        string                 `json:"actor_id"`
		TargetID       string                 `json:"target_id"`
		TargetType     string                 `json:"target_type"`
		Timestamp      string                 `json:"timestamp"`
		IPAddress      string                 `json:"ip_address"`
		UserAgent      string                 `json:"user_agent"`
		RequestURI     string                 `json:"request_uri"`
		HTTPMethod     string                 `json:"http_method"`
		SessionID      string                 `json:"session_id"`
		Details        map[string]interface{} `json:"details"`
		RelatedEventID string                 `json:"related_event_id"`
	}{
		EventID:        e.EventID,
		Category:       string(e.Category),
		Action:         e.Action,
		Severity:       string(e.Severity),
		ActorID:        e.ActorID,
		TargetID:       e.TargetID,
		TargetType:     e.TargetType,
		Timestamp:      FormatTimestamp(e.Timestamp),
		IPAddress:      e.IPAddress,
		UserAgent:      e.UserAgent,
		RequestURI:     e.RequestURI,
		HTTPMethod:     e.HTTPMethod,
		SessionID:      e.SessionID,
		Details:        details,
		RelatedEventID: e.RelatedEventID,
	}

	data, err := json.Marshal(hashInput)
	if err != nil {
		// Details are normalized on entry, so this only happens when they were
		// replaced directly with unserializable values.
		data = []byte(fmt.Sprintf("%+v", hashInput))
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// VerifyIntegrity recomputes the hash and compares it with the stored one in
// constant time
func (e *AuditEvent) VerifyIntegrity() bool {
	if e.IntegrityHash == "" {
		return false
	}
	computed := e.ComputeHash()
	return subtle.ConstantTimeCompare([]byte(computed), []byte(e.IntegrityHash)) == 1
}

// ToMap returns the canonical map representation used for persistence
func (e *AuditEvent) ToMap() map[string]interface{} {
	details := make(map[string]interface{}, len(e.Details))
	for k, v := range e.Details {
		details[k] = v
	}

	return map[string]interface{}{
		"event_id":         e.EventID,
		"category":         string(e.Category),
		"action":           e.Action,
		"severity":         string(e.Severity),
		"actor_id":         e.ActorID,
		"target_id":        e.TargetID,
		"target_type":      e.TargetType,
		"timestamp":        FormatTimestamp(e.Timestamp),
		"ip_address":       e.IPAddress,
		"user_agent":       e.UserAgent,
		"request_uri":      e.RequestURI,
		"http_method":      e.HTTPMethod,
		"session_id":       e.SessionID,
		"details":          details,
		"related_event_id": e.RelatedEventID,
		"integrity_hash":   e.IntegrityHash,
	}
}

// FromMap reconstructs an event from its canonical map representation.
// The stored integrity hash is restored as-is and never recomputed.
func FromMap(m map[string]interface{}) (*AuditEvent, error) {
	e := &AuditEvent{}

	var err error
	if e.EventID, err = stringField(m, "event_id"); err != nil {
		return nil, err
	}
	if e.EventID == "" {
		return nil, fmt.Errorf("event_id is required")
	}

	category, err := stringField(m, "category")
	if err != nil {
		return nil, err
	}
	e.Category = Category(category)

	severity, err := stringField(m, "severity")
	if err != nil {
		return nil, err
	}
	e.Severity = Severity(severity)

	fields := []struct {
		key string
		dst *string
	}{
		{"action", &e.Action},
		{"actor_id", &e.ActorID},
		{"target_id", &e.TargetID},
		{"target_type", &e.TargetType},
		{"ip_address", &e.IPAddress},
		{"user_agent", &e.UserAgent},
		{"request_uri", &e.RequestURI},
		{"http_method", &e.HTTPMethod},
		{"session_id", &e.SessionID},
		{"related_event_id", &e.RelatedEventID},
		{"integrity_hash", &e.IntegrityHash},
	}
	for _, f := range fields {
		if *f.dst, err = stringField(m, f.key); err != nil {
			return nil, err
		}
	}

	switch ts := m["timestamp"].(type) {
	case time.Time:
		e.Timestamp = ts.UTC()
	case string:
		if e.Timestamp, err = ParseTimestamp(ts); err != nil {
			return nil, fmt.Errorf("invalid timestamp: %w", err)
		}
	default:
		return nil, fmt.Errorf("invalid timestamp type %T", m["timestamp"])
	}

	switch d := m["details"].(type) {
	case nil:
		e.Details = map[string]interface{}{}
	case map[string]interface{}:
		e.Details = NormalizeDetails(d)
	case string:
		if e.Details, err = DecodeDetails([]byte(d)); err != nil {
			return nil, err
		}
	case []byte:
		if e.Details, err = DecodeDetails(d); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("invalid details type %T", m["details"])
	}

	return e, nil
}

// MarshalJSON encodes the event through its canonical map
func (e *AuditEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.ToMap())
}

// UnmarshalJSON decodes an event without recomputing its hash
func (e *AuditEvent) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var m map[string]interface{}
	if err := dec.Decode(&m); err != nil {
		return fmt.Errorf("decode audit event: %w", err)
	}

	restored, err := FromMap(m)
	if err != nil {
		return err
	}
	*e = *restored
	return nil
}

// NormalizeDetails converts details to their JSON-decoded form so that the
// hash of a reloaded event matches the original. Values that cannot be
// serialized are replaced by their string representation.
func NormalizeDetails(details map[string]interface{}) map[string]interface{} {
	if len(details) == 0 {
		return map[string]interface{}{}
	}

	safe := make(map[string]interface{}, len(details))
	for k, v := range details {
		if _, err := json.Marshal(v); err != nil {
			safe[k] = fmt.Sprint(v)
			continue
		}
		safe[k] = v
	}

	data, err := json.Marshal(safe)
	if err != nil {
		return safe
	}
	out, err := DecodeDetails(data)
	if err != nil {
		return safe
	}
	return out
}

// DecodeDetails decodes a JSON details document, keeping numbers exact
func DecodeDetails(data []byte) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if len(bytes.TrimSpace(data)) == 0 {
		return out, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode details: %w", err)
	}
	if out == nil {
		out = map[string]interface{}{}
	}
	return out, nil
}

// FormatTimestamp renders t in the canonical layout
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses the canonical layout, falling back to RFC 3339
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(TimestampLayout, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC().Truncate(time.Microsecond), nil
}

func stringField(m map[string]interface{}, key string) (string, error) {
	switch v := m[key].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return "", fmt.Errorf("field %s: expected string, got %T", key, v)
	}
}
