// Package db provides database schema constants and migrations
package db

// Table names
const (
	TableAuditLogs = "audit_logs"
)

// Column names of the audit_logs table
const (
	ColEventID        = "event_id"
	ColCategory       = "category"
	ColAction         = "action"
	ColSeverity       = "severity"
	ColActorID        = "actor_id"
	ColTargetID       = "target_id"
	ColTargetType     = "target_type"
	ColTimestamp      = "timestamp"
	ColIPAddress      = "ip_address"
	ColUserAgent      = "user_agent"
	ColRequestURI     = "request_uri"
	ColHTTPMethod     = "http_method"
	ColSessionID      = "session_id"
	ColDetails        = "details"
	ColRelatedEventID = "related_event_id"
	ColIntegrityHash  = "integrity_hash"
	ColRetentionDate  = "retention_date"
	ColImmutable      = "immutable"
	ColCreatedAt      = "created_at"
)

// AuditLogColumns lists the persisted columns in insert and select order
var AuditLogColumns = []string{
	ColEventID,
	ColCategory,
	ColAction,
	ColSeverity,
	ColActorID,
	ColTargetID,
	ColTargetType,
	ColTimestamp,
	ColIPAddress,
	ColUserAgent,
	ColRequestURI,
	ColHTTPMethod,
	ColSessionID,
	ColDetails,
	ColRelatedEventID,
	ColIntegrityHash,
	ColRetentionDate,
	ColImmutable,
}
