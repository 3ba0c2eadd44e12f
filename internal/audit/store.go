package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/glueful/audit-engine/internal/db"
	"github.com/glueful/audit-engine/pkg/types"
)

// Record is a persisted audit event with its retention metadata
type Record struct {
	Event         *types.AuditEvent `json:"event"`
	RetentionDate time.Time         `json:"retention_date"`
	Immutable     bool              `json:"immutable"`
}

// Query selects records from a store
type Query struct {
	Filter SearchFilter

	// RetentionBefore selects records whose retention date is before the time
	RetentionBefore *time.Time
	// ExcludeImmutable skips records flagged immutable
	ExcludeImmutable bool

	Limit     int
	Offset    int
	Ascending bool
}

// Store is the append-only record store
type Store interface {
	// Insert inserts a single record
	Insert(ctx context.Context, rec *Record) error

	// InsertBatch inserts multiple records in a single transaction
	InsertBatch(ctx context.Context, recs []*Record) error

	// Search returns the matching page of records and the total match count
	Search(ctx context.Context, q *Query) ([]*Record, int, error)

	// DeleteExpired deletes records whose retention date is before the given
	// time, keeping immutable records when skipImmutable is set
	DeleteExpired(ctx context.Context, before time.Time, skipImmutable bool) (int64, error)

	// Close releases the underlying connection
	Close() error
}

// sqlDialect captures the differences between the relational stores
type sqlDialect struct {
	// placeholder returns the n-th (1-based) bind parameter
	placeholder func(n int) string
	// arrayArg wraps a list for "= ANY(...)"; nil expands an IN list
	arrayArg func(values []string) interface{}
	// timeArg converts a time into its bind value
	timeArg func(t time.Time) interface{}
	// detailsText is the details column as text
	detailsText string
	// likeOp is the substring match operator
	likeOp string
	// tiebreak orders rows sharing a timestamp
	tiebreak string
}

var selectColumns = strings.Join(db.AuditLogColumns, ", ")

// whereClause renders the filter of q as a WHERE clause
func (d sqlDialect) whereClause(q *Query) (string, []interface{}) {
	var (
		clauses []string
		args    []interface{}
	)

	bind := func(v interface{}) string {
		args = append(args, v)
		return d.placeholder(len(args))
	}
	eq := func(col, v string) {
		if v != "" {
			clauses = append(clauses, col+" = "+bind(v))
		}
	}
	in := func(col string, values []string) {
		if values == nil {
			return
		}
		if len(values) == 0 {
			clauses = append(clauses, "1 = 0")
			return
		}
		if d.arrayArg != nil {
			clauses = append(clauses, col+" = ANY("+bind(d.arrayArg(values))+")")
			return
		}
		ph := make([]string, len(values))
		for i, v := range values {
			ph[i] = bind(v)
		}
		clauses = append(clauses, col+" IN ("+strings.Join(ph, ", ")+")")
	}

	f := q.Filter
	if len(f.Categories) > 0 {
		cats := make([]string, len(f.Categories))
		for i, c := range f.Categories {
			cats[i] = string(c)
		}
		in("category", cats)
	}
	if sevs := f.EffectiveSeverities(); sevs != nil {
		vals := make([]string, len(sevs))
		for i, s := range sevs {
			vals[i] = string(s)
		}
		in("severity", vals)
	}

	eq("action", f.Action)
	eq("actor_id", f.ActorID)
	eq("target_id", f.TargetID)
	eq("target_type", f.TargetType)
	eq("ip_address", f.IPAddress)
	eq("session_id", f.SessionID)

	if !f.StartTime.IsZero() {
		clauses = append(clauses, "timestamp >= "+bind(d.timeArg(f.StartTime)))
	}
	if !f.EndTime.IsZero() {
		clauses = append(clauses, "timestamp <= "+bind(d.timeArg(f.EndTime)))
	}
	if f.DetailsContains != "" {
		clauses = append(clauses, fmt.Sprintf(`%s %s %s ESCAPE '\'`, d.detailsText, d.likeOp, bind(likePattern(f.DetailsContains))))
	}

	if q.RetentionBefore != nil {
		clauses = append(clauses, "retention_date < "+bind(d.timeArg(*q.RetentionBefore)))
	}
	if q.ExcludeImmutable {
		clauses = append(clauses, "immutable = "+bind(false))
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// searchQueries renders the count and page queries for q
func (d sqlDialect) searchQueries(q *Query) (countSQL, pageSQL string, countArgs, pageArgs []interface{}) {
	where, args := d.whereClause(q)

	countSQL = "SELECT COUNT(*) FROM " + db.TableAuditLogs + where

	order := "DESC"
	if q.Ascending {
		order = "ASC"
	}
	pageSQL = "SELECT " + selectColumns + " FROM " + db.TableAuditLogs + where +
		fmt.Sprintf(" ORDER BY timestamp %s, %s %s", order, d.tiebreak, order)

	pageArgs = append([]interface{}{}, args...)
	if q.Limit > 0 {
		pageArgs = append(pageArgs, q.Limit)
		pageSQL += " LIMIT " + d.placeholder(len(pageArgs))
	}
	if q.Offset > 0 {
		pageArgs = append(pageArgs, q.Offset)
		pageSQL += " OFFSET " + d.placeholder(len(pageArgs))
	}

	return countSQL, pageSQL, args, pageArgs
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord reads one row selected with selectColumns
func scanRecord(row rowScanner) (*Record, error) {
	var (
		e             types.AuditEvent
		category      string
		severity      string
		timestamp     interface{}
		retentionDate interface{}
		details       []byte
		rec           Record
	)

	err := row.Scan(
		&e.EventID,
		&category,
		&e.Action,
		&severity,
		&e.ActorID,
		&e.TargetID,
		&e.TargetType,
		&timestamp,
		&e.IPAddress,
		&e.UserAgent,
		&e.RequestURI,
		&e.HTTPMethod,
		&e.SessionID,
		&details,
		&e.RelatedEventID,
		&e.IntegrityHash,
		&retentionDate,
		&rec.Immutable,
	)
	if err != nil {
		return nil, err
	}

	e.Category = types.Category(category)
	e.Severity = types.Severity(severity)

	if e.Timestamp, err = toTime(timestamp); err != nil {
		return nil, fmt.Errorf("event %s timestamp: %w", e.EventID, err)
	}
	if rec.RetentionDate, err = toTime(retentionDate); err != nil {
		return nil, fmt.Errorf("event %s retention date: %w", e.EventID, err)
	}
	if e.Details, err = types.DecodeDetails(details); err != nil {
		return nil, fmt.Errorf("event %s: %w", e.EventID, err)
	}

	rec.Event = &e
	return &rec, nil
}

// recordArgs returns the insert arguments in selectColumns order
func recordArgs(rec *Record, timeArg func(time.Time) interface{}) ([]interface{}, error) {
	e := rec.Event
	details, err := json.Marshal(e.Details)
	if err != nil {
		return nil, fmt.Errorf("marshal details: %w", err)
	}
	if e.Details == nil {
		details = []byte("{}")
	}

	return []interface{}{
		e.EventID,
		string(e.Category),
		e.Action,
		string(e.Severity),
		e.ActorID,
		e.TargetID,
		e.TargetType,
		timeArg(e.Timestamp),
		e.IPAddress,
		e.UserAgent,
		e.RequestURI,
		e.HTTPMethod,
		e.SessionID,
		string(details),
		e.RelatedEventID,
		e.IntegrityHash,
		timeArg(rec.RetentionDate),
		rec.Immutable,
	}, nil
}

func toTime(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		return types.ParseTimestamp(t)
	case []byte:
		return types.ParseTimestamp(string(t))
	default:
		return time.Time{}, fmt.Errorf("unsupported time value %T", v)
	}
}
