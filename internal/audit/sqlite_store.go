package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/glueful/audit-engine/internal/db"
	"github.com/glueful/audit-engine/pkg/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_logs (
    event_id         TEXT PRIMARY KEY,
    category         TEXT NOT NULL,
    action           TEXT NOT NULL,
    severity         TEXT NOT NULL,
    actor_id         TEXT NOT NULL DEFAULT '',
    target_id        TEXT NOT NULL DEFAULT '',
    target_type      TEXT NOT NULL DEFAULT '',
    timestamp        TEXT NOT NULL,
    ip_address       TEXT NOT NULL DEFAULT '',
    user_agent       TEXT NOT NULL DEFAULT '',
    request_uri      TEXT NOT NULL DEFAULT '',
    http_method      TEXT NOT NULL DEFAULT '',
    session_id       TEXT NOT NULL DEFAULT '',
    details          TEXT NOT NULL DEFAULT '{}',
    related_event_id TEXT NOT NULL DEFAULT '',
    integrity_hash   TEXT NOT NULL,
    retention_date   TEXT NOT NULL,
    immutable        INTEGER NOT NULL DEFAULT 0,
    created_at       TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);

CREATE INDEX IF NOT EXISTS idx_audit_logs_category       ON audit_logs (category);
CREATE INDEX IF NOT EXISTS idx_audit_logs_action         ON audit_logs (action);
CREATE INDEX IF NOT EXISTS idx_audit_logs_severity       ON audit_logs (severity);
CREATE INDEX IF NOT EXISTS idx_audit_logs_actor_id       ON audit_logs (actor_id);
CREATE INDEX IF NOT EXISTS idx_audit_logs_target_id      ON audit_logs (target_id);
CREATE INDEX IF NOT EXISTS idx_audit_logs_target_type    ON audit_logs (target_type);
CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp      ON audit_logs (timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_logs_session_id     ON audit_logs (session_id);
CREATE INDEX IF NOT EXISTS idx_audit_logs_integrity_hash ON audit_logs (integrity_hash);
CREATE INDEX IF NOT EXISTS idx_audit_logs_retention      ON audit_logs (retention_date);

CREATE TRIGGER IF NOT EXISTS audit_logs_no_update
BEFORE UPDATE ON audit_logs
BEGIN
    SELECT RAISE(ABORT, 'audit_logs is append-only');
END;
`

// Timestamps are stored as fixed-width canonical text so that string
// comparison orders them chronologically.
var sqliteDialect = sqlDialect{
	placeholder: func(int) string { return "?" },
	timeArg:     func(t time.Time) interface{} { return types.FormatTimestamp(t) },
	detailsText: "details",
	likeOp:      "LIKE",
	tiebreak:    "rowid",
}

// SQLiteStore implements Store on an embedded SQLite database
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and ensures the
// schema. Use ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Single writer; also keeps an in-memory database on one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// DB exposes the underlying handle
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func insertSQL(placeholder func(int) string) string {
	ph := make([]string, len(db.AuditLogColumns))
	for i := range ph {
		ph[i] = placeholder(i + 1)
	}
	return "INSERT INTO " + db.TableAuditLogs + " (" + selectColumns + ") VALUES (" + strings.Join(ph, ", ") + ")"
}

// Insert inserts a single record
func (s *SQLiteStore) Insert(ctx context.Context, rec *Record) error {
	args, err := recordArgs(rec, sqliteDialect.timeArg)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, insertSQL(sqliteDialect.placeholder), args...); err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

// InsertBatch inserts multiple records in a single transaction
func (s *SQLiteStore) InsertBatch(ctx context.Context, recs []*Record) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertSQL(sqliteDialect.placeholder))
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		args, err := recordArgs(rec, sqliteDialect.timeArg)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert record %s: %w", rec.Event.EventID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Search returns the requested page and the total match count
func (s *SQLiteStore) Search(ctx context.Context, q *Query) ([]*Record, int, error) {
	return searchSQL(ctx, s.db, sqliteDialect, q)
}

// DeleteExpired deletes records whose retention date has passed
func (s *SQLiteStore) DeleteExpired(ctx context.Context, before time.Time, skipImmutable bool) (int64, error) {
	query := "DELETE FROM audit_logs WHERE retention_date < ?"
	if skipImmutable {
		query += " AND immutable = 0"
	}

	res, err := s.db.ExecContext(ctx, query, types.FormatTimestamp(before))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired records: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// searchSQL runs the count and page queries of q
func searchSQL(ctx context.Context, db *sql.DB, d sqlDialect, q *Query) ([]*Record, int, error) {
	countSQL, pageSQL, countArgs, pageArgs := d.searchQueries(q)

	var total int
	if err := db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit records: %w", err)
	}
	if total == 0 {
		return []*Record{}, 0, nil
	}

	rows, err := db.QueryContext(ctx, pageSQL, pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	recs := []*Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan audit record: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating rows: %w", err)
	}

	return recs, total, nil
}
