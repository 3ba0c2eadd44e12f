package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

var postgresDialect = sqlDialect{
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	arrayArg:    func(values []string) interface{} { return pq.Array(values) },
	timeArg:     func(t time.Time) interface{} { return t.UTC() },
	detailsText: "details::text",
	likeOp:      "ILIKE",
	tiebreak:    "event_id",
}

// PostgresStore implements the Store interface using PostgreSQL. The
// schema is managed by db.MigrationRunner.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL audit store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres opens a connection pool and verifies it
func OpenPostgres(ctx context.Context, dsn string, maxOpen int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
		db.SetMaxIdleConns(maxOpen / 2)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Insert inserts a single audit record
func (s *PostgresStore) Insert(ctx context.Context, rec *Record) error {
	args, err := recordArgs(rec, postgresDialect.timeArg)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, insertSQL(postgresDialect.placeholder), args...); err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

// InsertBatch inserts multiple audit records in a single transaction
func (s *PostgresStore) InsertBatch(ctx context.Context, recs []*Record) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertSQL(postgresDialect.placeholder))
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		args, err := recordArgs(rec, postgresDialect.timeArg)
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

// Search retrieves records matching the query, newest first unless
// q.Ascending is set
func (s *PostgresStore) Search(ctx context.Context, q *Query) ([]*Record, int, error) {
	return searchSQL(ctx, s.db, postgresDialect, q)
}

// DeleteExpired deletes records whose retention date has passed
func (s *PostgresStore) DeleteExpired(ctx context.Context, before time.Time, skipImmutable bool) (int64, error) {
	query := "DELETE FROM audit_logs WHERE retention_date < $1"
	if skipImmutable {
		query += " AND immutable = FALSE"
	}

	res, err := s.db.ExecContext(ctx, query, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired records: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
