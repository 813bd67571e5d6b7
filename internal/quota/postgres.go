package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Schema is the DDL required by [PostgresStore]. Apply it via [PostgresStore.Migrate]
// or an external migration tool.
const Schema = `
CREATE TABLE IF NOT EXISTS demo_quota (
	subject    TEXT PRIMARY KEY,
	turn_count INT NOT NULL DEFAULT 0,
	locked_at  TIMESTAMPTZ
);
`

// PostgresStore persists quota state per subject in PostgreSQL, so the demo
// allowance survives restarts and is shared across gateway replicas.
type PostgresStore struct {
	db      DB
	subject string
	limit   int
	window  time.Duration
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store scoped to one subject (a device or account
// identifier). Non-positive limit and window fall back to [DefaultLimit] and
// [DefaultLockWindow].
func NewPostgresStore(db DB, subject string, limit int, window time.Duration) *PostgresStore {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultLockWindow
	}
	return &PostgresStore{db: db, subject: subject, limit: limit, window: window}
}

// Migrate applies [Schema].
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrating demo_quota schema: %w", err)
	}
	return nil
}

// Count implements [Store].
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	if err := s.expire(ctx); err != nil {
		return 0, err
	}
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT COALESCE((SELECT turn_count FROM demo_quota WHERE subject = $1), 0)`,
		s.subject,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("reading quota count: %w", err)
	}
	return n, nil
}

// Increment implements [Store]. The upsert and the lockout stamp run as two
// statements; a concurrent duplicate stamp is harmless because only the first
// write lands (locked_at IS NULL guard).
func (s *PostgresStore) Increment(ctx context.Context) (int, error) {
	if err := s.expire(ctx); err != nil {
		return 0, err
	}
	var n int
	err := s.db.QueryRow(ctx,
		`INSERT INTO demo_quota (subject, turn_count) VALUES ($1, 1)
		 ON CONFLICT (subject) DO UPDATE SET turn_count = demo_quota.turn_count + 1
		 RETURNING turn_count`,
		s.subject,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("incrementing quota: %w", err)
	}
	if n >= s.limit {
		_, err = s.db.Exec(ctx,
			`UPDATE demo_quota SET locked_at = now() WHERE subject = $1 AND locked_at IS NULL`,
			s.subject,
		)
		if err != nil {
			return n, fmt.Errorf("stamping quota lockout: %w", err)
		}
	}
	return n, nil
}

// Locked implements [Store].
func (s *PostgresStore) Locked(ctx context.Context) (bool, error) {
	if err := s.expire(ctx); err != nil {
		return false, err
	}
	var locked bool
	err := s.db.QueryRow(ctx,
		`SELECT COALESCE((SELECT locked_at IS NOT NULL FROM demo_quota WHERE subject = $1), false)`,
		s.subject,
	).Scan(&locked)
	if err != nil {
		return false, fmt.Errorf("reading quota lock: %w", err)
	}
	return locked, nil
}

// expire resets the row once the lock window has elapsed.
func (s *PostgresStore) expire(ctx context.Context) error {
	_, err := s.db.Exec(ctx,
		`UPDATE demo_quota SET turn_count = 0, locked_at = NULL
		 WHERE subject = $1 AND locked_at IS NOT NULL AND locked_at <= now() - $2::interval`,
		s.subject, s.window,
	)
	if err != nil {
		return fmt.Errorf("expiring quota lock: %w", err)
	}
	return nil
}
