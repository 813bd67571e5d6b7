package quota_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/loqui-ai/loqui/internal/quota"
)

func TestMemoryStore_IncrementAndCount(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := quota.NewMemoryStore(10, time.Hour)

	for want := 1; want <= 3; want++ {
		n, err := s.Increment(ctx)
		if err != nil {
			t.Fatalf("Increment: %v", err)
		}
		if n != want {
			t.Errorf("Increment = %d; want %d", n, want)
		}
	}
	if n, _ := s.Count(ctx); n != 3 {
		t.Errorf("Count = %d; want 3", n)
	}
	if locked, _ := s.Locked(ctx); locked {
		t.Error("locked below the limit")
	}
}

func TestMemoryStore_LocksAtLimit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := quota.NewMemoryStore(2, time.Hour)

	s.Increment(ctx)
	if locked, _ := s.Locked(ctx); locked {
		t.Fatal("locked after 1 of 2 turns")
	}
	s.Increment(ctx)
	if locked, _ := s.Locked(ctx); !locked {
		t.Fatal("not locked at the limit")
	}
}

func TestMemoryStore_LockExpires(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := quota.NewMemoryStore(1, time.Hour, quota.WithMemoryClock(func() time.Time { return now }))

	s.Increment(ctx)
	if locked, _ := s.Locked(ctx); !locked {
		t.Fatal("not locked at the limit")
	}

	now = now.Add(time.Hour)
	if locked, _ := s.Locked(ctx); locked {
		t.Fatal("still locked after the window elapsed")
	}
	if n, _ := s.Count(ctx); n != 0 {
		t.Errorf("Count = %d after reset; want 0", n)
	}
}

func TestTracker_LockoutFiresOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr := quota.NewTracker(quota.NewMemoryStore(2, time.Hour))

	fired := 0
	tr.OnLockout(func() { fired++ })

	tr.RecordTurn(ctx)
	if fired != 0 {
		t.Fatal("callback fired below the limit")
	}
	tr.RecordTurn(ctx)
	if fired != 1 {
		t.Fatalf("fired = %d after crossing the limit; want 1", fired)
	}
	tr.RecordTurn(ctx)
	if fired != 1 {
		t.Fatalf("fired = %d after a post-lockout turn; want 1 (must not repeat)", fired)
	}
}

func TestTracker_RearmsAfterLockExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr := quota.NewTracker(quota.NewMemoryStore(1, time.Hour, quota.WithMemoryClock(func() time.Time { return now })))

	fired := 0
	tr.OnLockout(func() { fired++ })

	tr.RecordTurn(ctx)
	if fired != 1 {
		t.Fatalf("fired = %d after first lockout; want 1", fired)
	}
	tr.RecordTurn(ctx)
	if fired != 1 {
		t.Fatalf("fired = %d inside the lock window; want 1", fired)
	}

	// A fresh allowance after the window must fire the callbacks again.
	now = now.Add(time.Hour)
	tr.RecordTurn(ctx)
	if fired != 2 {
		t.Fatalf("fired = %d after the window reset; want 2", fired)
	}
}

func TestTracker_StoreErrorPropagates(t *testing.T) {
	t.Parallel()
	wantErr := errors.New("db down")
	db := &mockDB{
		exec: func(sql string, args ...any) (pgconn.CommandTag, error) {
			return pgconn.CommandTag{}, wantErr
		},
	}
	tr := quota.NewTracker(quota.NewPostgresStore(db, "dev-1", 10, time.Hour))

	if _, err := tr.RecordTurn(context.Background()); !errors.Is(err, wantErr) {
		t.Fatalf("err = %v; want wrapped %v", err, wantErr)
	}
}

// mockRow implements pgx.Row for unit tests without a live database.
type mockRow struct {
	scan func(dest ...any) error
}

func (r mockRow) Scan(dest ...any) error { return r.scan(dest...) }

// mockDB implements quota.DB, dispatching on the statement text.
type mockDB struct {
	queryRow func(sql string, args ...any) pgx.Row
	exec     func(sql string, args ...any) (pgconn.CommandTag, error)

	execLog []string
}

func (db *mockDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	return db.queryRow(sql, args...)
}

func (db *mockDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.execLog = append(db.execLog, sql)
	if db.exec != nil {
		return db.exec(sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

func scanInt(n int) func(dest ...any) error {
	return func(dest ...any) error {
		*(dest[0].(*int)) = n
		return nil
	}
}

func TestPostgresStore_IncrementBelowLimit(t *testing.T) {
	t.Parallel()
	db := &mockDB{
		queryRow: func(sql string, args ...any) pgx.Row {
			if !strings.Contains(sql, "ON CONFLICT") {
				t.Errorf("unexpected query: %s", sql)
			}
			if args[0] != "dev-1" {
				t.Errorf("subject arg = %v", args[0])
			}
			return mockRow{scan: scanInt(4)}
		},
	}
	s := quota.NewPostgresStore(db, "dev-1", 10, time.Hour)

	n, err := s.Increment(context.Background())
	if err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if n != 4 {
		t.Errorf("Increment = %d; want 4", n)
	}
	for _, sql := range db.execLog {
		if strings.Contains(sql, "locked_at = now()") {
			t.Error("lockout stamped below the limit")
		}
	}
}

func TestPostgresStore_IncrementStampsLockout(t *testing.T) {
	t.Parallel()
	db := &mockDB{
		queryRow: func(sql string, args ...any) pgx.Row {
			return mockRow{scan: scanInt(10)}
		},
	}
	s := quota.NewPostgresStore(db, "dev-1", 10, time.Hour)

	if _, err := s.Increment(context.Background()); err != nil {
		t.Fatalf("Increment: %v", err)
	}
	stamped := false
	for _, sql := range db.execLog {
		if strings.Contains(sql, "locked_at = now()") {
			stamped = true
		}
	}
	if !stamped {
		t.Error("no lockout stamp at the limit")
	}
}

func TestPostgresStore_CountMissingRow(t *testing.T) {
	t.Parallel()
	db := &mockDB{
		queryRow: func(sql string, args ...any) pgx.Row {
			// COALESCE makes a missing row read as zero.
			return mockRow{scan: scanInt(0)}
		},
	}
	s := quota.NewPostgresStore(db, "dev-2", 10, time.Hour)

	n, err := s.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 0 {
		t.Errorf("Count = %d; want 0", n)
	}
}

func TestPostgresStore_Locked(t *testing.T) {
	t.Parallel()
	db := &mockDB{
		queryRow: func(sql string, args ...any) pgx.Row {
			return mockRow{scan: func(dest ...any) error {
				*(dest[0].(*bool)) = true
				return nil
			}}
		},
	}
	s := quota.NewPostgresStore(db, "dev-1", 10, time.Hour)

	locked, err := s.Locked(context.Background())
	if err != nil {
		t.Fatalf("Locked: %v", err)
	}
	if !locked {
		t.Error("Locked = false; want true")
	}
}

func TestPostgresStore_Migrate(t *testing.T) {
	t.Parallel()
	db := &mockDB{}
	s := quota.NewPostgresStore(db, "dev-1", 10, time.Hour)

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if len(db.execLog) != 1 || !strings.Contains(db.execLog[0], "CREATE TABLE IF NOT EXISTS demo_quota") {
		t.Errorf("unexpected migration statements: %v", db.execLog)
	}
}

func TestPostgresStore_QueryErrorWrapped(t *testing.T) {
	t.Parallel()
	cause := pgx.ErrNoRows
	db := &mockDB{
		queryRow: func(sql string, args ...any) pgx.Row {
			return mockRow{scan: func(dest ...any) error { return cause }}
		},
	}
	s := quota.NewPostgresStore(db, "dev-1", 10, time.Hour)

	if _, err := s.Count(context.Background()); !errors.Is(err, cause) {
		t.Fatalf("err = %v; want wrapped %v", err, cause)
	}
}
