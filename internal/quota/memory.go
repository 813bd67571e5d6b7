package quota

import (
	"context"
	"sync"
	"time"
)

// DefaultLockWindow is how long the demo stays locked after the limit is
// reached before the counter resets.
const DefaultLockWindow = 24 * time.Hour

// MemoryStore is an in-process [Store] used in tests and single-node
// development setups. State does not survive a restart.
type MemoryStore struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu       sync.Mutex
	count    int
	lockedAt time.Time
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// MemoryOption configures a [MemoryStore].
type MemoryOption func(*MemoryStore)

// WithMemoryClock overrides the time source. Used in tests.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates a MemoryStore with the given limit and lock window.
// Non-positive arguments fall back to [DefaultLimit] and [DefaultLockWindow].
func NewMemoryStore(limit int, window time.Duration, opts ...MemoryOption) *MemoryStore {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultLockWindow
	}
	s := &MemoryStore{limit: limit, window: window, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Count implements [Store].
func (s *MemoryStore) Count(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()
	return s.count, nil
}

// Increment implements [Store].
func (s *MemoryStore) Increment(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()
	s.count++
	if s.count >= s.limit && s.lockedAt.IsZero() {
		s.lockedAt = s.now()
	}
	return s.count, nil
}

// Locked implements [Store].
func (s *MemoryStore) Locked(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()
	return !s.lockedAt.IsZero(), nil
}

// expireLocked resets the counter once the lock window has elapsed.
// Callers must hold s.mu.
func (s *MemoryStore) expireLocked() {
	if s.lockedAt.IsZero() {
		return
	}
	if s.now().Sub(s.lockedAt) >= s.window {
		s.count = 0
		s.lockedAt = time.Time{}
	}
}
