// Package quota tracks the demo turn allowance and its lockout state.
//
// The core pipeline only reads and increments the counter and reacts to the
// "limit reached" transition; the state itself is persisted outside the
// process (PostgreSQL in production, in-memory for tests and development).
package quota

import (
	"context"
	"sync"
)

// DefaultLimit is the number of completed assistant turns allowed before the
// demo locks out.
const DefaultLimit = 10

// Store persists the quota state. Implementations must be safe for
// concurrent use.
type Store interface {
	// Count returns the number of turns consumed in the current window.
	Count(ctx context.Context) (int, error)

	// Increment records one consumed turn and returns the new count.
	Increment(ctx context.Context) (int, error)

	// Locked reports whether the limit has been reached and the lockout
	// window has not yet elapsed.
	Locked(ctx context.Context) (bool, error)
}

// Tracker wraps a [Store] and fires callbacks exactly once when the lockout
// threshold is crossed. Safe for concurrent use.
type Tracker struct {
	store Store

	mu    sync.Mutex
	cbs   []func()
	fired bool
}

// NewTracker creates a Tracker over store.
func NewTracker(store Store) *Tracker {
	return &Tracker{store: store}
}

// OnLockout registers a callback invoked when the lockout threshold is first
// crossed. Multiple callbacks may be registered; each fires at most once.
func (t *Tracker) OnLockout(cb func()) {
	if cb == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cbs = append(t.cbs, cb)
}

// Store returns the underlying store.
func (t *Tracker) Store() Store { return t.store }

// Locked reports whether the allowance is currently locked out.
func (t *Tracker) Locked(ctx context.Context) (bool, error) {
	return t.store.Locked(ctx)
}

// RecordTurn increments the counter and fires the lockout callbacks when
// this increment crossed the threshold. Callbacks run synchronously on the
// caller's goroutine. Each lock episode fires at most once: observing an
// unlocked store re-arms the callbacks, so a counter that resets after the
// lock window (or an external reset) triggers them again on the next
// lockout.
func (t *Tracker) RecordTurn(ctx context.Context) (int, error) {
	locked, err := t.store.Locked(ctx)
	if err != nil {
		return 0, err
	}
	if !locked {
		t.mu.Lock()
		t.fired = false
		t.mu.Unlock()
	}

	n, err := t.store.Increment(ctx)
	if err != nil {
		return 0, err
	}

	locked, err = t.store.Locked(ctx)
	if err != nil {
		return n, err
	}
	if !locked {
		return n, nil
	}

	t.mu.Lock()
	cbs := t.cbs
	fired := t.fired
	t.fired = true
	t.mu.Unlock()

	if !fired {
		for _, cb := range cbs {
			cb()
		}
	}
	return n, nil
}
