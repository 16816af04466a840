// Package lock serializes script runs per hook using the lock columns of the
// hook record.
//
// The lock is advisory and timestamp based: a run holds it from Acquire until
// Release, and a lock older than the configured maximum script duration is
// treated as abandoned and cleared before the next acquire attempt. Clearing a
// stale lock does not stop the process that took it. If that process is still
// alive it can write hook state or release a newer holder's lock after the
// fact; hookd accepts that window in exchange for never wedging a hook.
package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattjoyce/hookd/internal/hook"
	"github.com/mattjoyce/hookd/internal/log"
)

// Store is the slice of the record store the lock protocol needs.
type Store interface {
	CompareAndSetLock(ctx context.Context, hookID int64, lock hook.LockState) (bool, error)
	ClearLock(ctx context.Context, hookID int64) error
	ReclaimStale(ctx context.Context, hookID int64, cutoff time.Time) (bool, error)
	ReclaimAllStale(ctx context.Context, cutoff time.Time) ([]string, error)
}

// Manager acquires, releases and reclaims hook locks.
type Manager struct {
	store       Store
	maxDuration time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager. maxDuration is the longest a script may hold
// a hook before its lock is considered abandoned; it must be positive.
func NewManager(store Store, maxDuration time.Duration, opts ...Option) (*Manager, error) {
	if maxDuration <= 0 {
		return nil, fmt.Errorf("max script duration must be positive, got %v", maxDuration)
	}
	m := &Manager{
		store:       store,
		maxDuration: maxDuration,
		now:         time.Now,
		logger:      log.WithComponent("lock"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// MaxDuration returns the configured maximum script duration.
func (m *Manager) MaxDuration() time.Duration { return m.maxDuration }

// Acquire tries to lock h for event on behalf of nodeID (nil when the event
// has no node). It reports false, with no error, when someone else holds the
// lock. A stale lock is reclaimed first.
func (m *Manager) Acquire(ctx context.Context, h *hook.Hook, event hook.Event, nodeID *int64) (bool, error) {
	if _, err := m.ReclaimIfStale(ctx, h); err != nil {
		return false, err
	}

	now := m.now()
	ok, err := m.store.CompareAndSetLock(ctx, h.ID, hook.LockState{Time: &now, Node: nodeID, Event: event})
	if err != nil {
		return false, err
	}
	if ok {
		h.Lock = hook.LockState{Time: &now, Node: nodeID, Event: event}
	}
	return ok, nil
}

// Release clears the lock on h regardless of who holds it.
func (m *Manager) Release(ctx context.Context, h *hook.Hook) error {
	if err := m.store.ClearLock(ctx, h.ID); err != nil {
		return err
	}
	h.Lock = hook.LockState{}
	return nil
}

// ReclaimIfStale clears the lock on h when it has been held for longer than
// the maximum script duration. It reports whether a lock was cleared.
func (m *Manager) ReclaimIfStale(ctx context.Context, h *hook.Hook) (bool, error) {
	cutoff := m.now().Add(-m.maxDuration)
	reclaimed, err := m.store.ReclaimStale(ctx, h.ID, cutoff)
	if err != nil {
		return false, err
	}
	if reclaimed {
		attrs := []any{"hook", h.Name, "max_duration", m.maxDuration}
		if h.Lock.Locked() {
			attrs = append(attrs, "locked_at", *h.Lock.Time, "locking_event", h.Lock.Event)
		}
		if h.Lock.Node != nil {
			attrs = append(attrs, "locking_node", *h.Lock.Node)
		}
		m.logger.Warn("reclaimed stale hook lock; previous holder presumed dead", attrs...)
		h.Lock = hook.LockState{}
	}
	return reclaimed, nil
}

// ReclaimAll clears every stale lock and returns the affected hook names.
func (m *Manager) ReclaimAll(ctx context.Context) ([]string, error) {
	names, err := m.store.ReclaimAllStale(ctx, m.now().Add(-m.maxDuration))
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		m.logger.Warn("reclaimed stale hook lock; previous holder presumed dead", "hook", name, "max_duration", m.maxDuration)
	}
	return names, nil
}
