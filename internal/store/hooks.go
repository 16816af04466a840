package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/hookd/internal/hook"
	"github.com/mattjoyce/hookd/internal/storage"
)

const hookColumns = `id, name, hook_type, state, lock_time, locking_node, locking_event`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHook(row rowScanner) (*hook.Hook, error) {
	var (
		h         hook.Hook
		state     string
		lockTime  sql.NullString
		lockNode  sql.NullInt64
		lockEvent sql.NullString
	)
	if err := row.Scan(&h.ID, &h.Name, &h.Type, &state, &lockTime, &lockNode, &lockEvent); err != nil {
		return nil, err
	}
	h.State = json.RawMessage(state)
	if lockTime.Valid {
		t, err := storage.ParseTime(lockTime.String)
		if err != nil {
			return nil, fmt.Errorf("parse lock_time for hook %q: %w", h.Name, err)
		}
		h.Lock.Time = &t
	}
	if lockNode.Valid {
		id := lockNode.Int64
		h.Lock.Node = &id
	}
	if lockEvent.Valid {
		h.Lock.Event = hook.Event(lockEvent.String)
	}
	return &h, nil
}

// CreateHook inserts a new, unlocked hook with empty state.
func (s *Store) CreateHook(ctx context.Context, name, hookType string) (*hook.Hook, error) {
	if err := hook.ValidateName(name); err != nil {
		return nil, err
	}
	if hookType == "" {
		return nil, fmt.Errorf("hook type is empty")
	}

	row := s.db.QueryRowContext(ctx, `
INSERT INTO hooks(name, hook_type, state)
VALUES(?, ?, '{}')
RETURNING `+hookColumns+`;
`, name, hookType)
	h, err := scanHook(row)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: hook %q", ErrDuplicateName, name)
	}
	if err != nil {
		return nil, fmt.Errorf("insert hook: %w", err)
	}
	return h, nil
}

// GetHook loads a hook by name, ignoring case.
func (s *Store) GetHook(ctx context.Context, name string) (*hook.Hook, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+hookColumns+` FROM hooks WHERE lower(name) = lower(?);`, name)
	h, err := scanHook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrHookNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("read hook: %w", err)
	}
	return h, nil
}

// FindAll returns every hook ordered by id.
func (s *Store) FindAll(ctx context.Context) ([]*hook.Hook, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+hookColumns+` FROM hooks ORDER BY id ASC;`)
	if err != nil {
		return nil, fmt.Errorf("list hooks: %w", err)
	}
	defer rows.Close()

	var out []*hook.Hook
	for rows.Next() {
		h, err := scanHook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan hook: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list hooks: %w", err)
	}
	return out, nil
}

// DeleteHook removes a hook by name, ignoring case.
func (s *Store) DeleteHook(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM hooks WHERE lower(name) = lower(?);`, name)
	if err != nil {
		return fmt.Errorf("delete hook: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete hook: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrHookNotFound, name)
	}
	return nil
}

// CompareAndSetLock takes the lock for hookID if and only if it is currently
// unlocked. It reports whether this call took the lock.
func (s *Store) CompareAndSetLock(ctx context.Context, hookID int64, lock hook.LockState) (bool, error) {
	if lock.Time == nil || lock.Event == "" {
		return false, fmt.Errorf("lock state needs both time and event")
	}

	var node any
	if lock.Node != nil {
		node = *lock.Node
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE hooks
SET lock_time = ?, locking_node = ?, locking_event = ?
WHERE id = ? AND lock_time IS NULL;
`, storage.FormatTime(*lock.Time), node, string(lock.Event), hookID)
	if err != nil {
		return false, fmt.Errorf("lock hook %d: %w", hookID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("lock hook %d: %w", hookID, err)
	}
	return n == 1, nil
}

// ClearLock unconditionally clears all three lock columns.
func (s *Store) ClearLock(ctx context.Context, hookID int64) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE hooks
SET lock_time = NULL, locking_node = NULL, locking_event = NULL
WHERE id = ?;
`, hookID)
	if err != nil {
		return fmt.Errorf("unlock hook %d: %w", hookID, err)
	}
	return nil
}

// ReclaimStale clears the lock on hookID if it was taken strictly before
// cutoff. It reports whether a lock was cleared.
func (s *Store) ReclaimStale(ctx context.Context, hookID int64, cutoff time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE hooks
SET lock_time = NULL, locking_node = NULL, locking_event = NULL
WHERE id = ? AND lock_time IS NOT NULL AND lock_time < ?;
`, hookID, storage.FormatTime(cutoff))
	if err != nil {
		return false, fmt.Errorf("reclaim hook %d: %w", hookID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reclaim hook %d: %w", hookID, err)
	}
	return n == 1, nil
}

// ReclaimAllStale clears every lock taken strictly before cutoff and returns
// the names of the hooks it unlocked.
func (s *Store) ReclaimAllStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
UPDATE hooks
SET lock_time = NULL, locking_node = NULL, locking_event = NULL
WHERE lock_time IS NOT NULL AND lock_time < ?
RETURNING name;
`, storage.FormatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("reclaim stale locks: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan reclaimed hook: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// UpdateState replaces the hook state blob. The blob must be a JSON object.
func (s *Store) UpdateState(ctx context.Context, hookID int64, state json.RawMessage) error {
	if len(state) == 0 {
		return fmt.Errorf("hook state is empty")
	}
	if _, err := decodeObject(state); err != nil {
		return fmt.Errorf("hook state: %w", err)
	}
	if len(state) > DefaultMaxStateBytes {
		return fmt.Errorf("hook state exceeds max size (%d bytes)", DefaultMaxStateBytes)
	}

	res, err := s.db.ExecContext(ctx, `UPDATE hooks SET state = ? WHERE id = ?;`, string(state), hookID)
	if err != nil {
		return fmt.Errorf("update hook state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update hook state: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: id %d", ErrHookNotFound, hookID)
	}
	return nil
}
