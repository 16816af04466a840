// Package store is the SQLite record store behind hooks and nodes.
//
// Every lock transition is a single conditional UPDATE so that several hookd
// processes sharing one database file coordinate through SQLite alone.
package store

import (
	"database/sql"
	"errors"
	"strings"
	"time"
)

// DefaultMaxStateBytes bounds a hook's stored state blob when no limit is configured.
const DefaultMaxStateBytes = 1 << 20 // 1 MiB

var (
	// ErrHookNotFound is returned when no hook has the requested name.
	ErrHookNotFound = errors.New("hook not found")
	// ErrNodeNotFound is returned when no node has the requested id.
	ErrNodeNotFound = errors.New("node not found")
	// ErrDuplicateName is returned when a create would reuse a hook or node name.
	ErrDuplicateName = errors.New("name already in use")
)

// Store persists hooks and nodes in a SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New wraps a database opened with storage.OpenSQLite.
func New(db *sql.DB) *Store {
	return &Store{
		db:  db,
		now: time.Now,
	}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
