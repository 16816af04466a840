package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/hookd/internal/hook"
	"github.com/mattjoyce/hookd/internal/storage"
)

// CreateNode inserts a node. A nil metadata map stores {}.
func (s *Store) CreateNode(ctx context.Context, name string, metadata map[string]any) (*hook.Node, error) {
	if name == "" {
		return nil, fmt.Errorf("node name is empty")
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal node metadata: %w", err)
	}

	now := s.now().UTC()
	var id int64
	err = s.db.QueryRowContext(ctx, `
INSERT INTO nodes(name, metadata, created_at)
VALUES(?, ?, ?)
RETURNING id;
`, name, string(raw), storage.FormatTime(now)).Scan(&id)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: node %q", ErrDuplicateName, name)
	}
	if err != nil {
		return nil, fmt.Errorf("insert node: %w", err)
	}
	return &hook.Node{ID: id, Name: name, Metadata: metadata, CreatedAt: now}, nil
}

// LoadNode reads a node fresh from the database.
func (s *Store) LoadNode(ctx context.Context, id int64) (*hook.Node, error) {
	var (
		n          hook.Node
		raw        string
		createdAtS string
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, name, metadata, created_at FROM nodes WHERE id = ?;`, id).
		Scan(&n.ID, &n.Name, &raw, &createdAtS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", ErrNodeNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read node: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &n.Metadata); err != nil {
		return nil, fmt.Errorf("stored metadata is invalid JSON for node %d: %w", id, err)
	}
	if n.Metadata == nil {
		n.Metadata = map[string]any{}
	}
	if t, err := storage.ParseTime(createdAtS); err == nil {
		n.CreatedAt = t
	}
	return &n, nil
}

// UpdateNodeMetadata applies updates as a shallow merge: top-level keys are
// replaced and a JSON null removes the key. The merged metadata is persisted
// and returned.
func (s *Store) UpdateNodeMetadata(ctx context.Context, nodeID int64, updates json.RawMessage) (json.RawMessage, error) {
	upd, err := decodeObject(updates)
	if err != nil {
		return nil, fmt.Errorf("decode metadata updates: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var curRaw string
	err = tx.QueryRowContext(ctx, `SELECT metadata FROM nodes WHERE id = ?;`, nodeID).Scan(&curRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", ErrNodeNotFound, nodeID)
	}
	if err != nil {
		return nil, fmt.Errorf("read node metadata: %w", err)
	}

	cur, err := decodeObject(json.RawMessage(curRaw))
	if err != nil {
		return nil, fmt.Errorf("decode stored metadata: %w", err)
	}
	for k, v := range upd {
		if string(v) == "null" {
			delete(cur, k)
			continue
		}
		cur[k] = v
	}

	merged, err := json.Marshal(cur)
	if err != nil {
		return nil, fmt.Errorf("marshal merged metadata: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE nodes SET metadata = ? WHERE id = ?;`, string(merged), nodeID); err != nil {
		return nil, fmt.Errorf("update node metadata: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return json.RawMessage(merged), nil
}

// AppendNodeLog adds an entry to a node's history. ID and CreatedAt are filled
// in when empty.
func (s *Store) AppendNodeLog(ctx context.Context, nodeID int64, entry hook.LogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}
	entry.NodeID = nodeID

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal node log entry: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO node_log(id, node_id, entry, created_at)
VALUES(?, ?, ?, ?);
`, entry.ID, nodeID, string(raw), storage.FormatTime(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert node log: %w", err)
	}
	return nil
}

// NodeLog returns up to limit entries for a node, oldest first. limit <= 0
// returns everything.
func (s *Store) NodeLog(ctx context.Context, nodeID int64, limit int) ([]hook.LogEntry, error) {
	q := `SELECT entry FROM node_log WHERE node_id = ? ORDER BY created_at ASC, rowid ASC`
	args := []any{nodeID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q+";", args...)
	if err != nil {
		return nil, fmt.Errorf("read node log: %w", err)
	}
	defer rows.Close()

	var out []hook.LogEntry
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan node log: %w", err)
		}
		var e hook.LogEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("decode node log entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func decodeObject(b json.RawMessage) (map[string]json.RawMessage, error) {
	if len(b) == 0 {
		return map[string]json.RawMessage{}, nil
	}
	if !json.Valid(b) {
		return nil, fmt.Errorf("invalid JSON")
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("not a JSON object: %w", err)
	}
	if m == nil {
		return nil, fmt.Errorf("not a JSON object: null")
	}
	return m, nil
}

// withClock swaps the timestamp source; tests use it for deterministic rows.
func (s *Store) withClock(now func() time.Time) *Store {
	s.now = now
	return s
}
