package hook

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"
)

// Hook is a named reactive unit. Its scripts live on disk under
// <hook_path>/<Name>.hook/<event>.
type Hook struct {
	ID    int64
	Name  string
	Type  string
	State json.RawMessage
	Lock  LockState
}

// LockState is the lock field triple of a hook record. The zero value means
// unlocked.
type LockState struct {
	Time  *time.Time
	Node  *int64
	Event Event
}

// Locked reports whether the lock is held by anyone.
func (l LockState) Locked() bool {
	return l.Time != nil
}

// HeldFor returns how long the lock has been held at now, or 0 when unlocked.
func (l LockState) HeldFor(now time.Time) time.Duration {
	if l.Time == nil {
		return 0
	}
	return now.Sub(*l.Time)
}

// StateObject returns the stored state blob untouched, or {} when none is
// stored. The blob must be a JSON object.
func (h *Hook) StateObject() (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(h.State)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return json.RawMessage(`{}`), nil
	}
	if trimmed[0] != '{' || !json.Valid(trimmed) {
		return nil, errors.New("hook state is not a JSON object")
	}
	return json.RawMessage(trimmed), nil
}

// Node is the provisioning node a lifecycle event is about.
type Node struct {
	ID        int64
	Name      string
	Metadata  map[string]any
	CreatedAt time.Time
}

// IdentityPayloader is implemented by domain records that must be reduced to a
// primitive identity before being handed to a hook script.
type IdentityPayloader interface {
	IdentityPayload() map[string]any
}

// IdentityPayload returns the node's primitive identity, not the full record.
func (n *Node) IdentityPayload() map[string]any {
	return map[string]any{
		"id":   n.ID,
		"name": n.Name,
	}
}
