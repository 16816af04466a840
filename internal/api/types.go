package api

import (
	"encoding/json"
	"time"

	"github.com/mattjoyce/hookd/internal/dispatch"
	"github.com/mattjoyce/hookd/internal/hook"
)

// FireEventRequest is the JSON body for POST /events/{event}
type FireEventRequest struct {
	Node int64          `json:"node,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// FireEventResponse is returned by POST /events/{event}. Results is only
// set when the caller waited.
type FireEventResponse struct {
	Event   hook.Event       `json:"event"`
	Node    int64            `json:"node,omitempty"`
	Status  string           `json:"status"`
	Results dispatch.Results `json:"results,omitempty"`
}

// CreateHookRequest is the JSON body for POST /hooks
type CreateHookRequest struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// HookResponse describes one hook and its lock.
type HookResponse struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	Type         string          `json:"type"`
	State        json.RawMessage `json:"state"`
	Locked       bool            `json:"locked"`
	LockTime     *time.Time      `json:"lock_time,omitempty"`
	LockingNode  *int64          `json:"locking_node,omitempty"`
	LockingEvent hook.Event      `json:"locking_event,omitempty"`
}

func newHookResponse(h *hook.Hook) HookResponse {
	state := h.State
	if len(state) == 0 {
		state = json.RawMessage(`{}`)
	}
	return HookResponse{
		ID:           h.ID,
		Name:         h.Name,
		Type:         h.Type,
		State:        state,
		Locked:       h.Lock.Locked(),
		LockTime:     h.Lock.Time,
		LockingNode:  h.Lock.Node,
		LockingEvent: h.Lock.Event,
	}
}

// NodeLogResponse is returned by GET /nodes/{id}/log
type NodeLogResponse struct {
	Node    int64           `json:"node"`
	Name    string          `json:"name"`
	Entries []hook.LogEntry `json:"entries"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Hooks         int    `json:"hooks"`
	LockedHooks   int    `json:"locked_hooks"`
}
