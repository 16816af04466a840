package hook

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownEvent is returned for event names outside the known set.
var ErrUnknownEvent = errors.New("unknown event")

// Event is a node lifecycle event. The string value doubles as the script file
// name inside a hook directory.
type Event string

const (
	// NodeRegistered fires the first time facts arrive for a node.
	NodeRegistered Event = "node_registered"
	// NodeBound fires when a node is bound to a policy.
	NodeBound Event = "node_bound"
	// NodeReinstall fires when a node is marked for reinstall.
	NodeReinstall Event = "node_reinstall"
	// NodeDeleted fires when a node is deleted, before its record goes away.
	NodeDeleted Event = "node_deleted"
)

var knownEvents = []Event{NodeRegistered, NodeBound, NodeReinstall, NodeDeleted}

// Events returns every known event in declaration order.
func Events() []Event {
	out := make([]Event, len(knownEvents))
	copy(out, knownEvents)
	return out
}

// Valid reports whether e is a known event.
func (e Event) Valid() bool {
	for _, k := range knownEvents {
		if e == k {
			return true
		}
	}
	return false
}

func (e Event) String() string { return string(e) }

// ParseEvent accepts both node_bound and node-bound spellings.
func ParseEvent(s string) (Event, error) {
	e := Event(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	if !e.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownEvent, s)
	}
	return e, nil
}
