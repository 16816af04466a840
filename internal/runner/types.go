package runner

import (
	"time"

	"github.com/mattjoyce/hookd/internal/hook"
)

// Outcome classifies how a hook handled an event.
type Outcome string

const (
	// OutcomeSkipped: the hook has no script for the event.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeSucceeded: the script exited 0 and its output was persisted.
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomeFailed: the script exited 1, a handled failure.
	OutcomeFailed Outcome = "failed"
	// OutcomeError: the script could not run, printed garbage, exited with
	// another code, or its results could not be persisted.
	OutcomeError Outcome = "error"
	// OutcomeRetry: the hook was locked; the event must be delivered again.
	OutcomeRetry Outcome = "retry"
)

// Args is the event-specific argument bundle.
type Args struct {
	// NodeID is the node the event is about; 0 means none.
	NodeID int64 `json:"node,omitempty"`
	// Data is passed to the script at the top level of its input. Values
	// implementing hook.IdentityPayloader are reduced to their identity.
	Data map[string]any `json:"data,omitempty"`
}

// Result describes one hook's handling of one event.
type Result struct {
	RunID    string        `json:"run_id,omitempty"`
	Hook     string        `json:"hook"`
	Event    hook.Event    `json:"event"`
	Outcome  Outcome       `json:"outcome"`
	Script   string        `json:"script,omitempty"`
	ExitCode *int          `json:"exit_code,omitempty"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration_ns,omitempty"`
}
