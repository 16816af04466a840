package hook

import "time"

// Severity of a node log entry.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// LogEntry is one line of a node's history as written by hook runs.
type LogEntry struct {
	ID        string    `json:"id"`
	NodeID    int64     `json:"node_id"`
	Event     Event     `json:"event"`
	Hook      string    `json:"hook"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"msg"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
