// Package runner executes one hook script for one event under the hook lock.
//
// A run:
//   - takes the hook lock, or returns OutcomeRetry without side effects
//   - loads the event's node fresh and reduces it to its identity payload
//   - writes {"hook":{"name","state"}, "node":{..}, ...args} to the script's stdin
//   - reads one JSON object from stdout and decides by exit code:
//     0 replaces the hook state and merges node metadata,
//     1 appends the script's error to the node log,
//     anything else is logged as a warning and the error (if any) is logged to the node
//   - releases the lock on every path, including panics and persistence errors
//
// Scripts are never killed. A hung script keeps its worker busy until it
// exits; its lock is recovered by stale reclamation in package lock.
package runner
