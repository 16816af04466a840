// Package webhook accepts lifecycle events from provisioning systems that
// sign their requests instead of holding an API key.
//
// Each configured endpoint verifies an HMAC-SHA256 signature of the raw body
// (GitHub "sha256=<hex>" or plain hex) with a constant-time comparison, then
// dispatches the event to every hook and waits for the results. Delivery is
// synchronous so that the sender's own redelivery covers contention: a
// delivery in which any hook was locked answers 409 and should be retried.
//
// Body:
//
//	{"event": "node_bound", "node": 42, "data": {"policy": "web"}}
//
// "event" may be omitted when the endpoint pins one in its configuration.
package webhook
