package webhook

import (
	"context"

	"github.com/mattjoyce/hookd/internal/dispatch"
	"github.com/mattjoyce/hookd/internal/hook"
	"github.com/mattjoyce/hookd/internal/runner"
)

// EventDispatcher delivers an event to every hook.
type EventDispatcher interface {
	Dispatch(ctx context.Context, event hook.Event, args runner.Args) (dispatch.Results, error)
}

// Config holds webhook server configuration.
type Config struct {
	Listen    string
	Endpoints []EndpointConfig
}

// EndpointConfig defines a single webhook endpoint.
type EndpointConfig struct {
	// Path is the URL path, e.g. "/webhook/provisioner".
	Path string

	// Event, when set, is used for every delivery and the body's event
	// field is ignored.
	Event hook.Event

	// Secret is the HMAC secret for signature verification.
	Secret string

	// SignatureHeader carries the signature (default X-Hub-Signature-256).
	SignatureHeader string

	// MaxBodySize is the largest accepted body in bytes.
	MaxBodySize int64
}

// Delivery is the signed request body.
type Delivery struct {
	Event string         `json:"event,omitempty"`
	Node  int64          `json:"node,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

// DeliveryResponse reports how every hook handled the delivery.
type DeliveryResponse struct {
	DeliveryID string          `json:"delivery_id"`
	Event      hook.Event      `json:"event"`
	Node       int64           `json:"node,omitempty"`
	Status     string          `json:"status"`
	Results    []runner.Result `json:"results"`
}

// ErrorResponse is the JSON response for webhook errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Default values
const (
	DefaultMaxBodySize     = 1 << 20
	DefaultSignatureHeader = "X-Hub-Signature-256"
)
