package protocol

import (
	"encoding/json"
	"strings"
)

// Exit codes a hook script may return.
const (
	ExitSuccess = 0
	ExitFailure = 1
)

// HookInfo is the "hook" object of the input payload.
type HookInfo struct {
	Name string `json:"name"`
	// State is the stored blob, passed through byte for byte.
	State json.RawMessage `json:"state"`
}

// Input is the JSON document written to a script's stdin. Args carries the
// event-specific arguments and is flattened into the top level; the reserved
// keys "hook" and "node" always come from Hook and Node.
type Input struct {
	Hook HookInfo
	Node map[string]any
	Args map[string]any
}

// MarshalJSON flattens Args next to the reserved keys.
func (in Input) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(in.Args)+2)
	for k, v := range in.Args {
		doc[k] = v
	}
	state := in.Hook.State
	if len(state) == 0 {
		state = json.RawMessage(`{}`)
	}
	doc["hook"] = HookInfo{Name: in.Hook.Name, State: state}
	if in.Node != nil {
		doc["node"] = in.Node
	} else {
		delete(doc, "node")
	}
	return json.Marshal(doc)
}

// Output is the JSON document a script writes to stdout.
type Output struct {
	Hook  *HookOutput     `json:"hook,omitempty"`
	Node  *NodeOutput     `json:"node,omitempty"`
	Error json.RawMessage `json:"error,omitempty"`
}

// HookOutput carries the replacement hook state.
type HookOutput struct {
	State json.RawMessage `json:"state,omitempty"`
}

// NodeOutput carries metadata updates for the node the event is about.
type NodeOutput struct {
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// HasState reports whether the script returned a hook state.
func (o *Output) HasState() bool {
	return o != nil && o.Hook != nil && len(o.Hook.State) > 0 && string(o.Hook.State) != "null"
}

// HasMetadata reports whether the script returned node metadata updates.
func (o *Output) HasMetadata() bool {
	return o != nil && o.Node != nil && len(o.Node.Metadata) > 0 && string(o.Node.Metadata) != "null"
}

// ErrorMessage renders the error field. Strings are returned as is, any other
// JSON value as its compact encoding, and a missing field as "".
func (o *Output) ErrorMessage() string {
	if o == nil || len(o.Error) == 0 || string(o.Error) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(o.Error, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(o.Error))
}
