package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// MaxOutputBytes bounds what a script may print on stdout. It leaves room for
// a full-size hook state plus node metadata.
const MaxOutputBytes = 4 << 20

// EncodeInput serializes in and writes it to w.
func EncodeInput(w io.Writer, in *Input) error {
	encoder := json.NewEncoder(w)
	if err := encoder.Encode(in); err != nil {
		return fmt.Errorf("failed to encode input: %w", err)
	}
	return nil
}

// DecodeOutput parses a script's stdout. Output consisting only of whitespace
// decodes to an empty Output; anything else must be a single JSON object.
func DecodeOutput(data []byte) (*Output, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return &Output{}, nil
	}
	if trimmed[0] != '{' {
		return nil, fmt.Errorf("script output is not a JSON object")
	}

	var out Output
	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	if err := decoder.Decode(&out); err != nil {
		return nil, fmt.Errorf("script output is not valid JSON: %w", err)
	}
	if decoder.More() {
		return nil, fmt.Errorf("script output has trailing data after the JSON object")
	}
	if out.Hook != nil && out.HasState() && !isObject(out.Hook.State) {
		return nil, fmt.Errorf("hook.state must be a JSON object")
	}
	if out.Node != nil && out.HasMetadata() && !isObject(out.Node.Metadata) {
		return nil, fmt.Errorf("node.metadata must be a JSON object")
	}
	return &out, nil
}

func isObject(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && t[0] == '{'
}
