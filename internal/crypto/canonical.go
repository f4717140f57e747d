package crypto

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// CanonicalJSON encodes obj with sorted keys, no insignificant whitespace
// and no HTML escaping. Top-level "signatures" and "unsigned" are dropped so
// the result is the signable form of the object.
func CanonicalJSON(obj any) ([]byte, error) {
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	if m, ok := generic.(map[string]any); ok {
		delete(m, "signatures")
		delete(m, "unsigned")
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
