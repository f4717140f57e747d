package store

import (
	"encoding/json"
	"strings"
)

// keySep joins composite key parts. It cannot occur in Matrix identifiers.
const keySep = "\x1f"

func compositeKey(parts ...string) string { return strings.Join(parts, keySep) }

// getJSON decodes the value at (bucket, key) into out; a missing key is not an error.
func getJSON(t Tx, bucket, key string, out any) (bool, error) {
	b, ok := t.Get(bucket, key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return false, err
	}
	return true, nil
}

func putJSON(t Tx, bucket, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return t.Put(bucket, key, b)
}

// listJSON decodes every value under prefix.
func listJSON[T any](t Tx, bucket, prefix string) ([]*T, error) {
	var out []*T
	err := t.ForEach(bucket, prefix, func(_ string, v []byte) error {
		item := new(T)
		if err := json.Unmarshal(v, item); err != nil {
			return err
		}
		out = append(out, item)
		return nil
	})
	return out, err
}
