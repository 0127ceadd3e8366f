package kvstore

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/livestate/internal/canonical"
)

// Encode renders a value as canonical JSON for storage.
func Encode(v any) ([]byte, error) {
	b, err := canonical.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return b, nil
}

// Decode parses a stored value.
func Decode(b []byte) (any, error) {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return v, nil
}
