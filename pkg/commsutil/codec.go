package commsutil

import (
	"encoding/json"
	"fmt"
)

// EncodePayload serializes a value to JSON bytes.
func EncodePayload(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// DecodePayload deserializes JSON bytes into the given target.
func DecodePayload(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// RawPayload encodes v as a json.RawMessage. A nil value (no arguments) encodes
// as an absent payload rather than JSON null.
func RawPayload(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("commsutil:codec - failed to encode payload: %w", err)
	}
	return data, nil
}
