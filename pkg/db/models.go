package db

import (
	"encoding/json"
	"time"
)

// InitStateEntry is one row of init_state: a JSON value under (namespace, key).
type InitStateEntry struct {
	Namespace string          `json:"namespace"`
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	Modified  time.Time       `json:"modified"`
}
