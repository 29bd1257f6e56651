// Package initstore keeps the values a host sends to embedded contexts as
// their one-time init payload.
package initstore

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("initstore: key not found")

// Store is a flat key/value set of JSON values.
type Store interface {
	Get(ctx context.Context, key string) (json.RawMessage, error)
	Put(ctx context.Context, key string, value interface{}) error
	Delete(ctx context.Context, key string) error
	Snapshot(ctx context.Context) (map[string]interface{}, error)
}
