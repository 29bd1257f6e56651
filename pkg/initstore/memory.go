package initstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/morezero/embedrpc/pkg/commsutil"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]json.RawMessage
}

// NewMemoryStore creates a MemoryStore seeded with values.
func NewMemoryStore(values map[string]interface{}) (*MemoryStore, error) {
	s := &MemoryStore{values: make(map[string]json.RawMessage, len(values))}
	for k, v := range values {
		if err := s.Put(context.Background(), k, v); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return v, nil
}

func (s *MemoryStore) Put(_ context.Context, key string, value interface{}) error {
	raw, err := encodeValue(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.values[key] = raw
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Snapshot(_ context.Context) (map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]interface{}, len(s.values))
	for k, raw := range s.values {
		var v interface{}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("initstore:memory - decode %s: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

// encodeValue stores nil as JSON null so the key survives in snapshots.
func encodeValue(value interface{}) (json.RawMessage, error) {
	raw, err := commsutil.RawPayload(value)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return json.RawMessage("null"), nil
	}
	return raw, nil
}
