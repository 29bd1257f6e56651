package initstore

import (
	"context"
	"fmt"

	"github.com/morezero/embedrpc/pkg/bridge"
)

// Initializer returns a bridge.Initializer that sends the store's snapshot
// merged with extra. Keys in extra win.
func Initializer(store Store, extra map[string]interface{}) bridge.Initializer {
	return func(ctx context.Context) (map[string]interface{}, error) {
		payload := make(map[string]interface{})
		if store != nil {
			snap, err := store.Snapshot(ctx)
			if err != nil {
				return nil, fmt.Errorf("initstore:initializer - snapshot: %w", err)
			}
			for k, v := range snap {
				payload[k] = v
			}
		}
		for k, v := range extra {
			payload[k] = v
		}
		return payload, nil
	}
}
