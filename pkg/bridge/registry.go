package bridge

import (
	"fmt"
	"sort"
	"sync"
)

// Registry tracks which live channel owns each context id.
type Registry struct {
	mu   sync.Mutex
	live map[string]*Channel
}

// DefaultRegistry is the process-wide registry used when no WithRegistry option is given.
var DefaultRegistry = NewRegistry()

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{live: make(map[string]*Channel)}
}

func (r *Registry) claim(contextID string, ch *Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.live[contextID]; taken {
		return fmt.Errorf("%w: %s", ErrContextInUse, contextID)
	}
	r.live[contextID] = ch
	return nil
}

func (r *Registry) release(contextID string, ch *Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.live[contextID] == ch {
		delete(r.live, contextID)
	}
}

// Lookup returns the live channel for contextID.
func (r *Registry) Lookup(contextID string) (*Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.live[contextID]
	return ch, ok
}

// ContextIDs returns the ids of all live channels, sorted.
func (r *Registry) ContextIDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.live))
	for id := range r.live {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}
