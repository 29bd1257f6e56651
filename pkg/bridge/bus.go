package bridge

import "sync"

// Subscription is an active bus listener.
type Subscription interface {
	Unsubscribe() error
}

// Bus is the broadcast transport between the host and embedded contexts.
// Delivery is asynchronous and carries no ordering guarantee across messages.
type Bus interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, fn func(data []byte)) (Subscription, error)
}

// MemoryBus is an in-process Bus. Every delivery runs on its own goroutine so
// listeners observe the same reordering a network bus can produce.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]func([]byte)
	nextID uint64
	closed bool
	wg     sync.WaitGroup
}

// NewMemoryBus creates an empty MemoryBus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[uint64]func([]byte))}
}

// Publish delivers a copy of data to every current listener of subject.
func (b *MemoryBus) Publish(subject string, data []byte) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	handlers := make([]func([]byte), 0, len(b.subs[subject]))
	for _, fn := range b.subs[subject] {
		handlers = append(handlers, fn)
	}
	b.wg.Add(len(handlers))
	b.mu.RUnlock()

	for _, fn := range handlers {
		msg := make([]byte, len(data))
		copy(msg, data)
		go func(fn func([]byte)) {
			defer b.wg.Done()
			fn(msg)
		}(fn)
	}
	return nil
}

// Subscribe registers fn for subject.
func (b *MemoryBus) Subscribe(subject string, fn func(data []byte)) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	b.nextID++
	id := b.nextID
	if b.subs[subject] == nil {
		b.subs[subject] = make(map[uint64]func([]byte))
	}
	b.subs[subject][id] = fn
	return &memorySubscription{bus: b, subject: subject, id: id}, nil
}

// Listeners returns the number of listeners registered for subject.
func (b *MemoryBus) Listeners(subject string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[subject])
}

// Close stops accepting publishes and waits for in-flight deliveries.
func (b *MemoryBus) Close() {
	b.mu.Lock()
	b.closed = true
	b.subs = make(map[string]map[uint64]func([]byte))
	b.mu.Unlock()
	b.wg.Wait()
}

type memorySubscription struct {
	bus     *MemoryBus
	subject string
	id      uint64
}

func (s *memorySubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subs[s.subject], s.id)
	if len(s.bus.subs[s.subject]) == 0 {
		delete(s.bus.subs, s.subject)
	}
	return nil
}
