package frame

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/morezero/embedrpc/pkg/bridge"
)

const launcherLogPrefix = "frame:launcher"

var (
	// ErrAlreadyLaunched is returned when a frame already exists for the context id.
	ErrAlreadyLaunched = errors.New("frame: context already launched")
	// ErrNotLaunched is returned when removing an unknown context id.
	ErrNotLaunched = errors.New("frame: context not launched")
)

// DispatcherFactory builds the procedure table for a newly launched frame.
type DispatcherFactory func(req bridge.EmbedRequest) *Dispatcher

// Launcher is an in-process bridge.Embedder. Each Embed starts a Frame on the bus.
type Launcher struct {
	bus     bridge.Bus
	factory DispatcherFactory

	mu     sync.Mutex
	frames map[string]*Frame
}

// NewLauncher creates a Launcher. A nil factory gives every frame the builtins only.
func NewLauncher(bus bridge.Bus, factory DispatcherFactory) *Launcher {
	if factory == nil {
		factory = func(bridge.EmbedRequest) *Dispatcher {
			d := NewDispatcher()
			RegisterBuiltins(d)
			return d
		}
	}
	return &Launcher{bus: bus, factory: factory, frames: make(map[string]*Frame)}
}

// Embed starts a frame for req.
func (l *Launcher) Embed(_ context.Context, req bridge.EmbedRequest) (bridge.Surface, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.frames[req.ContextID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyLaunched, req.ContextID)
	}

	f, err := New(l.bus, Config{
		ContextID:  req.ContextID,
		Address:    req.Address,
		Dispatcher: l.factory(req),
	})
	if err != nil {
		return nil, err
	}
	if err := f.Start(); err != nil {
		_ = f.Stop()
		return nil, err
	}
	l.frames[req.ContextID] = f

	mount := req.Mount
	if req.Headless() {
		mount = "headless"
	}
	slog.Info(fmt.Sprintf("%s - Launched frame %s (%s) for %s", launcherLogPrefix, req.ContextID, mount, req.Address))
	return &surface{launcher: l, contextID: req.ContextID}, nil
}

// Remove stops and forgets the frame for contextID.
func (l *Launcher) Remove(contextID string) error {
	l.mu.Lock()
	f, ok := l.frames[contextID]
	delete(l.frames, contextID)
	l.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotLaunched, contextID)
	}
	slog.Info(fmt.Sprintf("%s - Removing frame %s", launcherLogPrefix, contextID))
	return f.Stop()
}

// Frame returns the running frame for contextID.
func (l *Launcher) Frame(contextID string) (*Frame, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, ok := l.frames[contextID]
	return f, ok
}

// Active lists running context ids, sorted.
func (l *Launcher) Active() []string {
	l.mu.Lock()
	ids := make([]string, 0, len(l.frames))
	for id := range l.frames {
		ids = append(ids, id)
	}
	l.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// StopAll stops every running frame.
func (l *Launcher) StopAll() {
	for _, id := range l.Active() {
		if err := l.Remove(id); err != nil && !errors.Is(err, ErrNotLaunched) {
			slog.Warn(fmt.Sprintf("%s - failed to stop frame %s: %v", launcherLogPrefix, id, err))
		}
	}
}

type surface struct {
	launcher  *Launcher
	contextID string
	once      sync.Once
	err       error
}

func (s *surface) Remove() error {
	s.once.Do(func() {
		s.err = s.launcher.Remove(s.contextID)
	})
	return s.err
}
