// Package frame implements the embedded side of a bridge channel: readiness
// signalling, init payload handling and procedure dispatch, plus launchers that
// create frames on behalf of a host.
package frame

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/morezero/embedrpc/pkg/bridge"
	"github.com/morezero/embedrpc/pkg/commsutil"
	"github.com/morezero/embedrpc/pkg/link"
	"github.com/morezero/embedrpc/pkg/protocol"
)

const logPrefix = "frame:frame"

// Config describes one embedded context.
type Config struct {
	ContextID  string
	Address    string
	Dispatcher *Dispatcher
	// OnInit is called with the init payload when it arrives.
	OnInit func(vars map[string]interface{})
}

// Frame answers calls from a host channel on a bus.
type Frame struct {
	bus        bridge.Bus
	contextID  string
	address    string
	origin     string
	dispatcher *Dispatcher
	onInit     func(vars map[string]interface{})
	inSubject  string
	outSubject string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sub      bridge.Subscription
	initVars map[string]interface{}
	hasInit  bool
}

// New creates a Frame. It does nothing until Start.
func New(bus bridge.Bus, cfg Config) (*Frame, error) {
	if bus == nil {
		return nil, fmt.Errorf("%s - bus is required", logPrefix)
	}
	if cfg.ContextID == "" {
		return nil, fmt.Errorf("%s - context id is required", logPrefix)
	}
	d := cfg.Dispatcher
	if d == nil {
		d = NewDispatcher()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Frame{
		bus:        bus,
		contextID:  cfg.ContextID,
		address:    cfg.Address,
		origin:     link.Origin(cfg.Address),
		dispatcher: d,
		onInit:     cfg.OnInit,
		inSubject:  commsutil.BuildFrameSubject(cfg.ContextID),
		outSubject: commsutil.BuildHostSubject(cfg.ContextID),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// ContextID returns the frame's context id.
func (f *Frame) ContextID() string {
	return f.contextID
}

// Address returns the link the frame was launched from.
func (f *Frame) Address() string {
	return f.address
}

// Start subscribes to host messages and announces readiness.
func (f *Frame) Start() error {
	f.mu.Lock()
	if f.sub != nil {
		f.mu.Unlock()
		return fmt.Errorf("%s - frame %s already started", logPrefix, f.contextID)
	}
	sub, err := f.bus.Subscribe(f.inSubject, f.handle)
	if err != nil {
		f.mu.Unlock()
		return fmt.Errorf("%s - failed to subscribe %s: %w", logPrefix, f.inSubject, err)
	}
	f.sub = sub
	f.mu.Unlock()

	slog.Debug(fmt.Sprintf("%s - Frame %s listening on %s", logPrefix, f.contextID, f.inSubject))
	return f.Announce()
}

// Announce emits the readiness signal. Hosts ignore repeats.
func (f *Frame) Announce() error {
	return f.send(&bridge.Message{
		Type:      bridge.TypeReady,
		ContextID: f.contextID,
		Version:   protocol.Version,
	})
}

// InitVars returns the init payload and whether it has arrived.
func (f *Frame) InitVars() (map[string]interface{}, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initVars, f.hasInit
}

// Stop unsubscribes and waits for in-flight calls. In-flight handlers see a
// cancelled context.
func (f *Frame) Stop() error {
	f.mu.Lock()
	sub := f.sub
	f.sub = nil
	f.mu.Unlock()

	f.cancel()
	var err error
	if sub != nil {
		err = sub.Unsubscribe()
	}
	f.wg.Wait()
	return err
}

func (f *Frame) handle(data []byte) {
	var msg bridge.Message
	if err := commsutil.DecodePayload(data, &msg); err != nil {
		slog.Debug(fmt.Sprintf("%s - Dropped undecodable message on %s: %v", logPrefix, f.contextID, err))
		return
	}
	if msg.ContextID != f.contextID {
		return
	}

	switch msg.Type {
	case bridge.TypeInit:
		f.handleInit(&msg)
	case bridge.TypeCall:
		f.mu.Lock()
		if f.sub == nil {
			f.mu.Unlock()
			return
		}
		f.wg.Add(1)
		f.mu.Unlock()
		go func() {
			defer f.wg.Done()
			f.serve(&msg)
		}()
	default:
		slog.Debug(fmt.Sprintf("%s - Ignored %q message on %s", logPrefix, msg.Type, f.contextID))
	}
}

func (f *Frame) handleInit(msg *bridge.Message) {
	vars := msg.Payload
	if vars == nil {
		vars = map[string]interface{}{}
	}
	f.mu.Lock()
	if f.hasInit {
		f.mu.Unlock()
		slog.Warn(fmt.Sprintf("%s - Duplicate init payload on %s ignored", logPrefix, f.contextID))
		return
	}
	f.initVars = vars
	f.hasInit = true
	f.mu.Unlock()

	slog.Info(fmt.Sprintf("%s - Frame %s initialized with %d vars", logPrefix, f.contextID, len(vars)))
	if f.onInit != nil {
		f.onInit(vars)
	}
}

func (f *Frame) serve(msg *bridge.Message) {
	ctx := f.ctx
	if vars, ok := f.InitVars(); ok {
		ctx = WithInitVars(ctx, vars)
	}
	resp := f.dispatcher.Dispatch(ctx, msg)
	if err := f.send(resp); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to send result for %s: %v", logPrefix, msg.CorrelationID, err))
	}
}

func (f *Frame) send(msg *bridge.Message) error {
	msg.Origin = f.origin
	data, err := commsutil.EncodePayload(msg)
	if err != nil {
		return fmt.Errorf("%s - failed to encode %s message: %w", logPrefix, msg.Type, err)
	}
	if err := f.bus.Publish(f.outSubject, data); err != nil {
		return fmt.Errorf("%s - failed to publish %s message: %w", logPrefix, msg.Type, err)
	}
	return nil
}
