// Package bridge implements the host side of a cross-context RPC channel:
// handshake with an embedded context, one-time init payload, and multiplexed
// correlated calls over a broadcast bus.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/morezero/embedrpc/pkg/commsutil"
	"github.com/morezero/embedrpc/pkg/events"
	"github.com/morezero/embedrpc/pkg/link"
	"github.com/morezero/embedrpc/pkg/protocol"
)

const logPrefix = "bridge:channel"

type callResult struct {
	raw json.RawMessage
	err error
}

type pendingCall struct {
	procedure string
	started   time.Time
	timer     *time.Timer
	done      chan callResult
}

// Channel is the host end of one embedded context.
type Channel struct {
	cfg         Config
	bus         Bus
	opts        options
	origin      string
	instance    string
	seq         atomic.Uint64
	hostSubject string
	outSubject  string

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	wireOpen  bool
	queue     []*Message
	pending   map[string]*pendingCall
	sub       Subscription
	surface   Surface
	closeErr  error
	readyCh   chan struct{}
	handshake sync.Once
}

// Open creates a channel, subscribes to the host-bound subject and asks the
// embedder (if any) to load the embedded context. The channel is returned in
// the Loading state; calls made before the handshake completes are queued.
func Open(ctx context.Context, bus Bus, cfg Config, opts ...Option) (*Channel, error) {
	if bus == nil {
		return nil, fmt.Errorf("%s - bus is required", logPrefix)
	}
	if cfg.ContextID == "" {
		return nil, fmt.Errorf("%s - context id is required", logPrefix)
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("%s - address is required", logPrefix)
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.ProtocolRange == "" {
		cfg.ProtocolRange = protocol.DefaultRange
	}
	if err := protocol.ValidateRange(cfg.ProtocolRange); err != nil {
		return nil, fmt.Errorf("%s - %w", logPrefix, err)
	}

	o := options{
		logger:    slog.Default(),
		publisher: &events.NoOpPublisher{},
		registry:  DefaultRegistry,
	}
	for _, opt := range opts {
		opt(&o)
	}

	chCtx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		cfg:         cfg,
		bus:         bus,
		opts:        o,
		origin:      link.Origin(cfg.Address),
		instance:    uuid.NewString(),
		hostSubject: commsutil.BuildHostSubject(cfg.ContextID),
		outSubject:  commsutil.BuildFrameSubject(cfg.ContextID),
		ctx:         chCtx,
		cancel:      cancel,
		state:       StateUnattached,
		pending:     make(map[string]*pendingCall),
		readyCh:     make(chan struct{}),
	}

	if err := o.registry.claim(cfg.ContextID, c); err != nil {
		cancel()
		return nil, err
	}

	// Loading is entered before subscribing so a ready signal delivered during
	// Subscribe finds the channel already waiting for it.
	c.mu.Lock()
	c.state = StateLoading
	c.mu.Unlock()
	c.emitTransition(StateUnattached, StateLoading, "")

	sub, err := bus.Subscribe(c.hostSubject, c.handleInbound)
	if err != nil {
		subErr := fmt.Errorf("%s - failed to subscribe %s: %w", logPrefix, c.hostSubject, err)
		c.shutdown(subErr)
		return nil, subErr
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		_ = sub.Unsubscribe()
		return nil, c.closedError()
	}
	c.sub = sub
	c.mu.Unlock()

	if o.embedder != nil {
		surface, err := o.embedder.Embed(ctx, EmbedRequest{
			ContextID: cfg.ContextID,
			Address:   cfg.Address,
			Mount:     cfg.Mount,
			Style:     cfg.Style,
		})
		if err != nil {
			embedErr := fmt.Errorf("%s - failed to embed %s: %w", logPrefix, cfg.ContextID, err)
			c.shutdown(embedErr)
			return nil, embedErr
		}

		c.mu.Lock()
		if c.state == StateClosed {
			c.mu.Unlock()
			if rmErr := surface.Remove(); rmErr != nil {
				o.logger.Warn(fmt.Sprintf("%s - failed to remove surface for %s: %v", logPrefix, cfg.ContextID, rmErr))
			}
			return nil, c.closedError()
		}
		c.surface = surface
		c.mu.Unlock()
	}

	o.logger.Info(fmt.Sprintf("%s - Opened channel %s for %s", logPrefix, cfg.ContextID, cfg.Address))
	return c, nil
}

// ContextID returns the channel's context id.
func (c *Channel) ContextID() string {
	return c.cfg.ContextID
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Ready is closed once the handshake has completed and queued calls are flushed.
func (c *Channel) Ready() <-chan struct{} {
	return c.readyCh
}

// Done is closed when the channel closes.
func (c *Channel) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Err returns the cause that closed the channel, or nil.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// Pending returns the number of calls awaiting a result.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Call invokes procedure in the embedded context and waits for its result.
// Before the handshake completes the call is queued and sent in issue order
// once the init message is out.
func (c *Channel) Call(ctx context.Context, procedure string, params interface{}, opts ...CallOption) (json.RawMessage, error) {
	if procedure == "" {
		return nil, ErrEmptyProcedure
	}
	raw, err := commsutil.RawPayload(params)
	if err != nil {
		return nil, fmt.Errorf("%s - %w", logPrefix, err)
	}

	co := callOptions{timeout: c.cfg.CallTimeout}
	for _, opt := range opts {
		opt(&co)
	}

	id := c.nextCorrelationID()
	msg := &Message{
		Type:          TypeCall,
		ContextID:     c.cfg.ContextID,
		CorrelationID: id,
		ProcedureName: procedure,
		Params:        raw,
	}
	p := &pendingCall{
		procedure: procedure,
		started:   time.Now(),
		done:      make(chan callResult, 1),
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil, c.closedError()
	}
	c.pending[id] = p
	timeout := co.timeout
	p.timer = time.AfterFunc(timeout, func() {
		c.settle(id, callResult{err: fmt.Errorf("%w: %s after %s", ErrTimeout, procedure, timeout)}, outcomeTimeout)
	})
	if c.wireOpen {
		if err := c.send(msg); err != nil {
			delete(c.pending, id)
			p.timer.Stop()
			c.mu.Unlock()
			c.opts.metrics.observeCall(procedure, outcomeSendError, time.Since(p.started))
			return nil, err
		}
	} else {
		c.queue = append(c.queue, msg)
	}
	n := len(c.pending)
	c.mu.Unlock()
	c.opts.metrics.setPending(c.cfg.ContextID, n)

	select {
	case res := <-p.done:
		return res.raw, res.err
	case <-ctx.Done():
		c.settle(id, callResult{err: ctx.Err()}, outcomeCanceled)
		res := <-p.done
		return res.raw, res.err
	}
}

// Close tears the channel down: it unsubscribes, removes the embedded surface,
// rejects every pending call with ErrChannelClosed and releases the context id.
// Calling Close more than once is a no-op.
func (c *Channel) Close() error {
	return c.shutdown(nil)
}

func (c *Channel) shutdown(cause error) error {
	c.mu.Lock()
	t, ok := c.closeLocked(cause)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return c.teardown(t)
}

// closing holds what closeLocked detached from the channel.
type closing struct {
	from    State
	cause   error
	pending map[string]*pendingCall
	dropped int
	sub     Subscription
	surface Surface
}

// closeLocked moves the channel to Closed and detaches its resources. Callers
// hold c.mu. It reports false when the channel was already closed.
func (c *Channel) closeLocked(cause error) (closing, bool) {
	if c.state == StateClosed {
		return closing{}, false
	}
	t := closing{
		from:    c.state,
		cause:   cause,
		pending: c.pending,
		dropped: len(c.queue),
		sub:     c.sub,
		surface: c.surface,
	}
	c.state = StateClosed
	c.closeErr = cause
	c.pending = make(map[string]*pendingCall)
	c.queue = nil
	c.wireOpen = false
	c.sub, c.surface = nil, nil
	return t, true
}

// teardown releases what closeLocked detached. It runs without c.mu.
func (c *Channel) teardown(t closing) error {
	c.cancel()

	var errs []error
	if t.sub != nil {
		if err := t.sub.Unsubscribe(); err != nil {
			errs = append(errs, fmt.Errorf("%s - unsubscribe %s: %w", logPrefix, c.hostSubject, err))
		}
	}
	if t.surface != nil {
		if err := t.surface.Remove(); err != nil {
			errs = append(errs, fmt.Errorf("%s - remove surface %s: %w", logPrefix, c.cfg.ContextID, err))
		}
	}
	c.opts.registry.release(c.cfg.ContextID, c)

	closedErr := c.closedError()
	for _, p := range t.pending {
		p.timer.Stop()
		p.done <- callResult{err: closedErr}
		c.opts.metrics.observeCall(p.procedure, outcomeClosed, time.Since(p.started))
	}
	c.opts.metrics.setPending(c.cfg.ContextID, 0)

	reason := ""
	if t.cause != nil {
		reason = t.cause.Error()
		c.opts.logger.Warn(fmt.Sprintf("%s - Channel %s closed: %v", logPrefix, c.cfg.ContextID, t.cause))
	} else {
		c.opts.logger.Info(fmt.Sprintf("%s - Channel %s closed (%d pending rejected, %d queued dropped)", logPrefix, c.cfg.ContextID, len(t.pending), t.dropped))
	}
	c.emitTransition(t.from, StateClosed, reason)

	return errors.Join(errs...)
}

func (c *Channel) closedError() error {
	c.mu.Lock()
	cause := c.closeErr
	c.mu.Unlock()
	if cause == nil {
		return ErrChannelClosed
	}
	return fmt.Errorf("%w: %w", ErrChannelClosed, cause)
}

func (c *Channel) nextCorrelationID() string {
	return c.instance + "-" + strconv.FormatUint(c.seq.Add(1), 10)
}

// send publishes msg on the embedded-bound subject. Callers hold c.mu so that
// publish order matches queue order.
func (c *Channel) send(msg *Message) error {
	data, err := commsutil.EncodePayload(msg)
	if err != nil {
		return fmt.Errorf("%s - failed to encode %s message: %w", logPrefix, msg.Type, err)
	}
	if err := c.bus.Publish(c.outSubject, data); err != nil {
		return fmt.Errorf("%s - failed to publish %s message: %w", logPrefix, msg.Type, err)
	}
	return nil
}

// settle resolves a pending call exactly once. It reports false when the
// correlation id is unknown or already settled.
func (c *Channel) settle(id string, res callResult, outcome string) bool {
	c.mu.Lock()
	p, ok := c.pending[id]
	if !ok {
		c.mu.Unlock()
		return false
	}
	delete(c.pending, id)
	n := len(c.pending)
	c.mu.Unlock()

	p.timer.Stop()
	var remote *RemoteError
	if errors.As(res.err, &remote) {
		remote.Procedure = p.procedure
	}
	p.done <- res
	c.opts.metrics.observeCall(p.procedure, outcome, time.Since(p.started))
	c.opts.metrics.setPending(c.cfg.ContextID, n)
	return true
}

func (c *Channel) handleInbound(data []byte) {
	var msg Message
	if err := commsutil.DecodePayload(data, &msg); err != nil {
		c.drop(dropMalformed, fmt.Sprintf("undecodable message: %v", err))
		return
	}
	if msg.ContextID != c.cfg.ContextID {
		c.drop(dropForeignContext, fmt.Sprintf("message for context %q", msg.ContextID))
		return
	}
	if c.origin != "" && msg.Origin != c.origin {
		c.drop(dropOriginMismatch, fmt.Sprintf("origin %q, expected %q", msg.Origin, c.origin))
		return
	}

	switch msg.Type {
	case TypeReady:
		c.handleReady(&msg)
	case TypeResult:
		c.handleResult(&msg)
	default:
		c.drop(dropUnexpectedType, fmt.Sprintf("message type %q", msg.Type))
	}
}

// handleReady accepts the first ready signal seen in Loading. A signal whose
// protocol version is out of range closes the channel before any other ready
// signal can be considered, so no init payload reaches a rejected context.
func (c *Channel) handleReady(msg *Message) {
	ok, err := protocol.Compatible(msg.Version, c.cfg.ProtocolRange)

	c.mu.Lock()
	if c.state != StateLoading {
		state := c.state
		c.mu.Unlock()
		c.drop(dropDuplicateReady, fmt.Sprintf("ready signal in state %s", state))
		return
	}
	if err != nil || !ok {
		t, _ := c.closeLocked(fmt.Errorf("%w: %q not in %q", ErrIncompatibleProtocol, msg.Version, c.cfg.ProtocolRange))
		c.mu.Unlock()
		c.teardown(t)
		return
	}
	c.state = StateReady
	c.mu.Unlock()
	c.emitTransition(StateLoading, StateReady, "")

	c.handshake.Do(func() {
		go c.runHandshake()
	})
}

// runHandshake sends the init message, then flushes queued calls in issue order.
func (c *Channel) runHandshake() {
	payload := map[string]interface{}{}
	if c.cfg.Initializer != nil {
		p, err := c.cfg.Initializer(c.ctx)
		if err != nil {
			c.shutdown(fmt.Errorf("initializer failed: %w", err))
			return
		}
		if p != nil {
			payload = p
		}
	}

	initMsg := &Message{
		Type:          TypeInit,
		ContextID:     c.cfg.ContextID,
		CorrelationID: InitCorrelationID,
		Payload:       payload,
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	if err := c.send(initMsg); err != nil {
		c.mu.Unlock()
		c.shutdown(err)
		return
	}
	queued := c.queue
	c.queue = nil
	var failed []string
	var sendErr error
	for _, msg := range queued {
		if _, live := c.pending[msg.CorrelationID]; !live {
			continue
		}
		if err := c.send(msg); err != nil {
			failed = append(failed, msg.CorrelationID)
			sendErr = err
		}
	}
	c.wireOpen = true
	c.mu.Unlock()

	for _, id := range failed {
		c.settle(id, callResult{err: sendErr}, outcomeSendError)
	}

	c.opts.logger.Info(fmt.Sprintf("%s - Channel %s ready (%d queued calls flushed)", logPrefix, c.cfg.ContextID, len(queued)))
	if c.cfg.OnReady != nil {
		c.cfg.OnReady()
	}
	close(c.readyCh)
}

func (c *Channel) handleResult(msg *Message) {
	if msg.CorrelationID == "" {
		c.drop(dropUnknownCall, "result without correlation id")
		return
	}
	res := callResult{raw: msg.Result}
	outcome := outcomeOK
	if text, failed := msg.Failure(); failed {
		res = callResult{err: &RemoteError{Message: text}}
		outcome = outcomeRemoteError
	}
	if !c.settle(msg.CorrelationID, res, outcome) {
		c.drop(dropUnknownCall, fmt.Sprintf("result for unknown correlation id %s", msg.CorrelationID))
	}
}

func (c *Channel) drop(reason, detail string) {
	c.opts.metrics.incDropped(reason)
	c.opts.logger.Debug(fmt.Sprintf("%s - Dropped inbound message on %s (%s): %s", logPrefix, c.cfg.ContextID, reason, detail))
}

func (c *Channel) emitTransition(from, to State, reason string) {
	if c.opts.stateHook != nil {
		c.opts.stateHook(from, to)
	}
	event := &events.ChannelStateEvent{
		ContextID: c.cfg.ContextID,
		Address:   c.cfg.Address,
		From:      from.String(),
		To:        to.String(),
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := c.opts.publisher.PublishStateChanged(context.Background(), event); err != nil {
		c.opts.logger.Warn(fmt.Sprintf("%s - failed to publish state change for %s: %v", logPrefix, c.cfg.ContextID, err))
	}
}
