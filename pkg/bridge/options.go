package bridge

import (
	"context"
	"log/slog"
	"time"

	"github.com/morezero/embedrpc/pkg/events"
)

// DefaultCallTimeout bounds a call when neither Config.CallTimeout nor WithTimeout is set.
const DefaultCallTimeout = 30 * time.Second

// Initializer produces the one-time initialization payload. It runs once per
// channel, after the first ready signal and before any queued call is sent.
type Initializer func(ctx context.Context) (map[string]interface{}, error)

// Config describes one channel.
type Config struct {
	// ContextID uniquely identifies the embedded context.
	ContextID string
	// Address is the resolved link the embedded context is loaded from.
	Address string
	// Mount is where the surface attaches. Empty means headless.
	Mount string
	// Style is passed through to the embedder untouched.
	Style map[string]string
	// Initializer is optional; nil sends an empty payload.
	Initializer Initializer
	// OnReady is invoked once the init message is out and queued calls are flushed.
	OnReady func()
	// CallTimeout defaults to DefaultCallTimeout.
	CallTimeout time.Duration
	// ProtocolRange is the accepted embedded protocol version constraint.
	ProtocolRange string
}

type options struct {
	embedder  Embedder
	logger    *slog.Logger
	metrics   *Metrics
	publisher events.EventPublisher
	registry  *Registry
	stateHook func(from, to State)
}

// Option configures Open.
type Option func(*options)

// WithEmbedder sets the embedder that creates the embedded surface. Without one
// the channel assumes the embedded context is started elsewhere.
func WithEmbedder(e Embedder) Option {
	return func(o *options) {
		o.embedder = e
	}
}

// WithLogger injects a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics enables prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithPublisher publishes lifecycle events on every state change.
func WithPublisher(p events.EventPublisher) Option {
	return func(o *options) {
		if p != nil {
			o.publisher = p
		}
	}
}

// WithRegistry overrides DefaultRegistry.
func WithRegistry(r *Registry) Option {
	return func(o *options) {
		if r != nil {
			o.registry = r
		}
	}
}

// WithStateHook observes state transitions.
func WithStateHook(fn func(from, to State)) Option {
	return func(o *options) {
		o.stateHook = fn
	}
}

type callOptions struct {
	timeout time.Duration
}

// CallOption configures a single Call.
type CallOption func(*callOptions)

// WithTimeout overrides the channel's call timeout for one call.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}
