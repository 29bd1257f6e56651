package frame

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/morezero/embedrpc/pkg/bridge"
	"github.com/morezero/embedrpc/pkg/commsutil"
)

const dispatcherLogPrefix = "frame:dispatcher"

// Handler serves one procedure. The returned value is encoded as the result.
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Dispatcher routes call messages to registered procedures.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register binds name to h, replacing any previous handler.
func (d *Dispatcher) Register(name string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[name] = h
}

// Procedures lists registered procedure names, sorted.
func (d *Dispatcher) Procedures() []string {
	d.mu.RLock()
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	d.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Dispatch runs the handler for a call message and returns the result message.
// Every failure is reported through SetError; Dispatch never returns nil.
func (d *Dispatcher) Dispatch(ctx context.Context, req *bridge.Message) *bridge.Message {
	slog.Debug(fmt.Sprintf("%s - procedure=%s id=%s", dispatcherLogPrefix, req.ProcedureName, req.CorrelationID))

	resp := &bridge.Message{
		Type:          bridge.TypeResult,
		ContextID:     req.ContextID,
		CorrelationID: req.CorrelationID,
	}

	d.mu.RLock()
	h, ok := d.handlers[req.ProcedureName]
	d.mu.RUnlock()
	if !ok {
		resp.SetError(fmt.Sprintf("Unknown procedure: %s", req.ProcedureName))
		return resp
	}

	result, err := h(ctx, req.Params)
	if err != nil {
		text := err.Error()
		if text == "" {
			text = "procedure failed"
		}
		resp.SetError(text)
		return resp
	}

	raw, err := commsutil.RawPayload(result)
	if err != nil {
		resp.SetError(fmt.Sprintf("failed to encode result: %v", err))
		return resp
	}
	resp.Result = raw
	return resp
}

type initVarsKey struct{}

// WithInitVars attaches the init payload to ctx for handlers.
func WithInitVars(ctx context.Context, vars map[string]interface{}) context.Context {
	return context.WithValue(ctx, initVarsKey{}, vars)
}

// InitVarsFromContext returns the init payload a Frame attached to ctx.
func InitVarsFromContext(ctx context.Context) (map[string]interface{}, bool) {
	vars, ok := ctx.Value(initVarsKey{}).(map[string]interface{})
	return vars, ok
}

// RegisterBuiltins adds getStatus, echo and getInitVars.
func RegisterBuiltins(d *Dispatcher) {
	d.Register("getStatus", func(ctx context.Context, _ json.RawMessage) (interface{}, error) {
		return map[string]string{"status": "ready"}, nil
	})
	d.Register("echo", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return params, nil
	})
	d.Register("getInitVars", func(ctx context.Context, _ json.RawMessage) (interface{}, error) {
		vars, ok := InitVarsFromContext(ctx)
		if !ok {
			return nil, fmt.Errorf("init payload not received")
		}
		return vars, nil
	})
}
