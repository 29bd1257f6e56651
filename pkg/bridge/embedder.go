package bridge

import "context"

// EmbedRequest describes the embedded context a channel needs.
type EmbedRequest struct {
	ContextID string            `json:"contextId"`
	Address   string            `json:"address"`
	Mount     string            `json:"mount,omitempty"`
	Style     map[string]string `json:"style,omitempty"`
}

// Headless reports whether the request has no mounting point.
func (r EmbedRequest) Headless() bool {
	return r.Mount == ""
}

// Surface is a created embedded context. Remove detaches and destroys it.
type Surface interface {
	Remove() error
}

// Embedder creates embedded contexts for channels.
type Embedder interface {
	Embed(ctx context.Context, req EmbedRequest) (Surface, error)
}

// EmbedderFunc adapts a function to Embedder.
type EmbedderFunc func(ctx context.Context, req EmbedRequest) (Surface, error)

// Embed calls f.
func (f EmbedderFunc) Embed(ctx context.Context, req EmbedRequest) (Surface, error) {
	return f(ctx, req)
}
