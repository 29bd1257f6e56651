package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// EventPublisher is the interface for publishing channel lifecycle events.
type EventPublisher interface {
	PublishStateChanged(ctx context.Context, event *ChannelStateEvent) error
}

// NoOpPublisher is an EventPublisher that does nothing.
type NoOpPublisher struct{}

// PublishStateChanged is a no-op.
func (p *NoOpPublisher) PublishStateChanged(_ context.Context, _ *ChannelStateEvent) error {
	return nil
}

// PublisherFunc adapts a function to EventPublisher.
type PublisherFunc func(ctx context.Context, event *ChannelStateEvent) error

// PublishStateChanged calls f.
func (f PublisherFunc) PublishStateChanged(ctx context.Context, event *ChannelStateEvent) error {
	return f(ctx, event)
}

// LogPublisher writes each transition to a slog.Logger. Transitions into
// CLOSED that carry a reason are failures and log at warn.
type LogPublisher struct {
	prefix string
	logger *slog.Logger
}

// NewLogPublisher creates a LogPublisher whose lines start with prefix.
// A nil logger uses slog.Default().
func NewLogPublisher(prefix string, logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{prefix: prefix, logger: logger}
}

// PublishStateChanged logs event and never fails.
func (p *LogPublisher) PublishStateChanged(_ context.Context, event *ChannelStateEvent) error {
	line := fmt.Sprintf("%s - Channel %s: %s -> %s", p.prefix, event.ContextID, event.From, event.To)
	if event.Reason == "" {
		p.logger.Info(line)
		return nil
	}
	line = fmt.Sprintf("%s (%s)", line, event.Reason)
	if event.To == "CLOSED" {
		p.logger.Warn(line)
		return nil
	}
	p.logger.Info(line)
	return nil
}

// MultiPublisher hands every event to each of its publishers in order.
type MultiPublisher struct {
	pubs []EventPublisher
}

// NewMultiPublisher creates a MultiPublisher. Nil publishers are skipped.
func NewMultiPublisher(pubs ...EventPublisher) *MultiPublisher {
	m := &MultiPublisher{}
	for _, p := range pubs {
		if p != nil {
			m.pubs = append(m.pubs, p)
		}
	}
	return m
}

// PublishStateChanged publishes to all publishers, even after one fails, and
// joins their errors.
func (m *MultiPublisher) PublishStateChanged(ctx context.Context, event *ChannelStateEvent) error {
	var errs []error
	for _, p := range m.pubs {
		if err := p.PublishStateChanged(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
