package bridge

import (
	"fmt"

	comms "github.com/nats-io/nats.go"
)

// CommsBus is a Bus over COMMS core pub/sub.
type CommsBus struct {
	nc *comms.Conn
}

// NewCommsBus wraps an established COMMS connection.
func NewCommsBus(nc *comms.Conn) *CommsBus {
	return &CommsBus{nc: nc}
}

// Publish sends data on subject.
func (b *CommsBus) Publish(subject string, data []byte) error {
	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("bridge:comms_bus - publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers fn for subject. The returned subscription is the COMMS one.
func (b *CommsBus) Subscribe(subject string, fn func(data []byte)) (Subscription, error) {
	sub, err := b.nc.Subscribe(subject, func(msg *comms.Msg) {
		fn(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("bridge:comms_bus - subscribe %s: %w", subject, err)
	}
	return sub, nil
}

// Flush waits until the server has processed everything published so far.
func (b *CommsBus) Flush() error {
	return b.nc.Flush()
}
