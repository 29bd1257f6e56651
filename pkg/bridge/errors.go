package bridge

import "errors"

var (
	// ErrTimeout is returned when no response arrives within the call timeout.
	// It does not imply the remote side failed.
	ErrTimeout = errors.New("bridge: call timed out")

	// ErrChannelClosed is returned to every call pending when the channel closes,
	// and to calls issued after close.
	ErrChannelClosed = errors.New("bridge: channel closed")

	// ErrContextInUse is returned by Open when another live channel already owns the context id.
	ErrContextInUse = errors.New("bridge: context id already in use")

	// ErrEmptyProcedure is returned by Call for an empty procedure name.
	ErrEmptyProcedure = errors.New("bridge: procedure name is empty")

	// ErrIncompatibleProtocol closes a channel whose embedded context announced
	// a protocol version outside the accepted range.
	ErrIncompatibleProtocol = errors.New("bridge: incompatible protocol version")

	// ErrBusClosed is returned when publishing on a closed bus.
	ErrBusClosed = errors.New("bridge: bus closed")
)

// RemoteError is the failure reported by the embedded context for one call.
type RemoteError struct {
	Procedure string `json:"procedure"`
	Message   string `json:"message"`
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return "remote procedure " + e.Procedure + " failed"
	}
	return "remote procedure " + e.Procedure + " failed: " + e.Message
}
