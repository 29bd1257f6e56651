package bridge

// State is the lifecycle state of a Channel.
type State int

const (
	StateUnattached State = iota
	StateLoading
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnattached:
		return "UNATTACHED"
	case StateLoading:
		return "LOADING"
	case StateReady:
		return "READY"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}
