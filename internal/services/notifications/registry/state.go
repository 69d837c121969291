package registry

import "sync/atomic"

// State is a push session's lifecycle position.
type State int32

const (
	// StateConnecting is a transport that has not authenticated yet.
	StateConnecting State = iota
	// StateAuthenticated is joined to an identity and eligible for push.
	StateAuthenticated
	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Lifecycle guards the Connecting -> Authenticated -> Closed transitions of
// one session.
type Lifecycle struct {
	state atomic.Int32
}

// State returns the current state.
func (l *Lifecycle) State() State {
	return State(l.state.Load())
}

// Authenticate moves Connecting to Authenticated. It fails for sessions that
// already authenticated or closed.
func (l *Lifecycle) Authenticate() bool {
	return l.state.CompareAndSwap(int32(StateConnecting), int32(StateAuthenticated))
}

// Close moves any state to Closed and reports whether this call did it.
func (l *Lifecycle) Close() bool {
	return State(l.state.Swap(int32(StateClosed))) != StateClosed
}
