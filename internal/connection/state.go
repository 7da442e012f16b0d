package connection

import "fmt"

type State int

const (
	StateInitializing State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateFatal
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateFatal:
		return "fatal"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is a point-in-time view of the controller's bookkeeping.
type Session struct {
	State    State `json:"-"`
	Attempts int   `json:"attempts"`
}

// FatalError ends Run when the backend permanently rejects the session.
type FatalError struct {
	StatusCode int
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("session permanently rejected (status %d)", e.StatusCode)
}
