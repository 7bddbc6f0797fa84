package connection

// State is the session lifecycle state.
type State uint8

const (
	// StateInitializing is the state of a freshly created supervisor.
	StateInitializing State = iota

	// StateAuthorizingOAuth means a full or refresh login is in progress.
	StateAuthorizingOAuth

	// StateWaiting means the supervisor is sleeping before the next attempt.
	StateWaiting

	// StateConnected means the transport confirmed a live connection.
	StateConnected

	// StateDropped means the transport loop exited.
	StateDropped

	// StateDisconnecting means teardown is in progress.
	StateDisconnecting

	// StateDisconnected is terminal.
	StateDisconnected
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateInitializing:
		return "INITIALIZING"
	case StateAuthorizingOAuth:
		return "AUTHORIZING_OAUTH"
	case StateWaiting:
		return "WAITING"
	case StateConnected:
		return "CONNECTED"
	case StateDropped:
		return "DROPPED"
	case StateDisconnecting:
		return "DISCONNECTING"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// transitions lists the states reachable from each state.
// DISCONNECTING is reachable from every non-terminal state.
var transitions = map[State][]State{
	StateInitializing:     {StateAuthorizingOAuth, StateDropped},
	StateAuthorizingOAuth: {StateConnected, StateDropped},
	StateConnected:        {StateDropped},
	StateDropped:          {StateWaiting},
	StateWaiting:          {StateAuthorizingOAuth},
	StateDisconnecting:    {StateDisconnected},
}

// CanTransition reports whether the state machine allows moving from s to next.
func (s State) CanTransition(next State) bool {
	if s == StateDisconnected {
		return false
	}
	if next == StateDisconnecting {
		return s != StateDisconnecting
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateDisconnected
}
