package connection

import "errors"

// Session errors.
var (
	// ErrUnsupportedOperation is returned by SubscribeOnce.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrInvalidTransition is returned when the state machine rejects a transition.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrNotAuthenticated is returned when no login has succeeded yet.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrInvalidConfig is returned by NewSupervisor for unusable settings.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrTransport marks failures of the transport loop. Transports wrap
	// their errors with it.
	ErrTransport = errors.New("transport error")
)
