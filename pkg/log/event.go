package log

import (
	"time"
)

// Event is a single captured session event.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// SessionID identifies the supervisor run (UUID).
	SessionID string `cbor:"2,keyasint"`

	// Direction indicates message flow for transport messages.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// ApplianceID is set for appliance-scoped events.
	ApplianceID string `cbor:"6,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Message     *MessageEvent     `cbor:"10,keyasint,omitempty"` // Transport layer
	StateChange *StateChangeEvent `cbor:"11,keyasint,omitempty"` // Session state
	Appliance   *ApplianceEvent   `cbor:"12,keyasint,omitempty"` // Availability / init
	Auth        *AuthEvent        `cbor:"13,keyasint,omitempty"` // Login outcomes
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates a message received from the cloud.
	DirectionIn Direction = 0
	// DirectionOut indicates a message sent to the cloud.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which part of the client captured the event.
type Layer uint8

const (
	// LayerTransport is the device transport (websocket frames).
	LayerTransport Layer = 0
	// LayerAuth is the authentication flow.
	LayerAuth Layer = 1
	// LayerSession is the session supervisor.
	LayerSession Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerAuth:
		return "AUTH"
	case LayerSession:
		return "SESSION"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a transport message.
	CategoryMessage Category = 0
	// CategoryState indicates a session state change.
	CategoryState Category = 1
	// CategoryAppliance indicates an appliance availability or init event.
	CategoryAppliance Category = 2
	// CategoryAuth indicates a login outcome.
	CategoryAuth Category = 3
	// CategoryError indicates an error event.
	CategoryError Category = 4
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryState:
		return "STATE"
	case CategoryAppliance:
		return "APPLIANCE"
	case CategoryAuth:
		return "AUTH"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseCategory parses a category name (case-sensitive, as printed by String).
func ParseCategory(s string) (Category, bool) {
	for c := CategoryMessage; c <= CategoryError; c++ {
		if c.String() == s {
			return c, true
		}
	}
	return 0, false
}

// MessageEvent captures a transport frame.
type MessageEvent struct {
	// Kind is the frame kind (publish, availability, set, ...).
	Kind string `cbor:"1,keyasint"`

	// Size is the encoded frame size in bytes.
	Size int `cbor:"2,keyasint"`

	// Attributes carries attribute changes, if any.
	Attributes map[string]string `cbor:"3,keyasint,omitempty"`
}

// StateChangeEvent captures a session state transition.
type StateChangeEvent struct {
	// OldState is the previous state.
	OldState string `cbor:"1,keyasint"`

	// NewState is the new state.
	NewState string `cbor:"2,keyasint"`

	// Retries is the retry counter at the time of the transition.
	Retries int `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// ApplianceEvent captures appliance availability and initialization.
type ApplianceEvent struct {
	// Available is the new availability (nil if unchanged).
	Available *bool `cbor:"1,keyasint,omitempty"`

	// Initialized is true when the appliance type was first received.
	Initialized bool `cbor:"2,keyasint,omitempty"`

	// Type is the appliance type, if known.
	Type string `cbor:"3,keyasint,omitempty"`
}

// AuthFlow identifies the login flow.
type AuthFlow uint8

const (
	// AuthFlowFull is a full login with account credentials.
	AuthFlowFull AuthFlow = 0
	// AuthFlowRefresh is a refresh-token login.
	AuthFlowRefresh AuthFlow = 1
)

// String returns the flow name.
func (f AuthFlow) String() string {
	switch f {
	case AuthFlowFull:
		return "FULL"
	case AuthFlowRefresh:
		return "REFRESH"
	default:
		return "UNKNOWN"
	}
}

// AuthEvent captures the outcome of a login.
type AuthEvent struct {
	// Flow is the login flow used.
	Flow AuthFlow `cbor:"1,keyasint"`

	// Success reports whether credentials were obtained.
	Success bool `cbor:"2,keyasint"`

	// Expiry is the access token expiry on success.
	Expiry time.Time `cbor:"3,keyasint"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Fatal reports whether the error ended the session loop.
	Fatal bool `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
