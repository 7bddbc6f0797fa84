package connection

import (
	"strings"
	"time"

	"github.com/erdlink/erdlink-go/pkg/appliance"
)

// EventKind identifies a bus event.
type EventKind uint8

const (
	// EventStateChanged is published on every state transition.
	EventStateChanged EventKind = iota

	// EventConnected is published after entering CONNECTED.
	EventConnected

	// EventDisconnected is published after entering DISCONNECTED.
	EventDisconnected

	// EventApplianceInitialUpdate is published once per appliance, when its
	// type attribute first arrives.
	EventApplianceInitialUpdate

	// EventApplianceAvailable is published when an appliance comes online.
	EventApplianceAvailable

	// EventApplianceUnavailable is published when an appliance goes offline.
	EventApplianceUnavailable
)

// EventKinds lists every event kind in declaration order.
var EventKinds = []EventKind{
	EventStateChanged,
	EventConnected,
	EventDisconnected,
	EventApplianceInitialUpdate,
	EventApplianceAvailable,
	EventApplianceUnavailable,
}

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "STATE_CHANGED"
	case EventConnected:
		return "CONNECTED"
	case EventDisconnected:
		return "DISCONNECTED"
	case EventApplianceInitialUpdate:
		return "APPLIANCE_INITIAL_UPDATE"
	case EventApplianceAvailable:
		return "APPLIANCE_AVAILABLE"
	case EventApplianceUnavailable:
		return "APPLIANCE_UNAVAILABLE"
	default:
		return "UNKNOWN"
	}
}

// Subject returns the lower-case name used for message subjects and labels.
func (k EventKind) Subject() string {
	return strings.ToLower(k.String())
}

// StateChange is the payload of EventStateChanged.
type StateChange struct {
	Old State
	New State
}

// Event is a single bus notification. Exactly the payload that matches
// Kind is set.
type Event struct {
	Kind EventKind

	// Seq increases by one for every published event on a bus.
	Seq uint64

	// Time is when the event was published.
	Time time.Time

	StateChange *StateChange
	Appliance   *appliance.Appliance
}

// StateChangedEvent builds an EventStateChanged event.
func StateChangedEvent(old, next State) Event {
	return Event{Kind: EventStateChanged, StateChange: &StateChange{Old: old, New: next}}
}

// ConnectedEvent builds an EventConnected event.
func ConnectedEvent() Event {
	return Event{Kind: EventConnected}
}

// DisconnectedEvent builds an EventDisconnected event.
func DisconnectedEvent() Event {
	return Event{Kind: EventDisconnected}
}

// ApplianceInitialUpdateEvent builds an EventApplianceInitialUpdate event.
func ApplianceInitialUpdateEvent(a *appliance.Appliance) Event {
	return Event{Kind: EventApplianceInitialUpdate, Appliance: a}
}

// ApplianceAvailabilityEvent builds EventApplianceAvailable or
// EventApplianceUnavailable depending on available.
func ApplianceAvailabilityEvent(a *appliance.Appliance, available bool) Event {
	if available {
		return Event{Kind: EventApplianceAvailable, Appliance: a}
	}
	return Event{Kind: EventApplianceUnavailable, Appliance: a}
}
