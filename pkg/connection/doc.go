// Package connection manages the lifecycle of a cloud session.
//
// The package handles:
//   - The session state machine and its transition table
//   - Fire-and-forget event dispatch to observers (Bus)
//   - Login, transport supervision and reconnection (Supervisor)
//   - Appliance availability and first-update notifications
//
// # States
//
//	INITIALIZING -> AUTHORIZING_OAUTH -> CONNECTED -> DROPPED -> WAITING
//	                       ^                                       |
//	                       +---------------------------------------+
//
// Any non-terminal state may move to DISCONNECTING, which leads to the
// terminal DISCONNECTED. A transport that fails before the connection is
// confirmed moves INITIALIZING or AUTHORIZING_OAUTH straight to DROPPED.
//
// # Reconnection Strategy
//
// After a drop the supervisor waits (5 seconds by default), runs a
// refresh login and drives the transport again. The retry counter starts
// at -1, grows by one per failed cycle and returns to -1 whenever the
// transport confirms a connection. The loop ends when:
//   - the counter exceeds Config.MaxRetries
//   - the very first connection attempt fails
//   - a refresh login fails
//   - Disconnect is called or the context is cancelled
//
// # Events
//
// Every state change publishes EventStateChanged. Entering CONNECTED or
// DISCONNECTED additionally publishes EventConnected or
// EventDisconnected. Handlers run concurrently; use Event.Seq to restore
// publish order.
package connection
