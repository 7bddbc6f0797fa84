// Package transport implements the appliance cloud websocket transport.
//
// The transport layer handles:
//   - Bearer-authenticated websocket connections
//   - JSON frames for attribute updates, availability and writes
//   - Keep-alive ping/pong for connection liveness
//
// # Frames
//
//	{"kind":"publish","applianceId":"D828C9000001","attributes":{"0x0008":"06"}}
//	{"kind":"availability","applianceId":"D828C9000001","available":true}
//	{"kind":"set","id":"...","applianceId":"D828C9000001","attributes":{"0x5100":"01"}}
//
// # Keep-Alive
//
// Connection liveness is monitored using websocket ping/pong:
//   - Ping interval: 30 seconds
//   - Pong timeout: 5 seconds
//   - Max missed pongs: 3
//
// A connection that misses MaxMissedPongs consecutive pongs is closed and
// Drive returns an error wrapping ErrKeepAliveTimeout.
package transport
