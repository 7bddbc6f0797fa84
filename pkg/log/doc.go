// Package log captures a machine-readable trace of session events.
//
// This is separate from operational logging (slog): the capture records
// every state transition, login outcome, appliance availability flip,
// transport frame and swallowed error, so a misbehaving session can be
// replayed and analyzed after the fact.
//
// # Basic Usage
//
//	// Console, for development
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// File, for production
//	fl, _ := log.NewFileLogger("/var/log/erdlink/session.elog")
//	cfg.ProtocolLogger = fl
//
//	// Both
//	cfg.ProtocolLogger = log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fl)
//
// # File Format
//
// Capture files (.elog) are a stream of CBOR-encoded Events with integer
// keys. The erdlink-log tool views and summarizes them.
package log
