// Package log provides structured protocol logging for sslkit sessions.
//
// Two channels exist. Protocol capture records machine-readable events at the
// record, handshake and session layers through the Logger interface.
// Diagnostic output is a stream of (Severity, message) pairs delivered to a
// SeverityFunc, which is what a session's Logging callback receives.
//
// # Basic Usage
//
//	// For development: log to console via slog
//	ctx, _ := session.NewContext(method, session.WithLogger(log.NewSlogAdapter(slog.Default())))
//
//	// For production: write to binary file
//	fl, _ := log.NewFileLogger("/var/log/sslkit/client.tlog")
//
//	// Both: use MultiLogger
//	logger := log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fl)
//
// # File Format
//
// Log files use CBOR encoding with the .tlog extension. The sslkit-log CLI
// provides viewing, filtering, export and statistics.
package log
