// Package logging provides structured logging for kimibroker, built on the
// standard library's slog package.
//
// Every log entry carries a subsystem identifier ("DeviceFlow", "TokenStore",
// "Scheduler", ...) so related entries can be filtered together. Messages use
// printf-style formatting; errors are attached as a structured attribute
// rather than folded into the message.
//
// Usage:
//
//	logging.Init(logging.LevelInfo, os.Stderr)
//	logging.Info("Bootstrap", "broker starting, session=%s", sessionID)
//	logging.Error("TokenStore", err, "failed to persist credentials")
package logging
