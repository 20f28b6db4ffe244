package push

import "log/slog"

// Logger is the interface for structured logging used by Client, Conn and
// Server. *slog.Logger satisfies it, and so does the zerolog adapter in
// internal/logging. Arguments are alternating key-value pairs such as
// "addr", addr or "signal", signal.
type Logger interface {
	// Debug logs per-frame and per-accept detail.
	Debug(msg string, args ...any)
	// Info logs connection lifecycle events.
	Info(msg string, args ...any)
	// Warn logs recoverable failures such as a refused dial.
	Warn(msg string, args ...any)
	// Error logs failures that tear a connection down or go unhandled.
	Error(msg string, args ...any)
}

// defaultLogger returns slog.Default, used when no LoggerOption is given.
func defaultLogger() Logger {
	return slog.Default()
}
