package push

import (
	"time"
)

// options holds the configuration for a client.
type options struct {
	logger   Logger
	observer Observer

	onConnected func()
	onMessage   func(signal Signal, text string)
	// onException receives connect failures and protocol failures.
	onException func(error)
	// onClosed is called whenever the connection returns to Disconnected
	// from a close. err is nil for a clean close.
	onClosed func(error)

	maxBodyLength uint32        // maximum size of a single frame body
	closeTimeout  time.Duration // how long Close waits for the transport to report back
}

// Option is a function that configures client options.
type Option func(*options)

// OnConnectedOption returns an Option that sets the connected callback.
func OnConnectedOption(cb func()) Option {
	return func(o *options) {
		o.onConnected = cb
	}
}

// OnMessageOption returns an Option that sets the message handler callback.
// This callback is required and is invoked for each received frame.
func OnMessageOption(cb func(signal Signal, text string)) Option {
	return func(o *options) {
		o.onMessage = cb
	}
}

// OnExceptionOption returns an Option that sets the error callback.
// It is invoked for failed connection attempts and corrupt inbound streams.
func OnExceptionOption(cb func(error)) Option {
	return func(o *options) {
		o.onException = cb
	}
}

// OnClosedOption returns an Option that sets the close callback.
// If not set, every close is forwarded to the exception callback; a clean
// close arrives as an error wrapping ErrConnectionClosed.
func OnClosedOption(cb func(error)) Option {
	return func(o *options) {
		o.onClosed = cb
	}
}

// MaxBodyLengthOption returns an Option that sets the maximum frame body size,
// for both directions.
func MaxBodyLengthOption(size uint32) Option {
	return func(o *options) {
		o.maxBodyLength = size
	}
}

// CloseTimeoutOption returns an Option that bounds how long Close waits for
// the transport's close notification before cleaning up on its own.
func CloseTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.closeTimeout = timeout
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// ObserverOption returns an Option that sets the telemetry observer.
func ObserverOption(observer Observer) Option {
	return func(o *options) {
		o.observer = observer
	}
}
