package push

import (
	"fmt"

	"github.com/pkg/errors"
)

// Errors returned by client and codec operations.
var (
	// ErrInvalidDialer is returned when no dialer is provided.
	ErrInvalidDialer = errors.New("invalid dialer")
	// ErrInvalidOnMessage is returned when no message handler is provided.
	ErrInvalidOnMessage = errors.New("invalid on message callback")
	// ErrMalformedHeader is returned when a header carries an unknown signal
	// code or a body length above the configured maximum.
	ErrMalformedHeader = errors.New("malformed header")
	// ErrNotConnected is returned by Send when the client is not connected.
	ErrNotConnected = errors.New("not connected")
	// ErrPayloadTooLarge is returned by Send when the payload exceeds the
	// configured maximum body length.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrConnectionClosed is returned when writing to a released transport.
	// Clients without a close callback also report clean closes with it.
	ErrConnectionClosed = errors.New("connection closed")
)

// ProtocolError reports a corrupt inbound stream. The connection that
// produced it cannot be resynchronized and is torn down.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Err.Error()
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ConnectError reports a failed connection attempt.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// WriteError reports a frame the transport failed to write.
// It is delivered to the Send completion callback only.
type WriteError struct {
	Signal Signal
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s frame: %v", e.Signal, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
