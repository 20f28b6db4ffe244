package push

import "context"

// Dialer opens transports. It is the only way the client reaches the network.
type Dialer interface {
	// Dial starts connecting to addr and returns immediately. done is called
	// exactly once with the connected transport or the failure, possibly
	// before Dial returns. Cancelling ctx abandons the attempt; done then
	// reports the cancellation. ctx does not bound the transport's lifetime.
	Dial(ctx context.Context, addr string, done func(Transport, error))
}

// Transport is a connected byte stream.
type Transport interface {
	// Write queues b for sending. Bytes reach the wire in call order.
	// done is called once with the write outcome and may be deferred.
	// Writing to a closed transport reports ErrConnectionClosed.
	Write(b []byte, done func(error))
	// Bind installs the inbound hooks. onData receives chunks of any size
	// which the callee may not retain. onClosed is called once when the
	// stream ends, with nil for a clean close.
	Bind(onData func([]byte), onClosed func(error))
	// Close releases the transport and triggers onClosed with nil if bound.
	// Calling Close more than once is safe.
	Close() error
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, addr string, done func(Transport, error))

// Dial calls f(ctx, addr, done).
func (f DialerFunc) Dial(ctx context.Context, addr string, done func(Transport, error)) {
	f(ctx, addr, done)
}
