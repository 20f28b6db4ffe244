// Package push implements the client side of a small framed push-notification
// protocol: a wire codec, an incremental frame assembler and a connection
// controller that dispatches decoded messages to application callbacks.
//
// Byte transport is pluggable through Dialer and Transport. TCP and WebSocket
// implementations are provided.
package push

import (
	"context"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// State is the lifecycle state of a client connection.
type State int32

const (
	// Disconnected is the initial state and the state after any close or failure.
	Disconnected State = iota
	// Connecting means a dial is in flight.
	Connecting
	// Connected means frames may be sent.
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// Default configuration values.
const (
	// defaultCloseTimeout bounds how long Close waits for the transport.
	defaultCloseTimeout = 5 * time.Second
)

// Client owns one logical connection to a push server.
//
// Every operation and every transport notification is executed on the
// goroutine running Run, one at a time. Application callbacks run there as
// well and may call back into the client.
type Client struct {
	dialer    Dialer
	codec     *Codec
	assembler *Assembler
	logger    Logger
	observer  Observer

	opts options

	inbox   *mailbox[func()]
	state   atomic.Int32
	closing atomic.Bool

	// Owned by the event loop.
	addr       string
	attempt    uint64
	transport  Transport
	cancelDial context.CancelFunc
	closeTimer *time.Timer
}

// NewClient creates a client that opens connections through dialer.
// It applies the provided options and validates them before returning.
func NewClient(dialer Dialer, opt ...Option) (*Client, error) {
	if dialer == nil {
		return nil, ErrInvalidDialer
	}

	var opts options
	for _, o := range opt {
		o(&opts)
	}

	if err := checkOptions(&opts); err != nil {
		return nil, err
	}

	codec := NewCodec(opts.maxBodyLength)
	return &Client{
		dialer:    dialer,
		codec:     codec,
		assembler: NewAssembler(codec),
		logger:    opts.logger,
		observer:  opts.observer,
		opts:      opts,
		inbox:     newMailbox[func()](),
	}, nil
}

// checkOptions validates and sets default values for client options.
func checkOptions(opts *options) error {
	if opts.onMessage == nil {
		return ErrInvalidOnMessage
	}

	if opts.maxBodyLength == 0 {
		opts.maxBodyLength = DefaultMaxBodyLength
	}

	if opts.closeTimeout <= 0 {
		opts.closeTimeout = defaultCloseTimeout
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	if opts.observer == nil {
		opts.observer = nopObserver{}
	}

	if opts.onConnected == nil {
		opts.onConnected = func() {}
	}

	if opts.onException == nil {
		logger := opts.logger
		opts.onException = func(err error) {
			logger.Error("client exception", "error", err)
		}
	}

	if opts.onClosed == nil {
		onException := opts.onException
		opts.onClosed = func(err error) {
			if err == nil {
				err = errors.WithMessage(ErrConnectionClosed, "disconnected")
			}
			onException(err)
		}
	}

	return nil
}

// Run executes the client's event loop until ctx is done.
// On return the transport is released and the state is Disconnected.
func (c *Client) Run(ctx context.Context) error {
	c.logger.Debug("client options",
		"max_body_length", c.opts.maxBodyLength,
		"close_timeout", c.opts.closeTimeout)

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case <-c.inbox.notify:
			for _, fn := range c.inbox.drain() {
				fn()
			}
		}
	}
}

// shutdown tears the connection down and flushes queued work so that
// pending sends are answered.
func (c *Client) shutdown() {
	c.closing.Store(true)
	if c.State() != Disconnected {
		c.disconnect()
		c.opts.onClosed(nil)
	}
	for _, fn := range c.inbox.drain() {
		fn()
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Connect starts connecting to host:port. It is a no-op unless the client
// is Disconnected. The outcome is reported through the connected or
// exception callback.
func (c *Client) Connect(host string, port int) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	c.inbox.post(func() { c.connect(addr) })
}

// Close cancels a dial in flight, releases the transport and refuses new
// sends. The close callback fires once the transport reports back, or after
// the close timeout if it never does.
func (c *Client) Close() {
	c.inbox.post(c.close)
}

// Send writes one frame. It fails with ErrNotConnected unless the client is
// Connected, and with ErrPayloadTooLarge if text exceeds the body limit.
// Otherwise onComplete, if not nil, receives the write outcome: nil or a
// *WriteError. Frames reach the wire in the order Send was called.
func (c *Client) Send(signal Signal, text string, onComplete func(error)) error {
	if onComplete == nil {
		onComplete = func(error) {}
	}
	if c.State() != Connected || c.closing.Load() {
		return ErrNotConnected
	}
	if uint64(len(text)) > uint64(c.codec.MaxBodyLength()) {
		return errors.Wrapf(ErrPayloadTooLarge, "%d bytes exceeds %d", len(text), c.codec.MaxBodyLength())
	}

	body := []byte(text)
	c.inbox.post(func() { c.send(signal, body, onComplete) })
	return nil
}

func (c *Client) connect(addr string) {
	if state := c.State(); state != Disconnected {
		c.logger.Debug("connect ignored", "addr", addr, "state", state)
		return
	}

	c.attempt++
	attempt := c.attempt
	c.addr = addr
	c.closing.Store(false)
	c.setState(Connecting)

	ctx, cancel := context.WithCancel(context.Background())
	c.cancelDial = cancel
	c.dialer.Dial(ctx, addr, func(t Transport, err error) {
		c.inbox.post(func() { c.onTransportConnected(attempt, t, err) })
	})
}

func (c *Client) onTransportConnected(attempt uint64, t Transport, err error) {
	if attempt != c.attempt || c.State() != Connecting {
		if t != nil {
			_ = t.Close()
		}
		return
	}

	if c.closing.Load() {
		if t != nil {
			_ = t.Close()
		}
		c.disconnect()
		c.opts.onClosed(nil)
		return
	}

	if err != nil {
		c.logger.Warn("connect failed", "addr", c.addr, "error", err)
		c.disconnect()
		c.opts.onException(&ConnectError{Addr: c.addr, Err: err})
		return
	}

	c.cancelDial()
	c.cancelDial = nil
	c.transport = t
	c.assembler.Reset()
	c.setState(Connected)

	t.Bind(func(chunk []byte) {
		data := append([]byte(nil), chunk...)
		c.inbox.post(func() { c.onDataArrived(attempt, data) })
	}, func(err error) {
		c.inbox.post(func() { c.onClosed(attempt, err) })
	})

	c.opts.onConnected()
}

func (c *Client) send(signal Signal, body []byte, onComplete func(error)) {
	if c.State() != Connected || c.closing.Load() {
		onComplete(ErrNotConnected)
		return
	}

	frame := c.codec.EncodeFrame(signal, body)
	c.transport.Write(frame, func(err error) {
		c.inbox.post(func() {
			if err != nil {
				c.logger.Warn("write failed", "addr", c.addr, "signal", signal, "error", err)
				onComplete(&WriteError{Signal: signal, Err: err})
				return
			}
			onComplete(nil)
		})
	})

	c.observer.FrameSent(signal, len(frame))
	c.logger.Debug("frame sent", "addr", c.addr, "signal", signal, "length", len(body))
}

func (c *Client) onDataArrived(attempt uint64, chunk []byte) {
	if attempt != c.attempt || c.State() != Connected {
		return
	}

	frames, err := c.assembler.Feed(chunk)
	for _, f := range frames {
		c.observer.FrameReceived(f.Signal(), HeaderLen+len(f.Body))
		c.logger.Debug("frame received", "addr", c.addr, "signal", f.Signal(), "length", len(f.Body))
		c.opts.onMessage(f.Signal(), strings.ToValidUTF8(f.Text(), "\uFFFD"))
	}

	if err != nil {
		c.observer.ProtocolFailure(err)
		c.logger.Error("dropping connection", "addr", c.addr, "error", err)
		c.disconnect()
		c.opts.onException(err)
	}
}

func (c *Client) onClosed(attempt uint64, err error) {
	if attempt != c.attempt || c.State() == Disconnected {
		return
	}

	if err != nil {
		c.logger.Info("connection closed with error", "addr", c.addr, "error", err)
	} else {
		c.logger.Info("connection closed", "addr", c.addr)
	}

	c.disconnect()
	c.opts.onClosed(err)
}

func (c *Client) close() {
	if c.State() == Disconnected || c.closing.Load() {
		return
	}
	c.closing.Store(true)

	if c.cancelDial != nil {
		c.cancelDial()
	}
	if c.transport != nil {
		_ = c.transport.Close()
	}

	attempt := c.attempt
	c.closeTimer = time.AfterFunc(c.opts.closeTimeout, func() {
		c.inbox.post(func() {
			if attempt != c.attempt || c.State() == Disconnected {
				return
			}
			c.logger.Warn("transport did not report close, cleaning up", "addr", c.addr)
			c.disconnect()
			c.opts.onClosed(nil)
		})
	})
}

// disconnect releases everything tied to the current attempt and moves to
// Disconnected. Callbacks still in flight for the attempt become stale.
func (c *Client) disconnect() {
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	if c.closeTimer != nil {
		c.closeTimer.Stop()
		c.closeTimer = nil
	}
	if c.transport != nil {
		t := c.transport
		c.transport = nil
		_ = t.Close()
	}

	c.attempt++
	c.assembler.Reset()
	c.setState(Disconnected)
}

func (c *Client) setState(to State) {
	from := State(c.state.Swap(int32(to)))
	if from == to {
		return
	}
	c.observer.StateChanged(from, to)
	c.logger.Info("state changed", "addr", c.addr, "from", from, "to", to)
}
