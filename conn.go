package push

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// stream is the raw connection under a Conn.
type stream interface {
	// read blocks for the next chunk. The returned slice is only valid until
	// the next call.
	read() ([]byte, error)
	write(b []byte) error
	close() error
	remoteAddr() net.Addr
}

// writeRequest is one queued Write call.
type writeRequest struct {
	data []byte
	done func(error)
}

// Conn is a Transport over a stream. It runs one read loop delivering raw
// chunks and one write loop draining an ordered queue of writes.
type Conn struct {
	raw    stream
	logger Logger

	outbox *mailbox[writeRequest]

	mu       sync.Mutex
	onData   func([]byte)
	onClosed func(error)
	started  bool

	closed atomic.Bool
	cancel context.CancelFunc
}

func newConn(raw stream, logger Logger) *Conn {
	if logger == nil {
		logger = defaultLogger()
	}
	return &Conn{
		raw:    raw,
		logger: logger,
		outbox: newMailbox[writeRequest](),
	}
}

// Addr returns the remote address of the connection.
func (c *Conn) Addr() net.Addr {
	return c.raw.remoteAddr()
}

// Write queues data for the write loop. done, if not nil, receives the
// outcome once the bytes have been handed to the network.
func (c *Conn) Write(data []byte, done func(error)) {
	if done == nil {
		done = func(error) {}
	}
	if c.closed.Load() {
		done(ErrConnectionClosed)
		return
	}
	c.outbox.post(writeRequest{data: data, done: done})

	// Lost a race with shutdown; nobody else will drain the queue.
	if c.closed.Load() {
		c.failPending()
	}
}

// Bind installs the inbound hooks and starts the read and write loops.
// Only the first call has any effect. Binding a closed connection reports
// the close right away.
func (c *Conn) Bind(onData func([]byte), onClosed func(error)) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true

	if c.closed.Load() {
		c.mu.Unlock()
		if onClosed != nil {
			onClosed(nil)
		}
		return
	}

	c.onData = onData
	c.onClosed = onClosed
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(ctx)
}

// Close releases the connection. The closed hook, if bound, receives nil.
// Safe to call multiple times.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Swap(true) {
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	err := c.raw.close()
	if !c.started {
		c.failPending()
	}
	return err
}

// IsClosed returns true if the connection has been closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// run drives both loops and reports the end of the stream.
func (c *Conn) run(ctx context.Context) {
	c.logger.Debug("connection established", "addr", c.Addr())

	group, child := errgroup.WithContext(ctx)

	group.Go(func() error {
		return c.readLoop(child)
	})

	group.Go(func() error {
		return c.writeLoop(child)
	})

	// A blocked read only returns once the raw connection is closed.
	group.Go(func() error {
		<-child.Done()
		_ = c.raw.close()
		return nil
	})

	err := group.Wait()
	explicit := c.closed.Swap(true)
	c.failPending()

	if explicit || errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		err = nil
	}

	if err != nil {
		c.logger.Debug("connection closed with error", "addr", c.Addr(), "error", err)
	} else {
		c.logger.Debug("connection closed", "addr", c.Addr())
	}

	if c.onClosed != nil {
		c.onClosed(err)
	}
}

// readLoop hands every chunk read from the stream to the data hook.
func (c *Conn) readLoop(ctx context.Context) error {
	for {
		chunk, err := c.raw.read()
		if len(chunk) > 0 && c.onData != nil {
			c.onData(chunk)
		}
		if err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// writeLoop sends queued writes in order until the context is canceled or a
// write fails.
func (c *Conn) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.outbox.notify:
			requests := c.outbox.drain()
			for i, req := range requests {
				if err := c.raw.write(req.data); err != nil {
					c.logger.Debug("write error", "addr", c.Addr(), "error", err)
					req.done(err)
					for _, rest := range requests[i+1:] {
						rest.done(ErrConnectionClosed)
					}
					return errors.Wrap(err, "write")
				}
				req.done(nil)
			}
		}
	}
}

// failPending answers every write still queued.
func (c *Conn) failPending() {
	for _, req := range c.outbox.drain() {
		req.done(ErrConnectionClosed)
	}
}
