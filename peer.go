package push

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// PeerConfig configures the server end of a connection.
type PeerConfig struct {
	MaxBodyLength uint32
	IdleTimeout   time.Duration
	Logger        Logger
}

// Peer is the server end of a push connection: frames in through an
// Assembler, frames out through a Codec.
type Peer struct {
	conn      *Conn
	codec     *Codec
	assembler *Assembler
	logger    Logger

	mu      sync.Mutex
	failure error
}

// NewPeer wraps an accepted connection.
func NewPeer(raw net.Conn, cfg PeerConfig) *Peer {
	if cfg.Logger == nil {
		cfg.Logger = defaultLogger()
	}
	codec := NewCodec(cfg.MaxBodyLength)
	return &Peer{
		conn: NewTCPConn(raw, TCPConfig{
			IdleTimeout: cfg.IdleTimeout,
			Logger:      cfg.Logger,
		}),
		codec:     codec,
		assembler: NewAssembler(codec),
		logger:    cfg.Logger,
	}
}

// Addr returns the remote address of the peer.
func (p *Peer) Addr() net.Addr {
	return p.conn.Addr()
}

// Run delivers inbound frames to onFrame, one at a time, until the
// connection ends or ctx is done. A non-nil error from onFrame or a
// corrupt stream closes the connection and is returned.
func (p *Peer) Run(ctx context.Context, onFrame func(Frame) error) error {
	closed := make(chan error, 1)

	p.conn.Bind(func(chunk []byte) {
		frames, err := p.assembler.Feed(chunk)
		for _, f := range frames {
			if herr := onFrame(f); herr != nil {
				p.fail(herr)
				return
			}
		}
		if err != nil {
			p.fail(err)
		}
	}, func(err error) {
		closed <- err
	})

	select {
	case <-ctx.Done():
		_ = p.conn.Close()
		<-closed
		return ctx.Err()
	case err := <-closed:
		if failure := p.err(); failure != nil {
			return failure
		}
		return err
	}
}

// Push writes one frame to the peer. done, if not nil, receives the
// write outcome.
func (p *Peer) Push(signal Signal, text string, done func(error)) error {
	if p.conn.IsClosed() {
		return ErrConnectionClosed
	}
	if uint64(len(text)) > uint64(p.codec.MaxBodyLength()) {
		return errors.Wrapf(ErrPayloadTooLarge, "%d bytes exceeds %d", len(text), p.codec.MaxBodyLength())
	}
	p.conn.Write(p.codec.EncodeFrame(signal, []byte(text)), done)
	return nil
}

// Close closes the connection.
func (p *Peer) Close() error {
	return p.conn.Close()
}

func (p *Peer) fail(err error) {
	p.mu.Lock()
	if p.failure != nil {
		p.mu.Unlock()
		return
	}
	p.failure = err
	p.mu.Unlock()

	p.logger.Warn("dropping peer", "addr", p.Addr(), "error", err)
	_ = p.conn.Close()
}

func (p *Peer) err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failure
}
