package push

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"
)

// Handler serves one accepted peer. ServePeer owns the peer and should
// return once it is done with it.
type Handler interface {
	ServePeer(peer *Peer)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(peer *Peer)

// ServePeer calls f(peer).
func (f HandlerFunc) ServePeer(peer *Peer) { f(peer) }

// Server accepts TCP connections speaking the push framing and hands each
// one to a Handler as a Peer. It is the remote end of a Client.
type Server struct {
	listener        *net.TCPListener
	logger          Logger
	shutdownTimeout time.Duration
	maxBodyLength   uint32
	idleTimeout     time.Duration

	mu       sync.Mutex
	shutdown bool
	peers    map[*Peer]struct{}
	handlers sync.WaitGroup

	closeOnce   sync.Once
	shutdownNow chan struct{} // closed by Close to skip the shutdown timeout
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// ServerLoggerOption sets the logger for the server and its peers.
func ServerLoggerOption(logger Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// ServerShutdownTimeoutOption sets how long the server keeps accepting after
// its context is canceled. Default is 0 (immediate shutdown).
func ServerShutdownTimeoutOption(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.shutdownTimeout = timeout
	}
}

// ServerMaxBodyLengthOption bounds the frame bodies accepted from peers.
func ServerMaxBodyLengthOption(size uint32) ServerOption {
	return func(s *Server) {
		s.maxBodyLength = size
	}
}

// ServerIdleTimeoutOption drops peers that stay silent for longer than timeout.
func ServerIdleTimeoutOption(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.idleTimeout = timeout
	}
}

// NewServer creates a server bound to addr.
func NewServer(addr *net.TCPAddr, opts ...ServerOption) (*Server, error) {
	listener, err := net.ListenTCP(addr.Network(), addr)
	if err != nil {
		return nil, err
	}

	s := &Server{
		listener:    listener,
		logger:      slog.Default(),
		peers:       make(map[*Peer]struct{}),
		shutdownNow: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Serve accepts connections until ctx is canceled or Close is called, then
// closes every live peer and waits for their handlers to return.
func (s *Server) Serve(ctx context.Context, handler Handler) error {
	s.logger.Info("push server started", "addr", s.listener.Addr())
	defer s.closePeers()

	stop := context.AfterFunc(ctx, s.stopAccepting)
	defer stop()

	for {
		conn, err := s.listener.AcceptTCP()
		if err != nil {
			if s.isShutdown() {
				s.logger.Info("push server stopped", "addr", s.listener.Addr())
				return ctx.Err()
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.logger.Error("accept error", "error", err)
			return err
		}

		s.track(conn, handler)
	}
}

// stopAccepting runs once ctx is canceled. It honors the shutdown timeout
// unless Close cuts it short, then unblocks Accept.
func (s *Server) stopAccepting() {
	if s.shutdownTimeout > 0 {
		s.logger.Info("graceful shutdown initiated", "timeout", s.shutdownTimeout)
		timer := time.NewTimer(s.shutdownTimeout)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-s.shutdownNow:
			s.logger.Debug("shutdown timeout bypassed via Close()")
		}
	}

	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()
	_ = s.listener.SetDeadline(time.Now())
}

func (s *Server) track(conn *net.TCPConn, handler Handler) {
	s.logger.Debug("accepted connection", "remote_addr", conn.RemoteAddr())
	_ = conn.SetNoDelay(true)

	peer := NewPeer(conn, PeerConfig{
		MaxBodyLength: s.maxBodyLength,
		IdleTimeout:   s.idleTimeout,
		Logger:        s.logger,
	})

	s.mu.Lock()
	s.peers[peer] = struct{}{}
	s.mu.Unlock()

	s.handlers.Add(1)
	go func() {
		defer s.handlers.Done()
		defer s.forget(peer)
		handler.ServePeer(peer)
	}()
}

func (s *Server) forget(peer *Peer) {
	s.mu.Lock()
	delete(s.peers, peer)
	s.mu.Unlock()
}

func (s *Server) closePeers() {
	s.mu.Lock()
	live := make([]*Peer, 0, len(s.peers))
	for p := range s.peers {
		live = append(live, p)
	}
	s.mu.Unlock()

	for _, p := range live {
		_ = p.Close()
	}
	s.handlers.Wait()
}

func (s *Server) isShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

// Peers returns the number of peers whose handlers are still running.
func (s *Server) Peers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// Close stops accepting and skips any remaining shutdown timeout.
// Serve then closes the live peers before it returns.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	s.closeOnce.Do(func() { close(s.shutdownNow) })
	return s.listener.Close()
}

// Addr returns the listener's network address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
