package push

import (
	"context"
	"net"
	"time"
)

// Default configuration values for TCP transports.
const (
	// defaultReadBufferSize is the size of the chunk buffer used by the read loop.
	defaultReadBufferSize = 4096
	// defaultDialTimeout bounds a single TCP dial.
	defaultDialTimeout = 10 * time.Second
)

// TCPConfig configures TCP transports.
type TCPConfig struct {
	// DialTimeout bounds a single dial. Zero selects 10s.
	DialTimeout time.Duration
	// ReadBufferSize is the largest chunk handed to the data hook. Zero selects 4KB.
	ReadBufferSize int
	// IdleTimeout, if set, fails the connection when nothing arrives for
	// that long. Heartbeats keep it alive.
	IdleTimeout time.Duration
	// WriteTimeout, if set, bounds each write.
	WriteTimeout time.Duration
	Logger       Logger
}

func (cfg TCPConfig) withDefaults() TCPConfig {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = defaultReadBufferSize
	}
	if cfg.Logger == nil {
		cfg.Logger = defaultLogger()
	}
	return cfg
}

// TCPDialer opens TCP transports.
type TCPDialer struct {
	cfg TCPConfig
}

// NewTCPDialer returns a dialer using cfg.
func NewTCPDialer(cfg TCPConfig) *TCPDialer {
	return &TCPDialer{cfg: cfg.withDefaults()}
}

// Dial connects in a new goroutine and reports through done.
func (d *TCPDialer) Dial(ctx context.Context, addr string, done func(Transport, error)) {
	go func() {
		dialer := net.Dialer{Timeout: d.cfg.DialTimeout}
		raw, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			done(nil, err)
			return
		}
		if tcp, ok := raw.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
		}
		done(NewTCPConn(raw, d.cfg), nil)
	}()
}

// NewTCPConn wraps an established connection as a Transport.
func NewTCPConn(raw net.Conn, cfg TCPConfig) *Conn {
	cfg = cfg.withDefaults()
	return newConn(&tcpStream{
		conn:         raw,
		buf:          make([]byte, cfg.ReadBufferSize),
		idleTimeout:  cfg.IdleTimeout,
		writeTimeout: cfg.WriteTimeout,
	}, cfg.Logger)
}

type tcpStream struct {
	conn         net.Conn
	buf          []byte
	idleTimeout  time.Duration
	writeTimeout time.Duration
}

func (s *tcpStream) read() ([]byte, error) {
	if s.idleTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
	}
	n, err := s.conn.Read(s.buf)
	return s.buf[:n], err
}

func (s *tcpStream) write(b []byte) error {
	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	_, err := s.conn.Write(b)
	return err
}

func (s *tcpStream) close() error {
	return s.conn.Close()
}

func (s *tcpStream) remoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}
