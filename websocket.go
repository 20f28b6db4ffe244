package push

import (
	"context"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// WebSocketConfig configures WebSocket transports.
type WebSocketConfig struct {
	// Scheme is "ws" or "wss". Empty selects "ws".
	Scheme string
	// Path is the request path of the push endpoint, e.g. "/push".
	Path string
	// HandshakeTimeout bounds the opening handshake. Zero selects 10s.
	HandshakeTimeout time.Duration
	// WriteTimeout, if set, bounds each write.
	WriteTimeout time.Duration
	Logger       Logger
}

// WebSocketDialer opens transports that carry the byte stream inside binary
// WebSocket messages. Message boundaries carry no meaning: a frame may span
// several messages and one message may hold several frames.
type WebSocketDialer struct {
	cfg    WebSocketConfig
	dialer *websocket.Dialer
}

// NewWebSocketDialer returns a dialer using cfg.
func NewWebSocketDialer(cfg WebSocketConfig) *WebSocketDialer {
	if cfg.Scheme == "" {
		cfg.Scheme = "ws"
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultDialTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = defaultLogger()
	}
	return &WebSocketDialer{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
}

// URL returns the endpoint dialed for addr.
func (d *WebSocketDialer) URL(addr string) string {
	u := url.URL{Scheme: d.cfg.Scheme, Host: addr, Path: d.cfg.Path}
	return u.String()
}

// Dial performs the handshake in a new goroutine and reports through done.
func (d *WebSocketDialer) Dial(ctx context.Context, addr string, done func(Transport, error)) {
	go func() {
		ws, resp, err := d.dialer.DialContext(ctx, d.URL(addr), nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			done(nil, errors.Wrap(err, "websocket handshake"))
			return
		}
		done(NewWebSocketConn(ws, d.cfg), nil)
	}()
}

// NewWebSocketConn wraps an established WebSocket as a Transport.
func NewWebSocketConn(ws *websocket.Conn, cfg WebSocketConfig) *Conn {
	return newConn(&wsStream{conn: ws, writeTimeout: cfg.WriteTimeout}, cfg.Logger)
}

type wsStream struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (s *wsStream) read() ([]byte, error) {
	_, data, err := s.conn.ReadMessage()
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil, io.EOF
	}
	return data, err
}

func (s *wsStream) write(b []byte) error {
	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, b)
}

func (s *wsStream) close() error {
	return s.conn.Close()
}

func (s *wsStream) remoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}
