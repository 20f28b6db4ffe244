package main

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/Zereker/push"
)

// session is the application layer around a push.Client: it subscribes
// once connected, schedules heartbeats at the interval the server asks
// for, and reconnects with backoff. Callbacks run on the client's event
// loop; the heartbeat goroutine only calls thread-safe client methods.
type session struct {
	ctx    context.Context
	client *push.Client
	logger push.Logger
	out    io.Writer

	host string
	port int
	uid  string

	interval   atomic.Int64
	intervalCh chan time.Duration

	backoff  *backoff
	attempt  int
	stopBeat context.CancelFunc
}

func newSession(ctx context.Context, host string, port int, uid string, heartbeat time.Duration, b *backoff, logger push.Logger, out io.Writer) *session {
	s := &session{
		ctx:        ctx,
		logger:     logger,
		out:        out,
		host:       host,
		port:       port,
		uid:        uid,
		intervalCh: make(chan time.Duration, 1),
		backoff:    b,
	}
	s.interval.Store(int64(heartbeat))
	return s
}

func (s *session) options() []push.Option {
	return []push.Option{
		push.OnConnectedOption(s.onConnected),
		push.OnMessageOption(s.onMessage),
		push.OnExceptionOption(s.onException),
		push.OnClosedOption(s.onClosed),
	}
}

func (s *session) start() {
	s.client.Connect(s.host, s.port)
}

func (s *session) onConnected() {
	s.attempt = 0
	s.logger.Info("connected", "host", s.host, "port", s.port, "uid", s.uid)

	if err := s.client.Subscribe(s.uid, s.logFailure("subscribe")); err != nil {
		s.logger.Warn("subscribe rejected", "error", err)
	}
	s.beat()

	ctx, cancel := context.WithCancel(s.ctx)
	s.stopBeat = cancel
	go s.heartbeatLoop(ctx)
}

func (s *session) onMessage(signal push.Signal, text string) {
	if signal == push.SignalPing {
		d, err := push.ParseInterval(text)
		if err != nil {
			s.logger.Warn("ignoring heartbeat reply", "error", err)
			return
		}
		if d > 0 && d != s.currentInterval() {
			s.logger.Debug("heartbeat interval changed", "interval", d)
			s.interval.Store(int64(d))
			select {
			case s.intervalCh <- d:
			default:
			}
		}
		return
	}
	fmt.Fprintf(s.out, "[%s] %s\n", signal, text)
}

func (s *session) onException(err error) {
	s.logger.Error("connection failed", "error", err)
	s.reconnect()
}

func (s *session) onClosed(err error) {
	if err != nil {
		s.logger.Warn("connection lost", "error", err)
	} else {
		s.logger.Info("connection closed")
	}
	s.reconnect()
}

func (s *session) reconnect() {
	if s.stopBeat != nil {
		s.stopBeat()
		s.stopBeat = nil
	}
	if s.ctx.Err() != nil {
		return
	}

	s.attempt++
	delay := s.backoff.next(s.attempt)
	s.logger.Info("reconnecting", "attempt", s.attempt, "delay", delay)
	time.AfterFunc(delay, func() {
		if s.ctx.Err() == nil {
			s.client.Connect(s.host, s.port)
		}
	})
}

func (s *session) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.currentInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-s.intervalCh:
			ticker.Reset(d)
		case <-ticker.C:
			s.beat()
		}
	}
}

func (s *session) beat() {
	if err := s.client.Heartbeat(s.currentInterval(), s.logFailure("heartbeat")); err != nil {
		s.logger.Debug("heartbeat skipped", "error", err)
	}
}

func (s *session) currentInterval() time.Duration {
	return time.Duration(s.interval.Load())
}

func (s *session) logFailure(op string) func(error) {
	return func(err error) {
		if err != nil {
			s.logger.Warn(op+" failed", "error", err)
		}
	}
}
