package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Zereker/push"
)

// heartbeatInterval is what the daemon asks clients to use.
const heartbeatInterval = 15 * time.Second

type Server struct {
	sync.RWMutex
	subscribers map[string]*push.Peer
}

func newHandler() *Server {
	return &Server{subscribers: make(map[string]*push.Peer)}
}

func (s *Server) ServePeer(peer *push.Peer) {
	var uid string

	err := peer.Run(context.Background(), func(f push.Frame) error {
		switch f.Signal() {
		case push.SignalSub:
			id, err := push.ParseUID(f.Text())
			if err != nil {
				return err
			}
			uid = id
			s.addSubscriber(uid, peer)
			return peer.Push(push.SignalPush, fmt.Sprintf("welcome %s", uid), nil)
		case push.SignalPing:
			// Echo the interval we want, which may differ from the client's.
			return peer.Push(push.SignalPing, push.HeartbeatPayload(heartbeatInterval), nil)
		default:
			slog.Warn("unexpected signal", "signal", f.Signal(), "addr", peer.Addr())
			return nil
		}
	})

	if uid != "" {
		s.deleteSubscriber(uid)
	}
	slog.Info("peer gone", "addr", peer.Addr(), "uid", uid, "error", err)
}

func (s *Server) addSubscriber(uid string, peer *push.Peer) {
	s.Lock()
	defer s.Unlock()

	slog.Info("add subscriber", "uid", uid, "addr", peer.Addr())
	s.subscribers[uid] = peer
}

func (s *Server) deleteSubscriber(uid string) {
	s.Lock()
	defer s.Unlock()

	delete(s.subscribers, uid)
}

func (s *Server) broadcast(text string) {
	s.RLock()
	defer s.RUnlock()

	for uid, peer := range s.subscribers {
		if err := peer.Push(push.SignalPush, text, nil); err != nil {
			slog.Warn("push failed", "uid", uid, "error", err)
		}
	}
}

func main() {
	addr, err := net.ResolveTCPAddr("tcp", "127.0.0.1:12345")
	if err != nil {
		panic(err)
	}

	server, err := push.NewServer(addr, push.ServerIdleTimeoutOption(3*heartbeatInterval))
	if err != nil {
		slog.Error("failed to create server", "error", err)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handler := newHandler()
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				handler.broadcast("tick " + t.Format(time.RFC3339))
			}
		}
	}()

	slog.Info("pushd start", "addr", addr.String())
	if err := server.Serve(ctx, handler); err != nil && err != context.Canceled {
		slog.Error("server error", "error", err)
	}
}
