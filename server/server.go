// Package server is the TCP front of the relay: an accept loop plus one
// dispatcher goroutine per connection. Connections communicate only
// through the shared directories and the broadcast engine.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"chat-relay/domain"
	"chat-relay/moderation"
	"chat-relay/repositories"
	"chat-relay/runtime"
)

type Options struct {
	Addr string
	// OutboxSize bounds the per-connection outbound queue.
	OutboxSize int
	// HistoryReplay is how many persisted messages a joining client gets.
	HistoryReplay int
	// MaxFileBytes caps a relayed file payload after base64 decoding.
	MaxFileBytes int64
	WriteTimeout time.Duration
}

type Server struct {
	log         *slog.Logger
	opts        Options
	registry    *runtime.Registry
	rooms       *runtime.Rooms
	broadcaster *runtime.Broadcaster
	history     repositories.IHistoryRepository
	// filter is nil when moderation is disabled.
	filter *moderation.Filter
}

func NewServer(log *slog.Logger, opts Options, history repositories.IHistoryRepository, filter *moderation.Filter) *Server {
	registry := runtime.NewRegistry()
	rooms := runtime.NewRooms()
	return &Server{
		log:         log,
		opts:        opts,
		registry:    registry,
		rooms:       rooms,
		broadcaster: runtime.NewBroadcaster(log, registry, rooms),
		history:     history,
		filter:      filter,
	}
}

// Rooms exposes the room directory for read-side consumers (the debug
// inspector).
func (s *Server) Rooms() *runtime.Rooms {
	return s.rooms
}

// Run accepts connections until the context ends. It satisfies
// contract.Worker so the supervisor can restart a crashed accept loop.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.opts.Addr, err)
	}

	stopAccept := context.AfterFunc(ctx, func() {
		_ = listener.Close()
	})
	defer stopAccept()

	s.log.Info("Relay listening", "address", s.opts.Addr)

	var conns sync.WaitGroup
	for {
		conn, err := listener.Accept()
		if err != nil {
			conns.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		conns.Add(1)
		go func() {
			defer conns.Done()
			s.handle(ctx, conn)
		}()
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	outbox := NewOutbox(s.log, conn, s.opts.OutboxSize, s.opts.WriteTimeout)
	session := domain.NewSession(uuid.NewString(), outbox)

	d := &dispatcher{
		log:     s.log,
		server:  s,
		conn:    conn,
		session: session,
		outbox:  outbox,
	}
	d.run(ctx)
}
