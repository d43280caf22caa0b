package server

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// Outbox decouples broadcast fan-out from socket writes: frames are
// queued on a bounded channel and drained by one writer goroutine, so a
// stalled reader can never block the goroutine doing the broadcast.
// When the queue is full the frame is dropped for this recipient only.
type Outbox struct {
	log          *slog.Logger
	conn         net.Conn
	frames       chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
}

func NewOutbox(log *slog.Logger, conn net.Conn, size int, writeTimeout time.Duration) *Outbox {
	o := &Outbox{
		log:          log,
		conn:         conn,
		frames:       make(chan []byte, size),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
	}
	go o.drain()
	return o
}

// Push enqueues one frame. It never blocks; false means the frame was
// dropped because the outbox is full or already closed.
func (o *Outbox) Push(frame []byte) bool {
	select {
	case <-o.done:
		return false
	default:
	}

	select {
	case o.frames <- frame:
		return true
	default:
		return false
	}
}

// Close stops the writer. Frames still queued are discarded.
func (o *Outbox) Close() {
	o.closeOnce.Do(func() {
		close(o.done)
	})
}

func (o *Outbox) drain() {
	for {
		select {
		case <-o.done:
			return
		case frame := <-o.frames:
			if o.writeTimeout > 0 {
				_ = o.conn.SetWriteDeadline(time.Now().Add(o.writeTimeout))
			}
			if _, err := o.conn.Write(frame); err != nil {
				// The read loop will observe the broken socket and run
				// the session cleanup; the writer just stops.
				o.log.Debug(fmt.Sprintf("Outbound write failed: %v", err))
				o.Close()
				return
			}
		}
	}
}
