package runtime

import (
	"fmt"
	"log/slog"

	"chat-relay/domain"
	"chat-relay/errors"
)

// Broadcaster resolves rooms and names to live sessions and pushes one
// frame to each. Delivery is best-effort and independent per recipient:
// a full or dead sink costs that recipient the frame and nothing else,
// and the sender is never told.
type Broadcaster struct {
	log      *slog.Logger
	registry *Registry
	rooms    *Rooms
}

func NewBroadcaster(log *slog.Logger, registry *Registry, rooms *Rooms) *Broadcaster {
	return &Broadcaster{log: log, registry: registry, rooms: rooms}
}

// ToRoom fans a frame out to a snapshot of the room's members. Members
// whose session meanwhile moved to another room are silently skipped;
// the snapshot is only for fan-out, never for invariant decisions.
func (b *Broadcaster) ToRoom(room string, frame []byte, exclude *domain.Session) {
	for _, name := range b.rooms.MembersOf(room) {
		session, ok := b.registry.Lookup(name)
		if !ok {
			continue
		}
		if session == exclude {
			continue
		}
		if session.Room() != room {
			continue
		}
		b.push(session, frame)
	}
}

// ToAll delivers a frame to every live session. Used for room-list
// refreshes only.
func (b *Broadcaster) ToAll(frame []byte, exclude *domain.Session) {
	for _, session := range b.registry.Snapshot() {
		if session == exclude {
			continue
		}
		b.push(session, frame)
	}
}

// Direct delivers to exactly one name, bypassing room membership.
func (b *Broadcaster) Direct(to string, frame []byte) error {
	session, ok := b.registry.Lookup(to)
	if !ok {
		return errors.ErrUserNotFound
	}
	b.push(session, frame)
	return nil
}

func (b *Broadcaster) push(session *domain.Session, frame []byte) {
	if !session.Sink().Push(frame) {
		b.log.Debug(fmt.Sprintf("Outbox full, dropping frame for %s", session.Name()))
	}
}
