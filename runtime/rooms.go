package runtime

import (
	"sort"
	"sync"

	"github.com/samber/lo"

	"chat-relay/domain"
)

type memberSet map[string]struct{}

// Rooms is the authoritative map from room name to member set. A room
// exists exactly while it has members, except the lobby which is pinned
// from construction and never removed.
type Rooms struct {
	mu      sync.Mutex
	lobby   string
	members map[string]memberSet
}

func NewRooms() *Rooms {
	r := &Rooms{lobby: domain.DefaultRoom, members: make(map[string]memberSet)}
	r.members[r.lobby] = make(memberSet)
	return r
}

// Join inserts a name into a room, creating the room on first member.
func (r *Rooms) Join(name, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[room]; !ok {
		r.members[room] = make(memberSet)
	}
	r.members[room][name] = struct{}{}
}

// Leave removes a name from a room. The decision to delete the emptied
// room happens under the same lock as the removal.
func (r *Rooms) Leave(name, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.members[room]
	if !ok {
		return
	}
	delete(set, name)
	if len(set) == 0 && room != r.lobby {
		delete(r.members, room)
	}
}

// MembersOf returns a sorted snapshot of a room's members, empty slice
// for an unknown room.
func (r *Rooms) MembersOf(room string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.members[room]
	if !ok {
		return []string{}
	}
	names := lo.Keys(set)
	sort.Strings(names)
	return names
}

// List returns the sorted names of every room with members plus the
// lobby.
func (r *Rooms) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms := lo.Keys(r.members)
	sort.Strings(rooms)
	return rooms
}
