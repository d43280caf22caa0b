package runtime

import (
	"testing"

	"github.com/stretchr/testify/require"

	"chat-relay/domain"
)

func TestRooms_Lobby_Always_Listed(t *testing.T) {
	req := require.New(t)
	rooms := NewRooms()

	// Given a fresh directory with nobody connected
	// Then the lobby exists with no members
	req.Equal([]string{domain.DefaultRoom}, rooms.List())
	req.Empty(rooms.MembersOf(domain.DefaultRoom))
}

func TestRooms_Join_Creates_Room_Implicitly(t *testing.T) {
	req := require.New(t)
	rooms := NewRooms()

	// When the first member joins an unknown room
	rooms.Join("alice", "general")

	// Then the room exists with exactly that member
	req.Equal([]string{"alice"}, rooms.MembersOf("general"))
	req.Equal([]string{domain.DefaultRoom, "general"}, rooms.List())
}

func TestRooms_Leave_Deletes_Empty_Room(t *testing.T) {
	req := require.New(t)
	rooms := NewRooms()
	rooms.Join("alice", "general")

	// When the last member leaves
	rooms.Leave("alice", "general")

	// Then the room is gone, the lobby is not
	req.Equal([]string{domain.DefaultRoom}, rooms.List())
	req.Empty(rooms.MembersOf("general"))
}

func TestRooms_Leave_Never_Deletes_Lobby(t *testing.T) {
	req := require.New(t)
	rooms := NewRooms()
	rooms.Join("alice", domain.DefaultRoom)

	// When the lobby empties out
	rooms.Leave("alice", domain.DefaultRoom)

	// Then it is still listed
	req.Equal([]string{domain.DefaultRoom}, rooms.List())
}

func TestRooms_MembersOf_Sorted(t *testing.T) {
	req := require.New(t)
	rooms := NewRooms()
	rooms.Join("carol", "general")
	rooms.Join("alice", "general")
	rooms.Join("bob", "general")

	req.Equal([]string{"alice", "bob", "carol"}, rooms.MembersOf("general"))
}

func TestRooms_Membership_Tracks_Last_Join(t *testing.T) {
	req := require.New(t)
	rooms := NewRooms()

	// Given alice moved from general to random
	rooms.Join("alice", "general")
	rooms.Leave("alice", "general")
	rooms.Join("alice", "random")

	// Then only the last joined room holds her
	req.Empty(rooms.MembersOf("general"))
	req.Equal([]string{"alice"}, rooms.MembersOf("random"))
}
