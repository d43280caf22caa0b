package domain

import (
	"sync"

	"chat-relay/contract"
)

// State tracks where a connection is in its lifecycle.
// A session can only move forward: Unnamed -> Named -> InRoom, with
// Closed reachable from anywhere. InRoom without a name is unrepresentable
// because EnterRoom refuses the transition.
type State int

const (
	StateUnnamed State = iota
	StateNamed
	StateInRoom
	StateClosed
)

// Session is the server-side state of one live connection.
// Its dispatcher goroutine is the only writer; the broadcast engine
// reads Name/Room/Sink concurrently, hence the mutex.
type Session struct {
	ConnID string

	mu    sync.Mutex
	state State
	name  string
	room  string
	sink  contract.FrameSink
}

func NewSession(connID string, sink contract.FrameSink) *Session {
	return &Session{ConnID: connID, state: StateUnnamed, sink: sink}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Room returns the current room, empty until the first successful join.
func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

func (s *Session) Sink() contract.FrameSink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sink
}

// Adopt moves an unnamed session to Named. It reports false if the
// session already carries a name or is closed.
func (s *Session) Adopt(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateUnnamed {
		return false
	}
	s.state = StateNamed
	s.name = name
	return true
}

// EnterRoom records the new current room. Only named sessions may enter
// a room.
func (s *Session) EnterRoom(room string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateNamed && s.state != StateInRoom {
		return false
	}
	s.state = StateInRoom
	s.room = room
	return true
}

// Close marks the session terminal. Later Push attempts through the
// stored sink are the sink's problem, not the session's.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateClosed
	s.room = ""
}
