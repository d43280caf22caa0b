// Package runtime holds the shared directories and the broadcast engine.
// It carries no protocol or persistence logic.
package runtime

import (
	"sync"

	"chat-relay/domain"
	"chat-relay/errors"
)

// Registry is the authoritative map from display name to live session.
// At most one session may hold a name at any time; the name frees up the
// instant its holder unregisters.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*domain.Session)}
}

// Register adopts a name for a session, atomically checking uniqueness.
// Exactly one of two concurrent attempts on the same name wins.
func (r *Registry) Register(name string, session *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.sessions[name]; taken {
		return errors.ErrNameTaken
	}
	r.sessions[name] = session
	return nil
}

func (r *Registry) Lookup(name string) (*domain.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[name]
	return session, ok
}

// SetRoom stores the current room of a registered name.
func (r *Registry) SetRoom(name, room string) error {
	r.mu.RLock()
	session, ok := r.sessions[name]
	r.mu.RUnlock()

	if !ok {
		return errors.ErrUnknownIdentity
	}
	if !session.EnterRoom(room) {
		return errors.ErrNotNamed
	}
	return nil
}

// Unregister frees a name, but only while the caller's session still
// holds it. A stale connection can never evict a newer holder of the
// same name.
func (r *Registry) Unregister(name string, session *domain.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.sessions[name]; ok && current == session {
		delete(r.sessions, name)
	}
}

// Snapshot copies the set of live sessions for fan-out. Iterating the
// map directly outside the lock is never allowed.
func (r *Registry) Snapshot() []*domain.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*domain.Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		all = append(all, session)
	}
	return all
}
