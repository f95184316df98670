// Package identity tracks the authenticated user bound to one client
// connection and notifies watchers on login and logout, so per-user live
// state can be rebuilt from zero whenever the identity changes.
package identity

import (
	"sync"

	"github.com/google/uuid"
)

// Identity is the current-user view the live components key their state by.
// The zero value means signed out.
type Identity struct {
	ID        string `json:"id"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

func (i Identity) Zero() bool {
	return i.ID == ""
}

// Session holds one connection's identity. Watchers receive the latest
// identity after every change; intermediate values may be skipped, the most
// recent one always arrives.
type Session struct {
	mu       sync.RWMutex
	current  Identity
	watchers map[string]chan Identity
}

func NewSession() *Session {
	return &Session{watchers: make(map[string]chan Identity)}
}

func (s *Session) Current() Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Set replaces the identity and notifies watchers. Setting the zero value is
// a logout.
func (s *Session) Set(identity Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == identity {
		return
	}
	s.current = identity
	for _, watcher := range s.watchers {
		// Latest-wins: drop a pending value so the channel never blocks.
		select {
		case <-watcher:
		default:
		}
		watcher <- identity
	}
}

// Watch registers a change listener. The returned stop function releases it.
func (s *Session) Watch() (<-chan Identity, func()) {
	token := uuid.NewString()
	watcher := make(chan Identity, 1)
	s.mu.Lock()
	s.watchers[token] = watcher
	s.mu.Unlock()
	return watcher, func() {
		s.mu.Lock()
		delete(s.watchers, token)
		s.mu.Unlock()
	}
}
