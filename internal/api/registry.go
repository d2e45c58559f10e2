package api

import (
	"sync"

	perr "github.com/ginjaninja78/payment-import/internal/errors"
	"github.com/ginjaninja78/payment-import/internal/session"
)

// Registry holds the open import sessions of the operator boundary.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*session.Session)}
}

// Add registers a session under its id.
func (r *Registry) Add(s *session.Session) {
	r.mu.Lock()
	r.sessions[s.ID()] = s
	r.mu.Unlock()
}

// Get returns an open session or a NotFound error.
func (r *Registry) Get(id string) (*session.Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, perr.NotFoundf("import session %s not found", id)
	}
	return s, nil
}

// Close closes a session and forgets it. Closing cancels any batch commit
// still running for it.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return perr.NotFoundf("import session %s not found", id)
	}
	s.Close()
	return nil
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll closes every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]*session.Session)
	r.mu.Unlock()
	for _, s := range all {
		s.Close()
	}
}
