// Package registry tracks which identities currently hold live push sessions.
package registry

import (
	"errors"
	"strings"
	"sync"
	"time"
)

var (
	// ErrIdentityRequired indicates Register was called without an identity.
	ErrIdentityRequired = errors.New("identity id is required")
	// ErrSessionRequired indicates Register was called without a session.
	ErrSessionRequired = errors.New("session is required")
)

// Session is one live transport connection that can receive pushes.
type Session interface {
	// ID is unique per connection for the life of the process.
	ID() string
	// Send writes one message to the peer. Implementations bound the write
	// with their own deadline and are safe for concurrent use.
	Send(message any) error
	// LastSeen reports the last time the peer proved it was alive.
	LastSeen() time.Time
	Close() error
}

// Registry maps identities to their authenticated sessions. A reverse index
// from session id to identity keeps Unregister independent of how many
// identities are connected.
type Registry struct {
	mu         sync.RWMutex
	byIdentity map[string][]Session
	bySession  map[string]string
	onChange   func(sessions int, identities int)
}

// Option configures a Registry.
type Option func(*Registry)

// WithChangeHook registers fn to observe size changes. fn runs with the
// registry lock held and must not call back into the registry.
func WithChangeHook(fn func(sessions int, identities int)) Option {
	return func(r *Registry) { r.onChange = fn }
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		byIdentity: make(map[string][]Session),
		bySession:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register joins session to identityID. Registering a session that is already
// joined to another identity moves it.
func (r *Registry) Register(identityID string, session Session) error {
	identityID = strings.TrimSpace(identityID)
	if identityID == "" {
		return ErrIdentityRequired
	}
	if session == nil || session.ID() == "" {
		return ErrSessionRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.bySession[session.ID()]; ok {
		if current == identityID {
			return nil
		}
		r.removeLocked(current, session.ID())
	}
	r.byIdentity[identityID] = append(r.byIdentity[identityID], session)
	r.bySession[session.ID()] = identityID
	r.notifyLocked()
	return nil
}

// Unregister removes session and reports whether it was registered.
func (r *Registry) Unregister(session Session) bool {
	if session == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	identityID, ok := r.bySession[session.ID()]
	if !ok {
		return false
	}
	r.removeLocked(identityID, session.ID())
	r.notifyLocked()
	return true
}

// SessionsFor returns a snapshot of identityID's sessions in registration
// order. The slice is owned by the caller.
func (r *Registry) SessionsFor(identityID string) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := r.byIdentity[strings.TrimSpace(identityID)]
	if len(sessions) == 0 {
		return nil
	}
	snapshot := make([]Session, len(sessions))
	copy(snapshot, sessions)
	return snapshot
}

// IdentityOf returns the identity session is joined to.
func (r *Registry) IdentityOf(session Session) (string, bool) {
	if session == nil {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	identityID, ok := r.bySession[session.ID()]
	return identityID, ok
}

// All returns a snapshot of every registered session.
func (r *Registry) All() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]Session, 0, len(r.bySession))
	for _, sessions := range r.byIdentity {
		all = append(all, sessions...)
	}
	return all
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySession)
}

// Identities returns the number of identities with at least one session.
func (r *Registry) Identities() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byIdentity)
}

// Prune unregisters every session whose LastSeen is older than maxIdle and
// returns them so the caller can close their transports outside the lock.
func (r *Registry) Prune(now time.Time, maxIdle time.Duration) []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var stale []Session
	for identityID, sessions := range r.byIdentity {
		for _, session := range sessions {
			if now.Sub(session.LastSeen()) > maxIdle {
				stale = append(stale, session)
				r.removeLocked(identityID, session.ID())
			}
		}
	}
	if len(stale) > 0 {
		r.notifyLocked()
	}
	return stale
}

func (r *Registry) removeLocked(identityID string, sessionID string) {
	delete(r.bySession, sessionID)
	sessions := r.byIdentity[identityID]
	for i, session := range sessions {
		if session.ID() == sessionID {
			kept := make([]Session, 0, len(sessions)-1)
			kept = append(kept, sessions[:i]...)
			kept = append(kept, sessions[i+1:]...)
			sessions = kept
			break
		}
	}
	if len(sessions) == 0 {
		delete(r.byIdentity, identityID)
		return
	}
	r.byIdentity[identityID] = sessions
}

func (r *Registry) notifyLocked() {
	if r.onChange != nil {
		r.onChange(len(r.bySession), len(r.byIdentity))
	}
}
