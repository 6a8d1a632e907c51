package basepay

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultSessionTTL is how long a checkout session stays resolvable.
// Expiry of the session never deletes the underlying order; a stale
// pending order ages out separately via the sweeper.
const DefaultSessionTTL = time.Hour

// SessionStore is an in-memory, TTL'd binding from opaque tokens to
// reservation details. Bindings are never mutated after Put; expiry is
// lazy, checked on read.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]Session
	expiry   map[string]time.Time
	ttl      time.Duration
	nowFunc  func() time.Time
}

// NewSessionStore creates a session store with the given TTL.
// A non-positive TTL falls back to DefaultSessionTTL.
func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{
		sessions: make(map[string]Session),
		expiry:   make(map[string]time.Time),
		ttl:      ttl,
		nowFunc:  time.Now,
	}
}

// Put stores the binding under a fresh opaque token and returns the token.
func (s *SessionStore) Put(sess Session) string {
	token := newSessionToken()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[token] = sess
	s.expiry[token] = s.nowFunc().Add(s.ttl)
	s.cleanupExpiredLocked()
	return token
}

// Get resolves a token. A read after the TTL returns ErrSessionExpired.
func (s *SessionStore) Get(token string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exp, ok := s.expiry[token]
	if !ok {
		return Session{}, ErrSessionExpired
	}
	if s.nowFunc().After(exp) {
		delete(s.sessions, token)
		delete(s.expiry, token)
		return Session{}, ErrSessionExpired
	}
	return s.sessions[token], nil
}

// cleanupExpiredLocked removes expired entries. Must be called with lock held.
func (s *SessionStore) cleanupExpiredLocked() {
	now := s.nowFunc()
	for token, exp := range s.expiry {
		if now.After(exp) {
			delete(s.sessions, token)
			delete(s.expiry, token)
		}
	}
}

func newSessionToken() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}
