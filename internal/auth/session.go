package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gateway "github.com/eugener/radagast/internal"
)

// DefaultSessionTimeout is the idle lifetime of a login session.
const DefaultSessionTimeout = 24 * time.Hour

const sweepInterval = 60 * time.Second

// SessionStore is an in-memory session table with a background sweeper.
type SessionStore struct {
	timeout time.Duration
	logger  *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*gateway.Session
}

// NewSessionStore creates a store with the given timeout; zero uses
// DefaultSessionTimeout.
func NewSessionStore(timeout time.Duration, logger *slog.Logger) *SessionStore {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionStore{
		timeout:  timeout,
		logger:   logger,
		sessions: make(map[string]*gateway.Session),
	}
}

// Create allocates a fresh session with a 256-bit random ID.
func (s *SessionStore) Create(userID, role string) (*gateway.Session, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}
	now := time.Now()
	sess := &gateway.Session{
		ID:        hex.EncodeToString(buf),
		UserID:    userID,
		Role:      role,
		CreatedAt: now,
		ExpiresAt: now.Add(s.timeout),
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return sess, nil
}

// Validate returns the session iff it exists and has not expired.
func (s *SessionStore) Validate(id string) (*gateway.Session, bool) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok || sess.Expired(time.Now()) {
		return nil, false
	}
	out := *sess
	return &out, true
}

// Refresh extends a live session's expiry by the store timeout.
func (s *SessionStore) Refresh(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.Expired(time.Now()) {
		return false
	}
	sess.ExpiresAt = time.Now().Add(s.timeout)
	return true
}

// Delete removes a session (logout).
func (s *SessionStore) Delete(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// Len returns the number of stored sessions, expired included.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Run sweeps expired sessions every minute until ctx is cancelled.
// It implements worker.Worker.
func (s *SessionStore) Run(ctx context.Context) error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.sweep(time.Now()); n > 0 {
				s.logger.LogAttrs(ctx, slog.LevelDebug, "swept expired sessions",
					slog.Int("count", n))
			}
		}
	}
}

func (s *SessionStore) sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}
