package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SessionState is where a session is in its lifecycle.
type SessionState int32

const (
	StateUninitialized SessionState = iota
	StateActive
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session pairs a session id with the one transport serving it.
type Session struct {
	ID        string
	CreatedAt time.Time

	handler http.Handler
	closer  io.Closer

	mu       sync.Mutex
	state    SessionState
	closeErr error
}

// NewSession returns an uninitialized session. handler serves the
// session's HTTP traffic; closer tears down its protocol connection.
func NewSession(id string, handler http.Handler, closer io.Closer) *Session {
	return &Session{ID: id, CreatedAt: time.Now(), handler: handler, closer: closer}
}

// State reports the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) activate() {
	s.mu.Lock()
	if s.state == StateUninitialized {
		s.state = StateActive
	}
	s.mu.Unlock()
}

// Close closes the underlying connection once. Later calls return the
// first result.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return s.closeErr
	}
	s.state = StateClosed
	if s.closer != nil {
		s.closeErr = s.closer.Close()
	}
	return s.closeErr
}

// markClosed records a close that already happened at the transport.
func (s *Session) markClosed() {
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
}

// ServeHTTP forwards to the session's transport.
func (s *Session) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// ErrSessionExists is returned by Add for a duplicate id.
var ErrSessionExists = errors.New("session already exists")

// SessionStore maps session ids to live sessions. It is the only record
// of which sessions exist; insert and delete are its only mutations.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *zap.Logger
}

func NewSessionStore(logger *zap.Logger) *SessionStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionStore{
		sessions: make(map[string]*Session),
		logger:   logger.With(zap.String("component", "sessions")),
	}
}

// Add registers s and marks it active.
func (st *SessionStore) Add(s *Session) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, exists := st.sessions[s.ID]; exists {
		return ErrSessionExists
	}
	st.sessions[s.ID] = s
	s.activate()
	st.logger.Info("session initialized", zap.String("session_id", s.ID))
	return nil
}

// Get returns the live session for id.
func (st *SessionStore) Get(id string) (*Session, bool) {
	if id == "" {
		return nil, false
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	return s, ok
}

// Len reports the number of live sessions.
func (st *SessionStore) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Oldest returns the creation time of the longest-lived session.
func (st *SessionStore) Oldest() (time.Time, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	var oldest time.Time
	for _, s := range st.sessions {
		if oldest.IsZero() || s.CreatedAt.Before(oldest) {
			oldest = s.CreatedAt
		}
	}
	return oldest, !oldest.IsZero()
}

// Remove drops the mapping for id without closing the session. It reports
// whether a mapping existed.
func (st *SessionStore) Remove(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[id]; !ok {
		return false
	}
	delete(st.sessions, id)
	st.logger.Info("session removed", zap.String("session_id", id))
	return true
}

// Close removes and closes the session for id. Closing an unknown or
// already-closed session is a no-op.
func (st *SessionStore) Close(id string) error {
	st.mu.Lock()
	s, ok := st.sessions[id]
	if ok {
		delete(st.sessions, id)
	}
	st.mu.Unlock()
	if !ok {
		return nil
	}
	st.logger.Info("session closed", zap.String("session_id", id))
	return s.Close()
}

// CloseAll closes every live session. Failures are logged and do not stop
// the remaining sessions from closing. It returns how many sessions were
// closed cleanly.
func (st *SessionStore) CloseAll(ctx context.Context) int {
	st.mu.Lock()
	all := make([]*Session, 0, len(st.sessions))
	for id, s := range st.sessions {
		all = append(all, s)
		delete(st.sessions, id)
	}
	st.mu.Unlock()

	if err := ctx.Err(); err != nil {
		st.logger.Warn("closing sessions after shutdown deadline", zap.Error(err))
	}
	closed := 0
	for _, s := range all {
		if err := s.Close(); err != nil {
			st.logger.Error("error closing session", zap.String("session_id", s.ID), zap.Error(err))
			continue
		}
		closed++
	}
	return closed
}
