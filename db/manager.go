package db

import (
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

// SessionManager holds one session per database path so a single process can
// front multiple database directories. Lookups are lock-free; the slow open
// path is deduplicated by Compute.
type SessionManager struct {
	driver   Driver
	sessions *xsync.MapOf[string, *Session]
}

// NewSessionManager creates a session manager for the given driver.
func NewSessionManager(driver Driver) *SessionManager {
	return &SessionManager{
		driver:   driver,
		sessions: xsync.NewMapOf[string, *Session](),
	}
}

// Get returns the session for a database path, opening it on first use.
func (m *SessionManager) Get(path string, readOnly bool) (*Session, error) {
	if s, ok := m.sessions.Load(path); ok {
		return s, nil
	}

	var openErr error
	s, _ := m.sessions.Compute(path, func(existing *Session, loaded bool) (*Session, bool) {
		if loaded {
			return existing, false
		}
		created, err := NewSession(m.driver, path, readOnly)
		if err != nil {
			openErr = err
			return nil, true // delete the placeholder
		}
		return created, false
	})
	if openErr != nil {
		return nil, openErr
	}
	return s, nil
}

// Drop removes a session from the registry. The handle is dropped with it;
// there is nothing to close.
func (m *SessionManager) Drop(path string) {
	if _, ok := m.sessions.LoadAndDelete(path); ok {
		log.Info().Str("path", path).Msg("Database session dropped")
	}
}

// Shutdown drops every session.
func (m *SessionManager) Shutdown() {
	m.sessions.Range(func(path string, _ *Session) bool {
		m.sessions.Delete(path)
		return true
	})
	log.Info().Msg("All database sessions dropped")
}
