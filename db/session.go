package db

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// ReconnectError indicates the handle could not be recreated; the session is
// likely unrecoverable without a process restart.
type ReconnectError struct {
	Path string
	Err  error
}

func (e *ReconnectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to reconnect to database at %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("failed to reconnect to database at %s: new connection failed validation", e.Path)
}

func (e *ReconnectError) Unwrap() error { return e.Err }

// Session owns the engine handle slot for one database path. The handle is
// replaced wholesale on invalidation, never mutated; the slot is guarded so
// a reconnect cannot race a reader of the slot. Statement execution itself
// is serialized by the coordinator above this layer.
type Session struct {
	mu       sync.Mutex
	driver   Driver
	monitor  *Monitor
	path     string
	readOnly bool
	conn     Conn
}

// NewSession opens a connection to the database at path and validates it.
func NewSession(driver Driver, path string, readOnly bool) (*Session, error) {
	s := &Session{
		driver:   driver,
		monitor:  NewMonitor(driver),
		path:     path,
		readOnly: readOnly,
	}

	conn, err := driver.Open(path, readOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", path, err)
	}
	if !s.monitor.Valid(context.Background(), conn) {
		return nil, &ReconnectError{Path: path}
	}

	s.conn = conn
	log.Info().Str("path", path).Bool("read_only", readOnly).Msg("Database session opened")
	return s, nil
}

// Conn returns the current handle.
func (s *Session) Conn() Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Path returns the database path this session fronts.
func (s *Session) Path() string { return s.path }

// ReadOnly reports whether the session was opened read-only.
func (s *Session) ReadOnly() bool { return s.readOnly }

// Valid runs the health canary against the current handle.
func (s *Session) Valid(ctx context.Context) bool {
	return s.monitor.Valid(ctx, s.Conn())
}

// Reconnect discards the current handle and creates a fresh one. The old
// handle is dropped before the replacement is opened - the engine exposes no
// explicit close. The new handle must pass health validation.
func (s *Session) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log.Warn().Str("path", s.path).Msg("Discarding engine handle and reconnecting")
	s.conn = nil

	conn, err := s.driver.Open(s.path, s.readOnly)
	if err != nil {
		return &ReconnectError{Path: s.path, Err: err}
	}
	if !s.monitor.Valid(ctx, conn) {
		return &ReconnectError{Path: s.path}
	}

	s.conn = conn
	log.Info().Str("path", s.path).Msg("Engine handle recreated")
	return nil
}

// EnsureValid health-checks the current handle and reconnects if the check
// fails. Used by the retry path before re-attempting a statement.
func (s *Session) EnsureValid(ctx context.Context) error {
	if s.Valid(ctx) {
		return nil
	}
	return s.Reconnect(ctx)
}
