package coordinator

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/burrowdb/burrow/db"
)

// ErrorKind tags a structured error so callers never need to inspect Go
// error types.
type ErrorKind string

const (
	KindUnsupportedPattern       ErrorKind = "unsupported_pattern"
	KindReadOnlyViolation        ErrorKind = "read_only_violation"
	KindLockTimeout              ErrorKind = "lock_timeout"
	KindConnectionRecoveryFailed ErrorKind = "connection_recovery_failed"
	KindStatementError           ErrorKind = "statement_error"
	KindAllStatementsFailed      ErrorKind = "all_statements_failed"
)

// StructuredError is the only error shape that leaves the Coordinator.
type StructuredError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Line    int       `json:"line,omitempty"`
	Offset  int       `json:"offset,omitempty"`
}

func (e *StructuredError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// UnsupportedPatternError short-circuits statements the engine is known to
// reject, before the engine is ever contacted.
type UnsupportedPatternError struct {
	Reason string
}

func (e *UnsupportedPatternError) Error() string {
	return fmt.Sprintf("unsupported statement pattern: %s", e.Reason)
}

// ReadOnlyViolationError rejects mutating statements under read-only mode.
type ReadOnlyViolationError struct{}

func (e *ReadOnlyViolationError) Error() string {
	return "mutating statements are not allowed in read-only mode"
}

// LockTimeoutError reports a failed write lock acquisition with the current
// holder and an estimate of how long it may remain live.
type LockTimeoutError struct {
	Holder    *LockRecord
	Remaining time.Duration
}

func (e *LockTimeoutError) Error() string {
	if e.Holder == nil {
		return "timed out waiting for write lock"
	}
	return fmt.Sprintf("timed out waiting for write lock held by agent %s (pid %d), estimated %s remaining",
		e.Holder.AgentID, e.Holder.ProcessID, e.Remaining.Round(time.Millisecond))
}

// ConnectionRecoveryFailedError is returned when retries for a
// connection-class failure are exhausted. The in-process handle may be
// unrecoverable at this point.
type ConnectionRecoveryFailedError struct {
	Attempts int
	LastErr  error
}

func (e *ConnectionRecoveryFailedError) Error() string {
	return fmt.Sprintf("connection recovery failed after %d attempts (last error: %v); restart the process to recover",
		e.Attempts, e.LastErr)
}

func (e *ConnectionRecoveryFailedError) Unwrap() error { return e.LastErr }

// StatementFailure records one failed sub-statement in the fallback path.
type StatementFailure struct {
	Index int
	Err   error
}

// AllStatementsFailedError is raised when every statement of a fallback
// split fails.
type AllStatementsFailedError struct {
	Failures []StatementFailure
}

func (e *AllStatementsFailedError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("statement %d: %v", f.Index, f.Err)
	}
	return "all statements failed: " + strings.Join(parts, "; ")
}

// Engine error messages carry a position like "(line: 3, offset: 10)".
var linePositionPattern = regexp.MustCompile(`(?i)\(line:?\s*(\d+),?\s*offset:?\s*(\d+)\)`)

// Translate converts any failure into the structured error contract. No raw
// unclassified error may escape the Coordinator; anything unrecognized is
// reported as a terminal statement error.
func Translate(err error) *StructuredError {
	if err == nil {
		return nil
	}

	var structured *StructuredError
	if errors.As(err, &structured) {
		return structured
	}

	var unsupported *UnsupportedPatternError
	if errors.As(err, &unsupported) {
		return &StructuredError{Kind: KindUnsupportedPattern, Message: unsupported.Error()}
	}

	var readOnly *ReadOnlyViolationError
	if errors.As(err, &readOnly) {
		return &StructuredError{Kind: KindReadOnlyViolation, Message: readOnly.Error()}
	}

	var lockTimeout *LockTimeoutError
	if errors.As(err, &lockTimeout) {
		return &StructuredError{Kind: KindLockTimeout, Message: lockTimeout.Error()}
	}

	var recovery *ConnectionRecoveryFailedError
	if errors.As(err, &recovery) {
		return &StructuredError{Kind: KindConnectionRecoveryFailed, Message: recovery.Error()}
	}

	var reconnect *db.ReconnectError
	if errors.As(err, &reconnect) {
		return &StructuredError{Kind: KindConnectionRecoveryFailed, Message: reconnect.Error()}
	}

	var allFailed *AllStatementsFailedError
	if errors.As(err, &allFailed) {
		return &StructuredError{Kind: KindAllStatementsFailed, Message: allFailed.Error()}
	}

	out := &StructuredError{Kind: KindStatementError, Message: err.Error()}
	if m := linePositionPattern.FindStringSubmatch(err.Error()); m != nil {
		out.Line, _ = strconv.Atoi(m[1])
		out.Offset, _ = strconv.Atoi(m[2])
	}
	return out
}
