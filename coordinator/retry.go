package coordinator

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/burrowdb/burrow/db"
	"github.com/burrowdb/burrow/protocol"
	"github.com/burrowdb/burrow/telemetry"
)

const (
	backoffBaseMS = 1000
	backoffCapMS  = 5000
)

// RetryPredicate decides whether a failure is connection-class and therefore
// retryable. Kept pluggable so structured engine error codes can replace
// substring matching without touching the retry state machine.
type RetryPredicate func(error) bool

// Substrings of engine error text indicating the handle, not the statement,
// is at fault. Parser and binder errors are included defensively: the engine
// has been observed to corrupt connection state after certain language
// errors.
var connectionErrorMarkers = []string{
	"connection",
	"closed",
	"database handle",
	"parser exception",
	"binder exception",
	HangSentinel,
}

// IsConnectionError is the default RetryPredicate.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range connectionErrorMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Executor runs one attempt of a statement.
type Executor interface {
	Execute(ctx context.Context, stmt string) (*ExecResult, error)
}

// RetryCoordinator wraps an Executor with bounded retries, exponential
// backoff, and health-checked reconnection between attempts.
type RetryCoordinator struct {
	session   *db.Session
	exec      Executor
	retryable RetryPredicate

	// sleep is swapped out in tests to observe backoff without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryCoordinator wraps exec with the default connection-class
// predicate.
func NewRetryCoordinator(session *db.Session, exec Executor) *RetryCoordinator {
	return &RetryCoordinator{
		session:   session,
		exec:      exec,
		retryable: IsConnectionError,
		sleep:     sleepContext,
	}
}

// SetRetryPredicate replaces the connection-class predicate.
func (r *RetryCoordinator) SetRetryPredicate(p RetryPredicate) {
	r.retryable = p
}

// Execute runs stmt, retrying connection-class failures up to maxRetries
// times. Before any re-attempt the handle is health-checked and recreated if
// invalid. Non-connection failures are terminal immediately; exhausting the
// retry budget yields ConnectionRecoveryFailedError.
func (r *RetryCoordinator) Execute(ctx context.Context, stmt string, maxRetries int) (*ExecResult, error) {
	var lastErr error
	attempts := 0

	for attempt := 1; attempt <= maxRetries+1; attempt++ {
		if lastErr != nil {
			if err := r.session.EnsureValid(ctx); err != nil {
				telemetry.ReconnectsTotal.With("failed").Inc()
				return nil, err
			}
			telemetry.ReconnectsTotal.With("ok").Inc()
		}

		attempts++
		result, err := r.exec.Execute(ctx, stmt)
		if err == nil {
			return result, nil
		}
		if !r.retryable(err) {
			return nil, err
		}
		lastErr = err

		if attempt <= maxRetries {
			delay := backoffDelay(attempt)
			telemetry.RetriesTotal.Inc()
			log.Warn().
				Err(err).
				Int("attempt", attempt).
				Dur("backoff", delay).
				Uint64("stmt_digest", protocol.Digest(stmt)).
				Str("stmt_prefix", protocol.TruncateForLog(stmt, 80)).
				Msg("Connection-class failure, backing off before retry")
			if err := r.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
	}

	return nil, &ConnectionRecoveryFailedError{Attempts: attempts, LastErr: lastErr}
}

// backoffDelay returns min(1000*2^(n-1), 5000) ms for 1-based attempt n.
func backoffDelay(attempt int) time.Duration {
	if attempt > 3 {
		// 2^(n-1) exceeds the cap from the third retry on
		return backoffCapMS * time.Millisecond
	}
	ms := backoffBaseMS << (attempt - 1)
	if ms > backoffCapMS {
		ms = backoffCapMS
	}
	return time.Duration(ms) * time.Millisecond
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
