package coordinator

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/burrowdb/burrow/db"
	"github.com/burrowdb/burrow/protocol"
	"github.com/burrowdb/burrow/telemetry"
)

// Options are the per-call knobs the RPC layer passes alongside a statement.
type Options struct {
	ReadOnly    bool
	MultiAgent  bool
	AgentID     string
	MaxRetries  int
	LockTimeout time.Duration
}

const (
	DefaultMaxRetries  = 2
	DefaultLockTimeout = 10 * time.Second
)

func (o Options) withDefaults(defaultAgentID string) Options {
	if o.AgentID == "" {
		o.AgentID = defaultAgentID
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.LockTimeout == 0 {
		o.LockTimeout = DefaultLockTimeout
	}
	return o
}

// Coordinator is the single entry point the RPC layer calls. It composes
// classification, write-lock gating, and retried batch execution, and
// guarantees every failure leaves as a StructuredError.
type Coordinator struct {
	session        *db.Session
	classifier     *protocol.Classifier
	retry          *RetryCoordinator
	locks          *WriteLockManager
	defaultAgentID string
}

// NewCoordinator wires the execution pipeline for one session. lockDir is
// the database directory holding the cross-process lock file.
func NewCoordinator(session *db.Session, classifier *protocol.Classifier, lockDir, defaultAgentID string) *Coordinator {
	batch := NewBatchExecutor(session, classifier)
	return &Coordinator{
		session:        session,
		classifier:     classifier,
		retry:          NewRetryCoordinator(session, batch),
		locks:          NewWriteLockManager(lockDir),
		defaultAgentID: defaultAgentID,
	}
}

// Locks exposes the lock manager for status endpoints.
func (c *Coordinator) Locks() *WriteLockManager { return c.locks }

// Handle executes one statement string under the given options and returns
// rows, a batch result, or a structured error.
func (c *Coordinator) Handle(ctx context.Context, stmt string, opts Options) (*ExecResult, *StructuredError) {
	opts = opts.withDefaults(c.defaultAgentID)
	start := time.Now()

	cls := c.classifier.Classify(stmt)
	class := queryClass(cls)

	if cls.HasUnsupportedPattern {
		telemetry.QueriesTotal.With(class, "rejected").Inc()
		return nil, Translate(&UnsupportedPatternError{Reason: cls.UnsupportedReason})
	}
	if cls.IsMutating && opts.ReadOnly {
		telemetry.QueriesTotal.With(class, "rejected").Inc()
		return nil, Translate(&ReadOnlyViolationError{})
	}

	var lock *WriteLock
	if cls.IsMutating && opts.MultiAgent {
		var err error
		lock, err = c.locks.Acquire(ctx, opts.AgentID, opts.LockTimeout)
		if err != nil {
			telemetry.QueriesTotal.With(class, "lock_timeout").Inc()
			return nil, Translate(err)
		}
	}
	if lock != nil {
		defer lock.Release()
	}

	result, err := c.retry.Execute(ctx, stmt, opts.MaxRetries)
	telemetry.QueryDurationSeconds.With(class).Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.QueriesTotal.With(class, "failed").Inc()
		structured := Translate(err)
		log.Error().
			Str("kind", string(structured.Kind)).
			Uint64("stmt_digest", protocol.Digest(stmt)).
			Str("stmt_prefix", protocol.TruncateForLog(stmt, 80)).
			Msg(structured.Message)
		return nil, structured
	}

	telemetry.QueriesTotal.With(class, "ok").Inc()
	return result, nil
}

func queryClass(cls protocol.Classification) string {
	switch {
	case cls.IsSchemaChange:
		return "schema"
	case cls.IsMutating:
		return "write"
	default:
		return "read"
	}
}
