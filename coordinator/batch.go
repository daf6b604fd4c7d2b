package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/burrowdb/burrow/db"
	"github.com/burrowdb/burrow/protocol"
	"github.com/burrowdb/burrow/telemetry"
)

// HangSentinel is the message of a fetch abandoned by the per-result timeout
// race. The retry layer treats it as a connection-class failure.
const HangSentinel = "result fetch timed out"

// defaultFetchTimeout caps each sub-result fetch in a multi-statement batch.
// The engine has been observed to hang indefinitely fetching non-first
// schema-altering results within one batch.
const defaultFetchTimeout = 5 * time.Second

var errFetchHang = errors.New(HangSentinel)

// BatchEntry is the outcome of one sub-statement: its 1-based position in
// the batch and either rows or an error.
type BatchEntry struct {
	Index int      `json:"statementIndex"`
	Rows  []db.Row `json:"rows,omitempty"`
	Err   error    `json:"-"`
	Error string   `json:"error,omitempty"`
}

// ExecResult carries either a bare row sequence (single-statement input) or
// an ordered batch result.
type ExecResult struct {
	Rows  []db.Row     `json:"rows,omitempty"`
	Batch []BatchEntry `json:"batch,omitempty"`
}

// BatchExecutor executes a possibly multi-statement string against the
// session's current handle, defending against the multi-result fetch hang
// and falling back to per-statement execution when whole-batch submission
// fails.
type BatchExecutor struct {
	session      *db.Session
	classifier   *protocol.Classifier
	fetchTimeout time.Duration
}

// NewBatchExecutor creates a batch executor over the given session.
func NewBatchExecutor(session *db.Session, classifier *protocol.Classifier) *BatchExecutor {
	return &BatchExecutor{
		session:      session,
		classifier:   classifier,
		fetchTimeout: defaultFetchTimeout,
	}
}

// Execute runs a statement string and returns its rows or batch outcome.
func (b *BatchExecutor) Execute(ctx context.Context, stmt string) (*ExecResult, error) {
	conn := b.session.Conn()
	if conn == nil {
		return nil, errors.New("database is closed")
	}

	results, err := conn.Execute(ctx, stmt)
	if err != nil {
		return b.fallback(ctx, conn, stmt, err)
	}

	if len(results) == 1 {
		rows, err := results[0].FetchAll(ctx)
		if err != nil {
			return nil, err
		}
		return &ExecResult{Rows: b.ensureNonEmpty(stmt, rows)}, nil
	}

	entries := make([]BatchEntry, 0, len(results))
	for i, result := range results {
		rows, err := b.fetchWithTimeout(ctx, result)
		switch {
		case errors.Is(err, errFetchHang):
			// Workaround for the engine hang, not a verified recovery: assume
			// the statement completed engine-side and report an empty result.
			telemetry.SubResultTimeoutsTotal.Inc()
			log.Warn().
				Int("statement_index", i).
				Uint64("stmt_digest", protocol.Digest(stmt)).
				Msg("Sub-result fetch timed out, treating as empty")
			entries = append(entries, BatchEntry{Index: i + 1, Rows: []db.Row{emptyResultMarker()}})
		case err != nil:
			entries = append(entries, BatchEntry{Index: i + 1, Err: err, Error: err.Error()})
		case len(rows) == 0:
			entries = append(entries, BatchEntry{Index: i + 1, Rows: []db.Row{emptyResultMarker()}})
		default:
			entries = append(entries, BatchEntry{Index: i + 1, Rows: rows})
		}
	}
	return &ExecResult{Batch: entries}, nil
}

// fallback splits the raw text and executes each statement serially with
// partial-failure semantics.
func (b *BatchExecutor) fallback(ctx context.Context, conn db.Conn, raw string, submitErr error) (*ExecResult, error) {
	statements := protocol.SplitStatements(raw)
	if len(statements) <= 1 {
		return nil, submitErr
	}

	telemetry.BatchFallbacksTotal.Inc()
	log.Warn().
		Err(submitErr).
		Int("statements", len(statements)).
		Uint64("stmt_digest", protocol.Digest(raw)).
		Msg("Whole-batch submission failed, retrying statement by statement")

	entries := make([]BatchEntry, 0, len(statements))
	var failures []StatementFailure

	for i, stmt := range statements {
		rows, err := b.executeOne(ctx, conn, stmt)
		if err != nil {
			entries = append(entries, BatchEntry{Index: i + 1, Err: err, Error: err.Error()})
			failures = append(failures, StatementFailure{Index: i + 1, Err: err})
			continue
		}
		entries = append(entries, BatchEntry{Index: i + 1, Rows: b.ensureNonEmpty(stmt, rows)})
	}

	if len(failures) == len(statements) {
		return nil, &AllStatementsFailedError{Failures: failures}
	}
	return &ExecResult{Batch: entries}, nil
}

func (b *BatchExecutor) executeOne(ctx context.Context, conn db.Conn, stmt string) ([]db.Row, error) {
	results, err := conn.Execute(ctx, stmt)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return b.fetchWithTimeout(ctx, results[0])
}

// fetchWithTimeout races FetchAll against the hang timeout. The timeout
// abandons waiting, not the fetch itself: the goroutine's only side effect
// is a send into its own buffered channel, so an orphaned continuation that
// resolves later touches no shared state.
func (b *BatchExecutor) fetchWithTimeout(ctx context.Context, result db.Result) ([]db.Row, error) {
	type outcome struct {
		rows []db.Row
		err  error
	}
	ch := make(chan outcome, 1)

	go func() {
		rows, err := result.FetchAll(ctx)
		ch <- outcome{rows: rows, err: err}
	}()

	timer := time.NewTimer(b.fetchTimeout)
	defer timer.Stop()

	select {
	case out := <-ch:
		return out.rows, out.err
	case <-timer.C:
		return nil, errFetchHang
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ensureNonEmpty substitutes a synthetic success row for a mutating
// statement that produced no rows, keeping the response contract non-empty.
func (b *BatchExecutor) ensureNonEmpty(stmt string, rows []db.Row) []db.Row {
	if len(rows) > 0 {
		return rows
	}
	if b.classifier.IsMutation(stmt) {
		return []db.Row{{"status": "success"}}
	}
	return rows
}

func emptyResultMarker() db.Row {
	return db.Row{"rowsAffected": int64(0)}
}
