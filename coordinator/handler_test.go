package coordinator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/burrowdb/burrow/db"
)

func newTestCoordinator(t *testing.T) (*Coordinator, string) {
	t.Helper()
	dir := t.TempDir()
	session, err := db.NewSession(db.SQLiteDriver{}, filepath.Join(dir, "coord.db"), false)
	require.NoError(t, err)
	return NewCoordinator(session, newTestClassifier(t), dir, "default-agent"), dir
}

func TestHandleReadStatement(t *testing.T) {
	c, _ := newTestCoordinator(t)

	result, serr := c.Handle(context.Background(), "SELECT 1 AS one", Options{})
	require.Nil(t, serr)
	require.Len(t, result.Rows, 1)
	require.Equal(t, int64(1), result.Rows[0]["one"])
}

func TestHandleUnsupportedPatternShortCircuits(t *testing.T) {
	// A conn that counts every non-canary statement reaching the engine.
	conn := &countingConn{}
	session, err := db.NewSession(fakeDriver{conn: conn}, "counted", false)
	require.NoError(t, err)
	c := NewCoordinator(session, newTestClassifier(t), t.TempDir(), "default-agent")

	_, serr := c.Handle(context.Background(),
		"CREATE NODE TABLE T(a INT64, b INT64, PRIMARY KEY(a, b))", Options{})
	require.NotNil(t, serr)
	require.Equal(t, KindUnsupportedPattern, serr.Kind)
	require.Contains(t, serr.Message, "PRIMARY KEY", "message should be actionable")
	require.Equal(t, 0, conn.calls, "engine contacted for a short-circuited statement")
}

type countingConn struct {
	calls int
}

func (c *countingConn) Execute(ctx context.Context, stmt string) ([]db.Result, error) {
	if stmt == "SELECT 1 AS ok" {
		return []db.Result{fixedResult{rows: []db.Row{{"ok": int64(1)}}}}, nil
	}
	c.calls++
	return []db.Result{fixedResult{}}, nil
}

func TestHandleReadOnlyRejectsMutations(t *testing.T) {
	c, _ := newTestCoordinator(t)

	_, serr := c.Handle(context.Background(), "CREATE (n:Person)", Options{ReadOnly: true})
	require.NotNil(t, serr)
	require.Equal(t, KindReadOnlyViolation, serr.Kind)

	// Reads still work.
	result, serr := c.Handle(context.Background(), "SELECT 1 AS one", Options{ReadOnly: true})
	require.Nil(t, serr)
	require.NotNil(t, result)
}

func TestHandleMultiAgentLockCycle(t *testing.T) {
	c, dir := newTestCoordinator(t)

	_, serr := c.Handle(context.Background(),
		"CREATE TABLE t(id INTEGER PRIMARY KEY)", Options{MultiAgent: true, AgentID: "writer"})
	require.Nil(t, serr)

	// Lock is released in the guaranteed cleanup path.
	require.NoFileExists(t, filepath.Join(dir, LockFileName))
}

func TestHandleLockTimeoutStructured(t *testing.T) {
	c, dir := newTestCoordinator(t)

	blocker, err := NewWriteLockManager(dir).Acquire(context.Background(), "blocker", time.Second)
	require.NoError(t, err)
	defer blocker.Release()

	_, serr := c.Handle(context.Background(), "CREATE (n:Person)",
		Options{MultiAgent: true, AgentID: "contender", LockTimeout: 250 * time.Millisecond})
	require.NotNil(t, serr)
	require.Equal(t, KindLockTimeout, serr.Kind)
	require.Contains(t, serr.Message, "blocker")
}

func TestHandleLockReleasedOnFailure(t *testing.T) {
	c, dir := newTestCoordinator(t)

	_, serr := c.Handle(context.Background(),
		"DELETE FROM missing_table", Options{MultiAgent: true})
	require.NotNil(t, serr)
	require.NoFileExists(t, filepath.Join(dir, LockFileName))
}

func TestHandleReadsSkipLock(t *testing.T) {
	c, dir := newTestCoordinator(t)

	// A read under multi-agent mode must not contend for the lock at all.
	blocker, err := NewWriteLockManager(dir).Acquire(context.Background(), "blocker", time.Second)
	require.NoError(t, err)
	defer blocker.Release()

	result, serr := c.Handle(context.Background(), "SELECT 1 AS one",
		Options{MultiAgent: true, LockTimeout: 50 * time.Millisecond})
	require.Nil(t, serr)
	require.NotNil(t, result)
}

func TestHandleStatementErrorStructured(t *testing.T) {
	c, _ := newTestCoordinator(t)

	_, serr := c.Handle(context.Background(), "SELECT * FROM no_such_table", Options{})
	require.NotNil(t, serr)
	require.Equal(t, KindStatementError, serr.Kind)
	require.NotEmpty(t, serr.Message)
}

func TestOptionsDefaults(t *testing.T) {
	opts := Options{}.withDefaults("fallback-agent")
	require.Equal(t, "fallback-agent", opts.AgentID)
	require.Equal(t, DefaultMaxRetries, opts.MaxRetries)
	require.Equal(t, DefaultLockTimeout, opts.LockTimeout)

	explicit := Options{AgentID: "me", MaxRetries: 5, LockTimeout: time.Second}.withDefaults("fallback-agent")
	require.Equal(t, "me", explicit.AgentID)
	require.Equal(t, 5, explicit.MaxRetries)
	require.Equal(t, time.Second, explicit.LockTimeout)
}

func TestTranslateTaxonomy(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind ErrorKind
	}{
		{"unsupported", &UnsupportedPatternError{Reason: "compound pk"}, KindUnsupportedPattern},
		{"read only", &ReadOnlyViolationError{}, KindReadOnlyViolation},
		{"lock timeout", &LockTimeoutError{}, KindLockTimeout},
		{"recovery failed", &ConnectionRecoveryFailedError{Attempts: 3, LastErr: errors.New("x")}, KindConnectionRecoveryFailed},
		{"reconnect", &db.ReconnectError{Path: "/tmp/x"}, KindConnectionRecoveryFailed},
		{"all failed", &AllStatementsFailedError{Failures: []StatementFailure{{Index: 1, Err: errors.New("x")}}}, KindAllStatementsFailed},
		{"plain", errors.New("whatever went wrong"), KindStatementError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Translate(tt.err)
			require.Equal(t, tt.kind, got.Kind)
			require.NotEmpty(t, got.Message)
		})
	}

	require.Nil(t, Translate(nil))
}

func TestTranslateExtractsLineOffset(t *testing.T) {
	err := errors.New("Parser exception: mismatched input (line: 3, offset: 14)")
	got := Translate(err)
	require.Equal(t, 3, got.Line)
	require.Equal(t, 14, got.Offset)

	colonless := Translate(errors.New("bad input (line 2, offset 7)"))
	require.Equal(t, 2, colonless.Line)
	require.Equal(t, 7, colonless.Offset)
}
