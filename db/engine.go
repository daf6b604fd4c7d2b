// Package db owns the embedded engine handle: the driver abstraction, the
// connection health monitor, and the discard-and-recreate reconnect path.
package db

import "context"

// Row is a single result row keyed by column name.
type Row map[string]any

// Result is the fetchable output of one sub-statement. FetchAll blocks until
// the engine finishes producing rows; the engine defect this layer defends
// against means it may never return for non-first schema-altering results in
// a multi-statement batch, so callers race it against a timeout.
type Result interface {
	FetchAll(ctx context.Context) ([]Row, error)
}

// Conn is a live engine handle. A Conn is confined to one session and is not
// safe for concurrent use. The engine exposes no close: to invalidate a
// handle, drop the reference and open a new one.
type Conn interface {
	// Execute submits a statement string and returns one Result per
	// sub-statement, in order. A single-statement string yields exactly one
	// Result. Submission errors (malformed input the engine rejects outright)
	// are returned here; per-result errors surface from FetchAll.
	Execute(ctx context.Context, stmt string) ([]Result, error)
}

// Driver opens engine connections and describes the liveness canary for the
// engine it wraps.
type Driver interface {
	Open(path string, readOnly bool) (Conn, error)

	// Canary returns a fixed side-effect-free statement and the single scalar
	// value a healthy connection must produce for it.
	Canary() (stmt string, want any)
}
