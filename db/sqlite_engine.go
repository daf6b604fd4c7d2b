package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/burrowdb/burrow/protocol"
)

// SQLiteDriverName is the custom driver name registered for burrow.
const SQLiteDriverName = "sqlite3_burrow"

func init() {
	sql.Register(SQLiteDriverName, &sqlite3.SQLiteDriver{})
}

// SQLiteDriver is the default embedded engine. It backs the binary when no
// other engine is wired in and gives package tests a real engine to run
// against. Multi-statement strings are split lexically and produce one
// Result per sub-statement, mirroring the multi-result shape of the graph
// engine this layer fronts.
type SQLiteDriver struct{}

func (SQLiteDriver) Open(path string, readOnly bool) (Conn, error) {
	dsn := "file:" + path + "?_busy_timeout=5000"
	if readOnly {
		dsn += "&mode=ro"
	}

	sqlDB, err := sql.Open(SQLiteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", path, err)
	}

	// One handle per session; the engine is single-writer.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database at %s: %w", path, err)
	}

	return &sqliteConn{db: sqlDB}, nil
}

func (SQLiteDriver) Canary() (string, any) {
	return "SELECT 1 AS ok", int64(1)
}

type sqliteConn struct {
	db *sql.DB
}

func (c *sqliteConn) Execute(ctx context.Context, stmt string) ([]Result, error) {
	if c.db == nil {
		return nil, fmt.Errorf("database is closed")
	}

	statements := protocol.SplitStatements(stmt)
	if len(statements) == 0 {
		// Nothing but whitespace or comments; run the raw text so the engine
		// reports its own error shape.
		statements = []string{stmt}
	}

	results := make([]Result, len(statements))
	for i, sub := range statements {
		results[i] = &sqliteResult{db: c.db, stmt: sub}
	}
	return results, nil
}

// sqliteResult defers execution to FetchAll so sub-statements run in fetch
// order, matching the engine's lazy multi-result iteration.
type sqliteResult struct {
	db   *sql.DB
	stmt string
}

func (r *sqliteResult) FetchAll(ctx context.Context) ([]Row, error) {
	rows, err := r.db.QueryContext(ctx, r.stmt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, err
		}

		row := make(Row, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		out = append(out, row)
	}

	return out, rows.Err()
}
