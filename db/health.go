package db

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Monitor checks connection liveness by issuing the driver's canary
// statement and validating the shape of its result.
type Monitor struct {
	driver Driver
}

// NewMonitor creates a health monitor for connections of the given driver.
func NewMonitor(driver Driver) *Monitor {
	return &Monitor{driver: driver}
}

// Valid reports whether the connection can execute the canary statement and
// produce exactly one row holding the expected scalar. It never panics: any
// engine failure, including an engine-side panic, yields false.
func (m *Monitor) Valid(ctx context.Context, conn Conn) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Msg("Engine panicked during health check")
			ok = false
		}
	}()

	if conn == nil {
		return false
	}

	canary, want := m.driver.Canary()
	results, err := conn.Execute(ctx, canary)
	if err != nil || len(results) != 1 {
		return false
	}

	rows, err := results[0].FetchAll(ctx)
	if err != nil || len(rows) != 1 {
		return false
	}

	row := rows[0]
	if len(row) != 1 {
		return false
	}
	for _, v := range row {
		if v != want {
			return false
		}
	}
	return true
}
