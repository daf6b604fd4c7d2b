package telemetry

// Histogram bucket definitions for different latency profiles
var (
	// QueryBuckets for statement execution (local engine calls)
	QueryBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

	// LockWaitBuckets for cross-process write lock acquisition
	LockWaitBuckets = []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
)

// Statement execution metrics
var (
	// QueriesTotal counts statements by class (read, write, schema) and
	// result (ok, failed, rejected, lock_timeout)
	QueriesTotal CounterVec = noopCounterVec{}

	// QueryDurationSeconds measures end-to-end statement latency by class
	QueryDurationSeconds HistogramVec = noopHistogramVec{}

	// RetriesTotal counts retry attempts after connection-class failures
	RetriesTotal Counter = NoopStat{}

	// ReconnectsTotal counts handle recreations by result (ok, failed)
	ReconnectsTotal CounterVec = noopCounterVec{}

	// BatchFallbacksTotal counts whole-batch failures that fell back to
	// per-statement execution
	BatchFallbacksTotal Counter = NoopStat{}

	// SubResultTimeoutsTotal counts sub-result fetches abandoned by the hang
	// defense timeout
	SubResultTimeoutsTotal Counter = NoopStat{}
)

// Write lock metrics
var (
	// LockWaitSeconds measures time spent acquiring the write lock
	LockWaitSeconds Histogram = NoopStat{}

	// LockContentionTotal counts acquisition outcomes (acquired, timeout)
	LockContentionTotal CounterVec = noopCounterVec{}

	// HeartbeatWritesTotal counts heartbeat renewals of a held lock
	HeartbeatWritesTotal Counter = NoopStat{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	QueriesTotal = NewCounterVec(
		"queries_total",
		"Total statements by class and result",
		[]string{"class", "result"},
	)
	QueryDurationSeconds = NewHistogramVec(
		"query_duration_seconds",
		"Statement duration in seconds",
		[]string{"class"},
		QueryBuckets,
	)
	RetriesTotal = NewCounter(
		"retries_total",
		"Retry attempts after connection-class failures",
	)
	ReconnectsTotal = NewCounterVec(
		"reconnects_total",
		"Engine handle recreations by result",
		[]string{"result"},
	)
	BatchFallbacksTotal = NewCounter(
		"batch_fallbacks_total",
		"Whole-batch failures that fell back to per-statement execution",
	)
	SubResultTimeoutsTotal = NewCounter(
		"sub_result_timeouts_total",
		"Sub-result fetches abandoned by the hang defense timeout",
	)

	LockWaitSeconds = NewHistogramWithBuckets(
		"lock_wait_seconds",
		"Time waiting for the cross-process write lock in seconds",
		LockWaitBuckets,
	)
	LockContentionTotal = NewCounterVec(
		"lock_contention_total",
		"Write lock acquisition outcomes",
		[]string{"result"},
	)
	HeartbeatWritesTotal = NewCounter(
		"heartbeat_writes_total",
		"Heartbeat renewals of a held write lock",
	)
}
