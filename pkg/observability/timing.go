package observability

import (
	"log/slog"
	"time"
)

// Timer reports one run of an operation as coachpage.operation.* metrics.
type Timer struct {
	operation string
	start     time.Time
	metrics   Metrics
	logger    *slog.Logger
	tags      []Tag
}

func StartTimer(operation string) *Timer {
	return &Timer{operation: operation, start: time.Now(), metrics: NoopMetrics{}}
}

func (t *Timer) WithMetrics(metrics Metrics) *Timer {
	if metrics != nil {
		t.metrics = metrics
	}
	return t
}

// WithLogger logs failed runs at warn.
func (t *Timer) WithLogger(logger *slog.Logger) *Timer {
	t.logger = logger
	return t
}

func (t *Timer) WithTags(tags ...Tag) *Timer {
	t.tags = append(t.tags, tags...)
	return t
}

// StopWithError records the run, counting it as failed when err is set.
func (t *Timer) StopWithError(err error) time.Duration {
	elapsed := time.Since(t.start)
	tags := append(append(make([]Tag, 0, len(t.tags)+1), t.tags...), T("operation", t.operation))

	t.metrics.Timing(MetricOperationDuration, elapsed, tags...)
	t.metrics.Counter(MetricOperationTotal, 1, tags...)
	if err != nil {
		t.metrics.Counter(MetricOperationErrors, 1, tags...)
		if t.logger != nil {
			t.logger.Warn("operation failed", OperationKey, t.operation, "duration_ms", elapsed.Milliseconds(), "error", err)
		}
	}
	return elapsed
}

// Observe runs fn under a Timer and passes its result through.
func Observe[T any](metrics Metrics, logger *slog.Logger, operation string, fn func() (T, error)) (T, error) {
	timer := StartTimer(operation).WithMetrics(metrics).WithLogger(logger)
	res, err := fn()
	timer.StopWithError(err)
	return res, err
}
