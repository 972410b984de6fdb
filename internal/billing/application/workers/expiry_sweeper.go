package workers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/felixgeelhaar/coachpage/pkg/observability"
)

// DefaultSweepSchedule runs the sweep at the top of every hour.
const DefaultSweepSchedule = "@hourly"

// DefaultSweepTimeout bounds one sweep run.
const DefaultSweepTimeout = 5 * time.Minute

// Sweeper downgrades lapsed grants. *application.Service implements it.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// ExpirySweeperConfig configures the sweep worker.
type ExpirySweeperConfig struct {
	// Schedule is a five-field cron expression or a descriptor such as @hourly.
	Schedule   string
	RunOnStart bool
	Timeout    time.Duration
}

func DefaultExpirySweeperConfig() ExpirySweeperConfig {
	return ExpirySweeperConfig{
		Schedule:   DefaultSweepSchedule,
		RunOnStart: true,
		Timeout:    DefaultSweepTimeout,
	}
}

// SweepStats describes recent sweep activity for health reporting.
type SweepStats struct {
	Runs            int64     `json:"runs"`
	LastRunAt       time.Time `json:"last_run_at"`
	LastDuration    string    `json:"last_duration"`
	LastDowngraded  int       `json:"last_downgraded"`
	TotalDowngraded int64     `json:"total_downgraded"`
	LastError       string    `json:"last_error,omitempty"`
}

// ExpirySweeper runs the expiry sweep on a cron schedule. Overlapping runs
// are skipped rather than queued.
type ExpirySweeper struct {
	sweeper  Sweeper
	config   ExpirySweeperConfig
	schedule cron.Schedule
	metrics  observability.Metrics
	logger   *slog.Logger

	running  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once

	mu    sync.Mutex
	stats SweepStats
}

var scheduleParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// NewExpirySweeper validates the schedule and builds the worker.
func NewExpirySweeper(sweeper Sweeper, config ExpirySweeperConfig, metrics observability.Metrics, logger *slog.Logger) (*ExpirySweeper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	if config.Schedule == "" {
		config.Schedule = DefaultSweepSchedule
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultSweepTimeout
	}
	schedule, err := scheduleParser.Parse(config.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", config.Schedule, err)
	}
	return &ExpirySweeper{
		sweeper:  sweeper,
		config:   config,
		schedule: schedule,
		metrics:  metrics,
		logger:   logger.With("worker", "expiry_sweeper"),
		stopCh:   make(chan struct{}),
	}, nil
}

// Run schedules the sweep and blocks until ctx is cancelled or Stop is called.
// In-flight runs finish before Run returns.
func (w *ExpirySweeper) Run(ctx context.Context) error {
	if w.sweeper == nil {
		w.logger.Warn("sweeper not configured, worker will not start")
		return nil
	}

	cronLogger := slogCronLogger{logger: w.logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	c.Schedule(w.schedule, cron.FuncJob(func() {
		_, _ = w.RunOnce(ctx)
	}))

	w.running.Store(true)
	defer w.running.Store(false)
	w.logger.Info("expiry sweeper started", "schedule", w.config.Schedule)

	if w.config.RunOnStart {
		_, _ = w.RunOnce(ctx)
	}
	c.Start()

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
		w.logger.Info("expiry sweeper stopped (context cancelled)")
	case <-w.stopCh:
		w.logger.Info("expiry sweeper stopped (stop signal)")
	}
	<-c.Stop().Done()
	return err
}

// Stop signals Run to return.
func (w *ExpirySweeper) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

func (w *ExpirySweeper) IsRunning() bool {
	return w.running.Load()
}

// RunOnce performs a single sweep immediately.
func (w *ExpirySweeper) RunOnce(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	timer := observability.StartTimer("expiry_sweep").WithMetrics(w.metrics)
	n, err := w.sweeper.SweepExpired(ctx)
	duration := timer.StopWithError(err)

	w.mu.Lock()
	w.stats.Runs++
	w.stats.LastRunAt = time.Now().UTC()
	w.stats.LastDuration = duration.String()
	w.stats.LastDowngraded = n
	w.stats.TotalDowngraded += int64(n)
	w.stats.LastError = ""
	if err != nil {
		w.stats.LastError = err.Error()
	}
	w.mu.Unlock()

	if err != nil {
		w.logger.ErrorContext(ctx, "expiry sweep failed", "downgraded", n, "error", err)
		return n, err
	}
	w.logger.DebugContext(ctx, "expiry sweep finished", "downgraded", n, "duration", duration)
	return n, nil
}

func (w *ExpirySweeper) Stats() SweepStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// HealthCheck reports degraded after a failed run; the next good run clears it.
func (w *ExpirySweeper) HealthCheck() observability.HealthChecker {
	return func(context.Context) observability.HealthCheckResult {
		stats := w.Stats()
		details := map[string]any{
			"running":          w.IsRunning(),
			"runs":             stats.Runs,
			"last_run_at":      stats.LastRunAt,
			"last_downgraded":  stats.LastDowngraded,
			"total_downgraded": stats.TotalDowngraded,
		}
		if stats.LastError != "" {
			return observability.HealthCheckResult{
				Status:  observability.HealthStatusDegraded,
				Message: "last sweep failed: " + stats.LastError,
				Details: details,
			}
		}
		return observability.HealthCheckResult{
			Status:  observability.HealthStatusHealthy,
			Message: "expiry sweeper healthy",
			Details: details,
		}
	}
}

// slogCronLogger adapts slog to cron.Logger.
type slogCronLogger struct {
	logger *slog.Logger
}

func (l slogCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l slogCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
