package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/coachpage/internal/app"
	"github.com/felixgeelhaar/coachpage/pkg/config"
	"github.com/felixgeelhaar/coachpage/pkg/observability"
)

func main() {
	// Handle shutdown signals
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Load configuration
	cfg, err := config.Load()
	logger := observability.LoggerFromEnv().With("component", "worker")
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("starting coachpage worker")

	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize container", "error", err)
		os.Exit(1)
	}
	defer container.Close()

	consumer, err := container.NewIdentityEventConsumer()
	if err != nil {
		logger.Error("failed to initialize identity consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("expiry sweeper starting", "schedule", cfg.SweepSchedule, "run_on_start", cfg.SweepOnStart)
		return ignoreCanceled(container.ExpirySweeper.Run(ctx))
	})

	g.Go(func() error {
		logger.Info("identity consumer starting", "queue", cfg.IdentityQueue)
		return ignoreCanceled(consumer.Start(ctx))
	})

	if cfg.WorkerHealthAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
			stats := container.ExpirySweeper.Stats()
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status":  "ok",
				"running": container.ExpirySweeper.IsRunning(),
				"sweeps":  stats,
			})
		})
		mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
			checkCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			health := container.Health.GetOverallHealth(checkCtx)
			w.Header().Set("Content-Type", "application/json")
			if health.Status == observability.HealthStatusUnhealthy {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
			_ = json.NewEncoder(w).Encode(health)
		})
		mux.Handle("GET /metrics", container.Metrics.Handler())

		healthSrv := &http.Server{
			Addr:              cfg.WorkerHealthAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			logger.Info("health server starting", "addr", cfg.WorkerHealthAddr)
			if err := healthSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return healthSrv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("worker stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("worker stopped")
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
