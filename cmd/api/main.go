package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/felixgeelhaar/coachpage/adapter/api"
	"github.com/felixgeelhaar/coachpage/internal/app"
	"github.com/felixgeelhaar/coachpage/pkg/config"
	"github.com/felixgeelhaar/coachpage/pkg/observability"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	logger := observability.LoggerFromEnv()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if cfg.StripeWebhookSecret == "" {
		logger.Warn("STRIPE_WEBHOOK_SECRET not set; webhook deliveries will be refused")
	}

	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize container", "error", err)
		os.Exit(1)
	}
	defer container.Close()

	serverCfg := api.DefaultServerConfig()
	serverCfg.Addr = cfg.APIAddr
	serverCfg.IdentityToken = cfg.IdentityAuthToken
	server := api.NewServer(serverCfg, api.ServerDeps{
		Entitlements:   api.NewEntitlementHandler(container.BillingService, nil, logger),
		Webhook:        container.WebhookHandler,
		Health:         container.Health,
		MetricsHandler: container.Metrics.Handler(),
		Metrics:        container.Metrics,
	}, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error("api server error", "error", err)
			os.Exit(1)
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api server shutdown error", "error", err)
	}
}
