package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/felixgeelhaar/coachpage/internal/app"
	mcpinternal "github.com/felixgeelhaar/coachpage/internal/mcp"
	"github.com/felixgeelhaar/coachpage/pkg/config"
	"github.com/felixgeelhaar/coachpage/pkg/observability"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	logger := observability.LoggerFromEnv()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize container", "error", err)
		os.Exit(1)
	}
	defer container.Close()

	cliApp, err := container.CLIApp(cfg.UserID)
	if err != nil {
		logger.Error("failed to build support app", "error", err)
		os.Exit(1)
	}

	if err := mcpinternal.Serve(ctx, cfg, cliApp, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("mcp server error", "error", err)
		os.Exit(1)
	}
}
