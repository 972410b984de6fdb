package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/felixgeelhaar/coachpage/adapter/cli"
	cliBilling "github.com/felixgeelhaar/coachpage/adapter/cli/billing"
	"github.com/felixgeelhaar/coachpage/adapter/cli/mcp"
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
	cli.SetLogger(logger)

	// Try to initialize the full container
	var cliApp *cli.App
	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		if !cfg.IsDevelopment() {
			logger.Error("failed to initialize container", "error", err)
			os.Exit(1)
		}
		// In development, allow the CLI to run without a database
		logger.Warn("failed to initialize container, running in limited mode", "error", err)
	} else {
		defer container.Close()

		cliApp, err = container.CLIApp(cfg.UserID)
		if err != nil {
			logger.Error("invalid configuration", "error", err)
			os.Exit(1)
		}
	}

	cli.SetApp(cliApp)

	// Register commands
	cli.AddCommand(cliBilling.Cmd)
	cli.AddCommand(mcp.Cmd)

	cli.ExecuteContext(ctx)
}
