package mcp

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/coachpage/adapter/cli"
	mcpinternal "github.com/felixgeelhaar/coachpage/internal/mcp"
	"github.com/felixgeelhaar/coachpage/pkg/config"
	"github.com/felixgeelhaar/coachpage/pkg/observability"
)

// Cmd is the MCP command group.
var Cmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the support interface for operators and agents",
}

func init() {
	Cmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the billing support tools over MCP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cliApp := cli.GetApp()
		if cliApp == nil || cliApp.BillingService == nil {
			return errors.New("mcp server requires database connection")
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		logger := observability.NewLogger(observability.LogConfig{
			Level:       observability.LogLevel(cfg.LogLevel),
			Format:      observability.LogFormatText,
			Output:      cmd.OutOrStdout(),
			ServiceName: "coachpage-mcp",
		})

		err = mcpinternal.Serve(ctx, cfg, cliApp, logger)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}
