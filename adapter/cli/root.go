package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/coachpage/pkg/observability"
)

var (
	cfgFile string
	verbose bool
	logger  *slog.Logger
)

type commandContext struct {
	correlationID string
	startedAt     time.Time
}

type commandContextKey struct{}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "coachpage",
	Short: "coachpage - Pro entitlements for coach landing pages",
	Long: `coachpage operates the Pro entitlement engine behind coach landing pages.

It grants signup trials, syncs Stripe subscriptions, sweeps lapsed
grants and lets support comp or revoke Pro by hand.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if logger == nil {
			logger = slog.Default()
		}
		ctx := observability.WithCorrelationID(cmd.Context(), "")
		info := commandContext{
			correlationID: observability.CorrelationIDFromContext(ctx),
			startedAt:     time.Now(),
		}
		cmd.SetContext(context.WithValue(ctx, commandContextKey{}, info))
		logger.Debug("command start",
			"command", cmd.CommandPath(),
			observability.CorrelationIDKey, info.correlationID,
		)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger == nil {
			logger = slog.Default()
		}
		info, ok := cmd.Context().Value(commandContextKey{}).(commandContext)
		if !ok {
			return
		}
		logger.Debug("command end",
			"command", cmd.CommandPath(),
			observability.CorrelationIDKey, info.correlationID,
			"duration_ms", time.Since(info.startedAt).Milliseconds(),
		)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ExecuteContext(context.Background())
}

// ExecuteContext runs the root command with ctx.
func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "env file to load before the environment")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// ConfigFile returns the --config flag value.
func ConfigFile() string {
	return cfgFile
}

// Verbose reports whether --verbose was given.
func Verbose() bool {
	return verbose
}

// AddCommand adds a command to the root command.
func AddCommand(cmd *cobra.Command) {
	rootCmd.AddCommand(cmd)
}

// RootCommand returns the root command.
func RootCommand() *cobra.Command {
	return rootCmd
}

// SetLogger sets the CLI logger.
func SetLogger(l *slog.Logger) {
	logger = l
}
