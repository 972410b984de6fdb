package billing

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/coachpage/adapter/cli"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Downgrade lapsed trials and subscriptions now",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cli.GetApp()
		if app == nil || app.BillingService == nil {
			return errNoDatabase
		}

		n, err := app.BillingService.SweepExpired(cmd.Context())
		if err != nil {
			return fmt.Errorf("sweep stopped after %d downgrades: %w", n, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Downgraded %d expired entitlements.\n", n)
		return nil
	},
}
