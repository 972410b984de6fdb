package billing

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/coachpage/adapter/cli"
)

var trialCmd = &cobra.Command{
	Use:   "trial [user-id]",
	Short: "Grant the signup trial",
	Long: `Seed the Pro trial for a new identity. Running it again leaves the
existing record untouched.

Examples:
  coachpage billing trial 6f1c2a8e-7f0b-4c55-9d0e-2f7d8c1b9a10`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cli.GetApp()
		if app == nil || app.BillingService == nil {
			return errNoDatabase
		}
		userID, err := targetUser(args, app)
		if err != nil {
			return err
		}

		rec, created, err := app.BillingService.GrantTrial(cmd.Context(), userID)
		if err != nil {
			return err
		}
		if created {
			fmt.Fprintln(cmd.OutOrStdout(), "Trial granted.")
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "Entitlement already exists; unchanged.")
		}
		printRecord(cmd.OutOrStdout(), rec)
		return nil
	},
}
