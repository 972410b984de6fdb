package billing

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/coachpage/adapter/cli"
)

var (
	compNotes  string
	compsLimit int
)

var compCmd = &cobra.Command{
	Use:   "comp [user-id]",
	Short: "Grant permanent Pro by hand",
	Long: `Comp a user: Pro with no expiry that subscription syncs and expiry
sweeps leave alone.

Examples:
  coachpage billing comp <user-id> --notes "partner gym"`,
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

		rec, err := app.BillingService.Comp(cmd.Context(), userID, compNotes)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Pro comped.")
		printRecord(cmd.OutOrStdout(), rec)
		return nil
	},
}

var revokeCmd = &cobra.Command{
	Use:   "revoke [user-id]",
	Short: "Remove a manual comp",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cli.GetApp()
		if app == nil || app.BillingService == nil {
			return errNoDatabase
		}
		userID, err := targetUser(args, app)
		if err != nil {
			return err
		}

		rec, err := app.BillingService.Revoke(cmd.Context(), userID, compNotes)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Comp revoked.")
		printRecord(cmd.OutOrStdout(), rec)
		return nil
	},
}

var compsCmd = &cobra.Command{
	Use:   "comps",
	Short: "List comped users",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cli.GetApp()
		if app == nil || app.BillingService == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Comp listing requires database connection.")
			return nil
		}

		records, err := app.BillingService.ListOverrides(cmd.Context(), compsLimit)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No comped users.")
			return nil
		}
		for _, rec := range records {
			notes := ""
			if rec.Notes != nil {
				notes = *rec.Notes
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n", rec.UserID, rec.UpdatedAt.Format(time.DateOnly), notes)
		}
		return nil
	},
}

func init() {
	compCmd.Flags().StringVar(&compNotes, "notes", "", "reason recorded with the change")
	revokeCmd.Flags().StringVar(&compNotes, "notes", "", "reason recorded with the change")
	compsCmd.Flags().IntVar(&compsLimit, "limit", 100, "maximum rows")
}
