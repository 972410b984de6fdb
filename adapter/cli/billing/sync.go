package billing

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/coachpage/adapter/cli"
	"github.com/felixgeelhaar/coachpage/internal/billing/domain"
)

var (
	syncActive    bool
	syncPeriodEnd string
	syncCustomer  string
)

var syncCmd = &cobra.Command{
	Use:   "sync [user-id]",
	Short: "Apply a subscription state by hand",
	Long: `Write a subscription snapshot as if the billing provider had sent it.
Comped users are left unchanged.

Examples:
  coachpage billing sync <user-id> --active --period-end 2026-12-01T00:00:00Z --customer cus_123
  coachpage billing sync <user-id> --active=false`,
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

		snap := domain.SubscriptionSnapshot{
			UserID:           userID,
			StripeCustomerID: syncCustomer,
			IsActive:         syncActive,
		}
		if syncPeriodEnd != "" {
			end, err := time.Parse(time.RFC3339, syncPeriodEnd)
			if err != nil {
				return fmt.Errorf("invalid --period-end: %w", err)
			}
			snap.CurrentPeriodEnd = &end
		}

		rec, applied, err := app.BillingService.SyncSubscription(cmd.Context(), snap)
		if err != nil {
			return err
		}
		if applied {
			fmt.Fprintln(cmd.OutOrStdout(), "Subscription synced.")
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "User is comped; sync skipped.")
		}
		printRecord(cmd.OutOrStdout(), rec)
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncActive, "active", true, "subscription is active or trialing")
	syncCmd.Flags().StringVar(&syncPeriodEnd, "period-end", "", "current period end (RFC3339)")
	syncCmd.Flags().StringVar(&syncCustomer, "customer", "", "Stripe customer id")
}
