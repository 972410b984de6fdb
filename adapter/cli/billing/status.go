package billing

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/coachpage/adapter/cli"
	"github.com/felixgeelhaar/coachpage/internal/billing/domain"
)

var statusCmd = &cobra.Command{
	Use:   "status [user-id]",
	Short: "Show effective Pro status",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cli.GetApp()
		if app == nil || app.BillingService == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Billing status requires database connection.")
			return nil
		}
		userID, err := targetUser(args, app)
		if err != nil {
			return err
		}

		rec, degraded, err := app.BillingService.Lookup(cmd.Context(), userID)
		if err != nil {
			return err
		}
		st := domain.EffectiveStatus(rec, app.BillingService.Now())

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Plan: %s\n", st.Plan)
		fmt.Fprintf(out, "Pro:  %t\n", st.EffectiveIsPro)
		if st.Override {
			fmt.Fprintln(out, "Comped by support.")
		}
		if st.ExpiresAt != nil {
			fmt.Fprintf(out, "Expires: %s\n", st.ExpiresAt.Local().Format(time.RFC1123))
		}
		if st.DaysRemaining != nil {
			fmt.Fprintf(out, "Days remaining: %d\n", *st.DaysRemaining)
		}
		if degraded {
			fmt.Fprintln(out, "Warning: entitlement schema is outdated; run migrations.")
		}

		sub, err := app.BillingService.Subscription(cmd.Context(), userID)
		switch {
		case err != nil:
			fmt.Fprintf(out, "Subscription: unavailable (%v)\n", err)
		case sub != nil:
			fmt.Fprintf(out, "Subscription: %s (%s)\n", sub.SubscriptionID, sub.Status)
			if sub.CurrentPeriodEnd != nil {
				fmt.Fprintf(out, "Period ends: %s\n", sub.CurrentPeriodEnd.Local().Format(time.RFC1123))
			}
		}
		return nil
	},
}
