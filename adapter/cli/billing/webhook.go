package billing

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	stripelib "github.com/stripe/stripe-go/v82"

	"github.com/felixgeelhaar/coachpage/adapter/cli"
	"github.com/felixgeelhaar/coachpage/internal/shared/infrastructure/security"
)

var webhookEventPath string

var webhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Replay a Stripe webhook event",
	Long: `Apply a saved Stripe event (for example from the dashboard or
"stripe events resend") without signature verification or dedupe.

Examples:
  coachpage billing webhook --event ./evt_subscription_updated.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if webhookEventPath == "" {
			return errors.New("event path is required")
		}

		payload, err := security.ReadPayload(webhookEventPath)
		if err != nil {
			return err
		}

		var event stripelib.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			return fmt.Errorf("invalid webhook payload: %w", err)
		}
		eventType := string(event.Type)
		if eventType == "" {
			eventType = "unknown"
		}

		app := cli.GetApp()
		if app == nil || app.WebhookHandler == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "Parsed billing webhook event: %s (not applied, no database connection)\n", eventType)
			return nil
		}

		outcome, err := app.WebhookHandler.HandleEvent(cmd.Context(), &event)
		if err != nil {
			return fmt.Errorf("apply %s: %w", eventType, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Billing webhook event %s: %s\n", eventType, outcome)
		return nil
	},
}

func init() {
	webhookCmd.Flags().StringVar(&webhookEventPath, "event", "", "path to webhook event JSON")
}
