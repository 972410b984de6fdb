package billing

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/coachpage/adapter/cli"
	"github.com/felixgeelhaar/coachpage/internal/billing/domain"
)

// Cmd is the billing command group.
var Cmd = &cobra.Command{
	Use:   "billing",
	Short: "Manage Pro entitlements",
	Long:  `Inspect and change Pro entitlements: trials, subscription syncs, expiry sweeps and manual comps.`,
}

func init() {
	Cmd.AddCommand(statusCmd)
	Cmd.AddCommand(trialCmd)
	Cmd.AddCommand(syncCmd)
	Cmd.AddCommand(compCmd)
	Cmd.AddCommand(revokeCmd)
	Cmd.AddCommand(compsCmd)
	Cmd.AddCommand(sweepCmd)
	Cmd.AddCommand(webhookCmd)
}

var errNoDatabase = errors.New("billing commands require database connection")

// targetUser resolves the user a command acts on: the first argument, else
// the configured current user.
func targetUser(args []string, app *cli.App) (uuid.UUID, error) {
	if len(args) > 0 {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return uuid.Nil, fmt.Errorf("invalid user id %q: %w", args[0], err)
		}
		return id, nil
	}
	if app != nil && app.CurrentUserID != uuid.Nil {
		return app.CurrentUserID, nil
	}
	return uuid.Nil, errors.New("user id is required (argument or COACHPAGE_USER_ID)")
}

func printRecord(out io.Writer, rec *domain.EntitlementRecord) {
	if rec == nil {
		fmt.Fprintln(out, "No entitlement record.")
		return
	}
	fmt.Fprintf(out, "User:     %s\n", rec.UserID)
	fmt.Fprintf(out, "Pro flag: %t\n", rec.IsPro)
	fmt.Fprintf(out, "Override: %t\n", rec.OverridePro)
	if rec.ProExpiresAt != nil {
		fmt.Fprintf(out, "Expires:  %s\n", rec.ProExpiresAt.Format(time.RFC3339))
	}
	if rec.StripeCustomerID != nil {
		fmt.Fprintf(out, "Customer: %s\n", *rec.StripeCustomerID)
	}
	if rec.Notes != nil {
		fmt.Fprintf(out, "Notes:    %s\n", *rec.Notes)
	}
}
