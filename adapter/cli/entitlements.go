package cli

import (
	"context"
)

// RequirePro ensures the current user has effective Pro before a gated
// command runs. Without a billing service nothing is enforced.
func RequirePro(ctx context.Context, app *App, feature string) error {
	if app == nil || app.BillingService == nil {
		return nil
	}
	return app.BillingService.RequirePro(ctx, app.CurrentUserID, feature)
}
