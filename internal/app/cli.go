package app

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/coachpage/adapter/cli"
)

// CLIApp exposes the container to the operator surfaces. userID is the
// default target of billing commands and may be empty.
func (c *Container) CLIApp(userID string) (*cli.App, error) {
	cliApp := cli.NewApp(c.BillingService)
	cliApp.SetWebhookHandler(c.WebhookHandler)
	cliApp.SetHealthRegistry(c.Health)

	if userID == "" {
		return cliApp, nil
	}
	id, err := uuid.Parse(userID)
	if err != nil {
		return nil, fmt.Errorf("invalid COACHPAGE_USER_ID %q: %w", userID, err)
	}
	cliApp.SetCurrentUserID(id)
	return cliApp, nil
}
