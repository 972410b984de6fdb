package mcp

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/coachpage/adapter/cli"
)

func parseUUID(value string) (uuid.UUID, error) {
	if value == "" {
		return uuid.UUID{}, errors.New("id is required")
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("invalid id: %w", err)
	}
	return id, nil
}

// targetUser picks the explicit user id, else the configured current user.
func targetUser(app *cli.App, value string) (uuid.UUID, error) {
	if value != "" {
		return parseUUID(value)
	}
	if app != nil && app.CurrentUserID != uuid.Nil {
		return app.CurrentUserID, nil
	}
	return uuid.Nil, errors.New("user_id is required")
}

func parseOptionalTimestamp(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp, use RFC3339: %w", err)
	}
	return &parsed, nil
}
