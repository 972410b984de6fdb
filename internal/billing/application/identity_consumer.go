package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/felixgeelhaar/coachpage/internal/billing/domain"
	"github.com/felixgeelhaar/coachpage/internal/shared/infrastructure/eventbus"
	"github.com/google/uuid"
)

// RoutingKeyIdentityCreated is published by the auth backend once per new user.
const RoutingKeyIdentityCreated = "identity.user.created"

// IdentityConsumer grants the signup trial for identity-creation events.
// Delivery is at least once; GrantTrial makes redelivery harmless.
type IdentityConsumer struct {
	service *Service
	logger  *slog.Logger
}

func NewIdentityConsumer(service *Service, logger *slog.Logger) *IdentityConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdentityConsumer{service: service, logger: logger}
}

func (c *IdentityConsumer) EventTypes() []string {
	return []string{RoutingKeyIdentityCreated}
}

type identityCreatedPayload struct {
	UserID uuid.UUID `json:"user_id"`
}

// Handle reads user_id from the payload, or the aggregate id when the
// payload carries none. Events without any identity are dropped since a
// retry cannot fix them; store errors are returned for redelivery.
func (c *IdentityConsumer) Handle(ctx context.Context, event *eventbus.ConsumedEvent) error {
	var payload identityCreatedPayload
	if err := event.Decode(&payload); err != nil && !errors.Is(err, eventbus.ErrNoPayload) {
		c.logger.WarnContext(ctx, "undecodable identity payload", "event_id", event.EventID, "error", err)
	}
	userID := payload.UserID
	if userID == uuid.Nil {
		userID = event.AggregateID
	}

	_, created, err := c.service.GrantTrial(ctx, userID)
	if errors.Is(err, domain.ErrInvalidUserID) {
		c.logger.WarnContext(ctx, "identity event without user id dropped", "event_id", event.EventID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("handle %s: %w", event.RoutingKey, err)
	}
	c.logger.DebugContext(ctx, "identity event handled",
		"event_id", event.EventID,
		"user_id", userID,
		"created", created,
	)
	return nil
}

var _ eventbus.EventConsumer = (*IdentityConsumer)(nil)
