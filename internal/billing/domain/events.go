package domain

import (
	"time"

	"github.com/google/uuid"

	sharedDomain "github.com/felixgeelhaar/coachpage/internal/shared/domain"
)

const aggregateType = "ProEntitlement"

// Routing keys for entitlement events.
const (
	RoutingKeyTrialGranted       = "billing.entitlement.trial_granted"
	RoutingKeySubscriptionSynced = "billing.entitlement.subscription_synced"
	RoutingKeyExpired            = "billing.entitlement.expired"
	RoutingKeyOverrideChanged    = "billing.entitlement.override_changed"
)

// TrialGranted is emitted when a new identity receives its trial.
type TrialGranted struct {
	sharedDomain.BaseEvent
	UserID    uuid.UUID `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

func NewTrialGranted(userID uuid.UUID, expiresAt, at time.Time) *TrialGranted {
	return &TrialGranted{
		BaseEvent: sharedDomain.NewEvent(userID, aggregateType, RoutingKeyTrialGranted, at),
		UserID:    userID,
		ExpiresAt: expiresAt,
	}
}

// SubscriptionSynced is emitted when billing state was written to a record.
type SubscriptionSynced struct {
	sharedDomain.BaseEvent
	UserID           uuid.UUID  `json:"user_id"`
	StripeCustomerID string     `json:"stripe_customer_id"`
	IsPro            bool       `json:"is_pro"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
}

func NewSubscriptionSynced(rec *EntitlementRecord, at time.Time) *SubscriptionSynced {
	customerID := ""
	if rec.StripeCustomerID != nil {
		customerID = *rec.StripeCustomerID
	}
	return &SubscriptionSynced{
		BaseEvent:        sharedDomain.NewEvent(rec.UserID, aggregateType, RoutingKeySubscriptionSynced, at),
		UserID:           rec.UserID,
		StripeCustomerID: customerID,
		IsPro:            rec.IsPro,
		ExpiresAt:        rec.ProExpiresAt,
	}
}

// EntitlementExpired is emitted for each record the sweep downgraded.
type EntitlementExpired struct {
	sharedDomain.BaseEvent
	UserID  uuid.UUID `json:"user_id"`
	SweptAt time.Time `json:"swept_at"`
}

func NewEntitlementExpired(userID uuid.UUID, sweptAt time.Time) *EntitlementExpired {
	return &EntitlementExpired{
		BaseEvent: sharedDomain.NewEvent(userID, aggregateType, RoutingKeyExpired, sweptAt),
		UserID:    userID,
		SweptAt:   sweptAt,
	}
}

// OverrideChanged is emitted when an operator comps or revokes a user.
type OverrideChanged struct {
	sharedDomain.BaseEvent
	UserID   uuid.UUID `json:"user_id"`
	Override bool      `json:"override"`
	IsPro    bool      `json:"is_pro"`
}

func NewOverrideChanged(rec *EntitlementRecord, at time.Time) *OverrideChanged {
	return &OverrideChanged{
		BaseEvent: sharedDomain.NewEvent(rec.UserID, aggregateType, RoutingKeyOverrideChanged, at),
		UserID:    rec.UserID,
		Override:  rec.OverridePro,
		IsPro:     rec.IsPro,
	}
}
