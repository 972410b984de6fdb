package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus is the billing provider's state for a subscription.
type SubscriptionStatus string

const (
	SubscriptionActive     SubscriptionStatus = "active"
	SubscriptionTrialing   SubscriptionStatus = "trialing"
	SubscriptionPastDue    SubscriptionStatus = "past_due"
	SubscriptionUnpaid     SubscriptionStatus = "unpaid"
	SubscriptionPaused     SubscriptionStatus = "paused"
	SubscriptionIncomplete SubscriptionStatus = "incomplete"
	SubscriptionCanceled   SubscriptionStatus = "canceled"
)

// Subscription is the last provider snapshot seen for a user. It is kept
// for operators; entitlement decisions read EntitlementRecord only.
type Subscription struct {
	UserID           uuid.UUID
	SubscriptionID   string
	CustomerID       string
	Status           SubscriptionStatus
	CurrentPeriodEnd *time.Time
	UpdatedAt        time.Time
}

// SubscriptionFromSnapshot returns the row to store for snap, or nil when
// snap does not name a provider subscription.
func SubscriptionFromSnapshot(snap SubscriptionSnapshot, now time.Time) *Subscription {
	if snap.SubscriptionID == "" {
		return nil
	}
	status := snap.ProviderStatus
	if status == "" {
		status = SubscriptionCanceled
		if snap.IsActive {
			status = SubscriptionActive
		}
	}
	return &Subscription{
		UserID:           snap.UserID,
		SubscriptionID:   snap.SubscriptionID,
		CustomerID:       snap.StripeCustomerID,
		Status:           status,
		CurrentPeriodEnd: snap.CurrentPeriodEnd,
		UpdatedAt:        now,
	}
}

// SubscriptionRepository keeps one subscription row per user.
type SubscriptionRepository interface {
	// Save replaces the user's row in a single upsert.
	Save(ctx context.Context, sub *Subscription) error
	// FindByUserID returns nil, nil when nothing was recorded.
	FindByUserID(ctx context.Context, userID uuid.UUID) (*Subscription, error)
}
