package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EntitlementRepository persists entitlement records. Every mutating method is
// a single conditional statement so concurrent writers never lose updates.
// Lookups return nil, nil when no record exists.
type EntitlementRepository interface {
	// FindByUserID reads the full record. It returns ErrSchemaOutdated when the
	// lifecycle columns are missing.
	FindByUserID(ctx context.Context, userID uuid.UUID) (*EntitlementRecord, error)

	// FindBasicByUserID reads only user_id and is_pro.
	FindBasicByUserID(ctx context.Context, userID uuid.UUID) (*EntitlementRecord, error)

	FindByStripeCustomerID(ctx context.Context, customerID string) (*EntitlementRecord, error)

	// InsertTrial creates a trial record unless one exists. created is false
	// when the record was already there; the existing record is returned untouched.
	InsertTrial(ctx context.Context, userID uuid.UUID, expiresAt, now time.Time) (rec *EntitlementRecord, created bool, err error)

	// UpsertSubscription applies snap unless the record is overridden. applied
	// is false for overridden records, which are returned unchanged.
	UpsertSubscription(ctx context.Context, snap SubscriptionSnapshot, now time.Time) (rec *EntitlementRecord, applied bool, err error)

	// ExpireDue downgrades up to limit due records and returns their ids.
	ExpireDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)

	// ApplyOverride writes a manual operator edit, creating the record if needed.
	ApplyOverride(ctx context.Context, edit OverrideEdit, now time.Time) (*EntitlementRecord, error)

	// ListOverrides returns overridden records, most recently updated first.
	ListOverrides(ctx context.Context, limit int) ([]EntitlementRecord, error)
}
