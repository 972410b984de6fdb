package domain

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// DefaultTrialDuration is the Pro trial every new identity receives.
const DefaultTrialDuration = 7 * 24 * time.Hour

// Plan is the display tier shown to a coach.
type Plan string

const (
	PlanPro   Plan = "pro"
	PlanTrial Plan = "trial"
	PlanFree  Plan = "free"
)

// EntitlementRecord holds the raw inputs to the Pro decision for one user.
// Only the billing context writes it.
type EntitlementRecord struct {
	UserID           uuid.UUID
	IsPro            bool
	ProExpiresAt     *time.Time
	OverridePro      bool
	StripeCustomerID *string
	Notes            *string
	UpdatedAt        time.Time
}

// SubscriptionSnapshot is the billing provider's current truth for one user.
type SubscriptionSnapshot struct {
	UserID           uuid.UUID
	StripeCustomerID string
	IsActive         bool
	CurrentPeriodEnd *time.Time

	// SubscriptionID and ProviderStatus describe the provider object the
	// snapshot came from. Both are optional.
	SubscriptionID string
	ProviderStatus SubscriptionStatus
}

// OverrideEdit is a manual operator change. Comping sets Override and IsPro
// with no expiry; revoking clears both.
type OverrideEdit struct {
	UserID    uuid.UUID
	Override  bool
	IsPro     bool
	ExpiresAt *time.Time
	Notes     *string
}

// CompEdit grants a permanent manual Pro comp.
func CompEdit(userID uuid.UUID, notes string) OverrideEdit {
	edit := OverrideEdit{UserID: userID, Override: true, IsPro: true}
	if notes != "" {
		edit.Notes = &notes
	}
	return edit
}

// RevokeEdit removes a comp and the grant with it.
func RevokeEdit(userID uuid.UUID, notes string) OverrideEdit {
	edit := OverrideEdit{UserID: userID}
	if notes != "" {
		edit.Notes = &notes
	}
	return edit
}

// Status is the derived, authoritative view of a record at a point in time.
type Status struct {
	UserID         uuid.UUID  `json:"user_id"`
	EffectiveIsPro bool       `json:"is_pro"`
	Plan           Plan       `json:"plan"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	Override       bool       `json:"override"`
	DaysRemaining  *int       `json:"days_remaining,omitempty"`
}

// EffectiveStatus decides whether rec grants Pro at now. Rules apply in order:
//  1. is_pro false revokes, even over an override
//  2. an override grants regardless of expiry
//  3. no expiry is a permanent grant
//  4. an expiry still ahead of now grants
//  5. anything else has lapsed, swept or not
//
// A nil record is a free user.
func EffectiveStatus(rec *EntitlementRecord, now time.Time) Status {
	if rec == nil {
		return Status{Plan: PlanFree}
	}

	st := Status{
		UserID:        rec.UserID,
		ExpiresAt:     rec.ProExpiresAt,
		Override:      rec.OverridePro,
		DaysRemaining: DaysRemaining(rec.ProExpiresAt, now),
	}

	switch {
	case !rec.IsPro:
		st.EffectiveIsPro = false
	case rec.OverridePro:
		st.EffectiveIsPro = true
	case rec.ProExpiresAt == nil:
		st.EffectiveIsPro = true
	default:
		st.EffectiveIsPro = rec.ProExpiresAt.After(now)
	}

	switch {
	case st.EffectiveIsPro:
		st.Plan = PlanPro
	case rec.ProExpiresAt != nil && rec.ProExpiresAt.After(now):
		st.Plan = PlanTrial
	default:
		st.Plan = PlanFree
	}
	return st
}

// DaysRemaining is the whole number of days, rounded up, until expiresAt.
// It is nil without an expiry and never negative.
func DaysRemaining(expiresAt *time.Time, now time.Time) *int {
	if expiresAt == nil {
		return nil
	}
	left := expiresAt.Sub(now)
	days := 0
	if left > 0 {
		days = int(math.Ceil(left.Hours() / 24))
	}
	return &days
}

// IsExpiryDue reports whether the sweep should downgrade rec at now.
func (r *EntitlementRecord) IsExpiryDue(now time.Time) bool {
	return r != nil &&
		r.IsPro &&
		!r.OverridePro &&
		r.ProExpiresAt != nil &&
		r.ProExpiresAt.Before(now)
}
