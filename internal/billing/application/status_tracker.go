package application

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/felixgeelhaar/coachpage/internal/billing/domain"
	"github.com/google/uuid"
)

// RecordLookup loads a record, falling back to the basic model when the
// store is not migrated. *Service implements it.
type RecordLookup interface {
	Lookup(ctx context.Context, userID uuid.UUID) (rec *domain.EntitlementRecord, degraded bool, err error)
}

// TrackerSnapshot is the UI-facing view of the current identity's plan.
type TrackerSnapshot struct {
	IsPro         bool        `json:"is_pro"`
	Plan          domain.Plan `json:"plan"`
	DaysRemaining *int        `json:"days_remaining"`
	ExpiresAt     *time.Time  `json:"expires_at,omitempty"`
	Loading       bool        `json:"loading"`
	Degraded      bool        `json:"degraded,omitempty"`
}

// StatusTracker holds the entitlement of one signed-in identity. It fetches
// when the identity changes or on Refresh and never polls on its own.
type StatusTracker struct {
	source RecordLookup
	now    func() time.Time
	logger *slog.Logger

	mu       sync.RWMutex
	identity *uuid.UUID
	record   *domain.EntitlementRecord
	degraded bool
	loading  bool
	// gen increases with every SetIdentity and Refresh; only the fetch
	// started by the latest one may commit.
	gen uint64
}

func NewStatusTracker(source RecordLookup, now func() time.Time, logger *slog.Logger) *StatusTracker {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusTracker{source: source, now: now, logger: logger}
}

// SetIdentity switches to id and fetches its record. Passing the current
// identity again is a no-op; nil signs out.
func (t *StatusTracker) SetIdentity(ctx context.Context, id *uuid.UUID) error {
	t.mu.Lock()
	if sameIdentity(t.identity, id) {
		t.mu.Unlock()
		return nil
	}
	t.gen++
	t.record = nil
	t.degraded = false
	if id == nil {
		t.identity = nil
		t.loading = false
		t.mu.Unlock()
		return nil
	}
	current := *id
	t.identity = &current
	t.loading = true
	gen := t.gen
	t.mu.Unlock()

	return t.fetch(ctx, current, gen)
}

// Identity returns the identity being tracked, or nil when signed out.
func (t *StatusTracker) Identity() *uuid.UUID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.identity == nil {
		return nil
	}
	id := *t.identity
	return &id
}

// Refresh refetches the current identity's record.
func (t *StatusTracker) Refresh(ctx context.Context) error {
	t.mu.Lock()
	if t.identity == nil {
		t.mu.Unlock()
		return nil
	}
	t.gen++
	current := *t.identity
	t.loading = true
	gen := t.gen
	t.mu.Unlock()

	return t.fetch(ctx, current, gen)
}

func (t *StatusTracker) fetch(ctx context.Context, id uuid.UUID, gen uint64) error {
	rec, degraded, err := t.source.Lookup(ctx, id)

	t.mu.Lock()
	defer t.mu.Unlock()

	// A newer SetIdentity or Refresh owns the state now.
	if gen != t.gen {
		return err
	}
	t.loading = false
	if err != nil {
		t.logger.WarnContext(ctx, "entitlement refresh failed", "user_id", id, "error", err)
		return err
	}
	t.record = rec
	t.degraded = degraded
	return nil
}

// Snapshot derives the plan from the last fetched record at the current time.
func (t *StatusTracker) Snapshot() TrackerSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st := domain.EffectiveStatus(t.record, t.now())
	return TrackerSnapshot{
		IsPro:         st.EffectiveIsPro,
		Plan:          st.Plan,
		DaysRemaining: st.DaysRemaining,
		ExpiresAt:     st.ExpiresAt,
		Loading:       t.loading,
		Degraded:      t.degraded,
	}
}

func sameIdentity(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
