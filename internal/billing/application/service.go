package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/coachpage/internal/billing/domain"
	sharedDomain "github.com/felixgeelhaar/coachpage/internal/shared/domain"
	"github.com/felixgeelhaar/coachpage/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/coachpage/pkg/observability"
	"github.com/google/uuid"
)

// ErrUnavailable is returned by writes on a service without a repository.
var ErrUnavailable = errors.New("billing: entitlement store unavailable")

// DefaultSweepBatchSize bounds how many records one ExpireDue statement touches.
const DefaultSweepBatchSize = 500

// ServiceConfig wires a Service. Only Repository is required.
type ServiceConfig struct {
	Repository     domain.EntitlementRepository
	Subscriptions  domain.SubscriptionRepository
	Publisher      eventbus.Publisher
	Metrics        observability.Metrics
	Logger         *slog.Logger
	Now            func() time.Time
	TrialDuration  time.Duration
	SweepBatchSize int
}

// Service runs the entitlement writers and answers Pro questions.
type Service struct {
	repo      domain.EntitlementRepository
	subs      domain.SubscriptionRepository
	publisher eventbus.Publisher
	metrics   observability.Metrics
	logger    *slog.Logger
	now       func() time.Time
	trial     time.Duration
	batchSize int
}

// NewService creates a new billing service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = eventbus.NewNoopPublisher(cfg.Logger)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NoopMetrics{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.TrialDuration <= 0 {
		cfg.TrialDuration = domain.DefaultTrialDuration
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = DefaultSweepBatchSize
	}
	return &Service{
		repo:      cfg.Repository,
		subs:      cfg.Subscriptions,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger.With("component", "billing"),
		now:       cfg.Now,
		trial:     cfg.TrialDuration,
		batchSize: cfg.SweepBatchSize,
	}
}

// Now is the service clock in UTC.
func (s *Service) Now() time.Time {
	if s == nil || s.now == nil {
		return time.Now().UTC()
	}
	return s.now().UTC()
}

// GrantTrial seeds a trial for a new identity. A repeated call returns the
// existing record untouched with created false.
func (s *Service) GrantTrial(ctx context.Context, userID uuid.UUID) (*domain.EntitlementRecord, bool, error) {
	if s == nil || s.repo == nil {
		return nil, false, ErrUnavailable
	}
	if userID == uuid.Nil {
		return nil, false, domain.ErrInvalidUserID
	}

	now := s.Now()
	rec, created, err := s.repo.InsertTrial(ctx, userID, now.Add(s.trial), now)
	if err != nil {
		return nil, false, fmt.Errorf("grant trial for %s: %w", userID, err)
	}
	if !created {
		s.logger.DebugContext(ctx, "trial already granted", observability.UserIDKey, userID)
		return rec, false, nil
	}

	s.metrics.Counter(observability.MetricTrialsGranted, 1)
	s.logger.InfoContext(ctx, "trial granted",
		observability.UserIDKey, userID,
		"expires_at", rec.ProExpiresAt,
	)
	var expiresAt time.Time
	if rec.ProExpiresAt != nil {
		expiresAt = *rec.ProExpiresAt
	}
	s.publish(ctx, domain.NewTrialGranted(userID, expiresAt, now))
	return rec, true, nil
}

// SyncSubscription writes the provider's current truth. Overridden records
// are left alone and reported with applied false.
func (s *Service) SyncSubscription(ctx context.Context, snap domain.SubscriptionSnapshot) (*domain.EntitlementRecord, bool, error) {
	if s == nil || s.repo == nil {
		return nil, false, ErrUnavailable
	}
	if snap.UserID == uuid.Nil {
		return nil, false, domain.ErrInvalidUserID
	}

	now := s.Now()
	rec, applied, err := s.repo.UpsertSubscription(ctx, snap, now)
	if err != nil {
		return nil, false, fmt.Errorf("sync subscription for %s: %w", snap.UserID, err)
	}
	s.recordSubscription(ctx, snap, now)
	if !applied {
		s.metrics.Counter(observability.MetricSyncsSkipped, 1)
		s.logger.InfoContext(ctx, "subscription sync skipped for override",
			observability.UserIDKey, snap.UserID,
			"is_active", snap.IsActive,
		)
		return rec, false, nil
	}

	s.metrics.Counter(observability.MetricSubscriptionSyncs, 1, observability.T("active", fmt.Sprint(snap.IsActive)))
	s.logger.InfoContext(ctx, "subscription synced",
		observability.UserIDKey, snap.UserID,
		"is_active", snap.IsActive,
		"expires_at", rec.ProExpiresAt,
	)
	s.publish(ctx, domain.NewSubscriptionSynced(rec, now))
	return rec, true, nil
}

// recordSubscription stores the provider snapshot for operators. The
// entitlement write has already committed, so a failure here is only logged.
func (s *Service) recordSubscription(ctx context.Context, snap domain.SubscriptionSnapshot, now time.Time) {
	if s.subs == nil {
		return
	}
	sub := domain.SubscriptionFromSnapshot(snap, now)
	if sub == nil {
		return
	}
	if err := s.subs.Save(ctx, sub); err != nil {
		s.metrics.Counter(observability.MetricSubscriptionRecordFailures, 1)
		s.logger.WarnContext(ctx, "failed to record subscription snapshot",
			observability.UserIDKey, snap.UserID,
			"subscription_id", snap.SubscriptionID,
			"error", err,
		)
	}
}

// Subscription returns the last provider snapshot recorded for userID, or
// nil when none was recorded or no subscription store is configured.
func (s *Service) Subscription(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	if s == nil || s.subs == nil {
		return nil, nil
	}
	sub, err := s.subs.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load subscription for %s: %w", userID, err)
	}
	return sub, nil
}

// SweepExpired downgrades every due record in batches. It stops at the first
// failing batch and returns how many records were downgraded before it.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	if s == nil || s.repo == nil {
		return 0, ErrUnavailable
	}

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		now := s.Now()
		ids, err := s.repo.ExpireDue(ctx, now, s.batchSize)
		if err != nil {
			return total, fmt.Errorf("expire due entitlements: %w", err)
		}
		total += len(ids)
		for _, id := range ids {
			s.publish(ctx, domain.NewEntitlementExpired(id, now))
		}
		if len(ids) < s.batchSize {
			break
		}
	}

	if total > 0 {
		s.metrics.Counter(observability.MetricEntitlementsExpired, int64(total))
		s.logger.InfoContext(ctx, "expired entitlements downgraded", "count", total)
	}
	return total, nil
}

// Lookup reads the record for userID. When the store predates the lifecycle
// columns it falls back to the basic model and reports degraded.
func (s *Service) Lookup(ctx context.Context, userID uuid.UUID) (rec *domain.EntitlementRecord, degraded bool, err error) {
	if s == nil || s.repo == nil {
		return nil, false, nil
	}
	rec, err = s.repo.FindByUserID(ctx, userID)
	if errors.Is(err, domain.ErrSchemaOutdated) {
		s.logger.WarnContext(ctx, "entitlement schema outdated, using basic model", observability.UserIDKey, userID)
		rec, err = s.repo.FindBasicByUserID(ctx, userID)
		degraded = true
	}
	if err != nil {
		return nil, degraded, fmt.Errorf("load entitlement for %s: %w", userID, err)
	}
	return rec, degraded, nil
}

// Record returns the stored record or nil when the user has none.
func (s *Service) Record(ctx context.Context, userID uuid.UUID) (*domain.EntitlementRecord, error) {
	rec, _, err := s.Lookup(ctx, userID)
	return rec, err
}

// Status computes the effective status of userID now.
func (s *Service) Status(ctx context.Context, userID uuid.UUID) (domain.Status, error) {
	rec, _, err := s.Lookup(ctx, userID)
	if err != nil {
		return domain.Status{}, err
	}
	st := domain.EffectiveStatus(rec, s.Now())
	st.UserID = userID
	return st, nil
}

// HasPro reports effective Pro access for userID.
func (s *Service) HasPro(ctx context.Context, userID uuid.UUID) (bool, error) {
	st, err := s.Status(ctx, userID)
	if err != nil {
		return false, err
	}
	return st.EffectiveIsPro, nil
}

// RequirePro returns domain.ErrProRequired unless userID has effective Pro.
func (s *Service) RequirePro(ctx context.Context, userID uuid.UUID, feature string) error {
	if s == nil || s.repo == nil {
		return ErrUnavailable
	}
	ok, err := s.HasPro(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		s.metrics.Counter(observability.MetricProGateDenied, 1, observability.T("feature", feature))
		return fmt.Errorf("%s: %w", feature, domain.ErrProRequired)
	}
	return nil
}

// Comp grants a permanent manual Pro comp.
func (s *Service) Comp(ctx context.Context, userID uuid.UUID, notes string) (*domain.EntitlementRecord, error) {
	return s.ApplyOverride(ctx, domain.CompEdit(userID, notes))
}

// Revoke removes a comp along with its grant.
func (s *Service) Revoke(ctx context.Context, userID uuid.UUID, notes string) (*domain.EntitlementRecord, error) {
	return s.ApplyOverride(ctx, domain.RevokeEdit(userID, notes))
}

// ApplyOverride writes an operator edit.
func (s *Service) ApplyOverride(ctx context.Context, edit domain.OverrideEdit) (*domain.EntitlementRecord, error) {
	if s == nil || s.repo == nil {
		return nil, ErrUnavailable
	}
	if edit.UserID == uuid.Nil {
		return nil, domain.ErrInvalidUserID
	}

	now := s.Now()
	rec, err := s.repo.ApplyOverride(ctx, edit, now)
	if err != nil {
		return nil, fmt.Errorf("apply override for %s: %w", edit.UserID, err)
	}

	s.metrics.Counter(observability.MetricOverridesApplied, 1, observability.T("override", fmt.Sprint(edit.Override)))
	s.logger.InfoContext(ctx, "entitlement override applied",
		observability.UserIDKey, edit.UserID,
		"override", rec.OverridePro,
		"is_pro", rec.IsPro,
	)
	s.publish(ctx, domain.NewOverrideChanged(rec, now))
	return rec, nil
}

// ListOverrides returns comped records, newest first.
func (s *Service) ListOverrides(ctx context.Context, limit int) ([]domain.EntitlementRecord, error) {
	if s == nil || s.repo == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	return s.repo.ListOverrides(ctx, limit)
}

// FindByStripeCustomerID resolves a billing customer to its record.
func (s *Service) FindByStripeCustomerID(ctx context.Context, customerID string) (*domain.EntitlementRecord, error) {
	if s == nil || s.repo == nil || customerID == "" {
		return nil, nil
	}
	return s.repo.FindByStripeCustomerID(ctx, customerID)
}

// publish announces a committed write. Failures are logged and never
// reach the caller.
func (s *Service) publish(ctx context.Context, event sharedDomain.StampedEvent) {
	event.SetMetadata(sharedDomain.EventMetadata{
		CorrelationID: observability.CorrelationIDFromContext(ctx),
		UserID:        event.AggregateID(),
	})

	result := "ok"
	if err := eventbus.PublishEvent(ctx, s.publisher, event); err != nil {
		result = "error"
		s.logger.WarnContext(ctx, "failed to publish entitlement event",
			"routing_key", event.RoutingKey(),
			"error", err,
		)
	}
	s.metrics.Counter(observability.MetricEventsPublished, 1,
		observability.T("routing_key", event.RoutingKey()),
		observability.T("result", result),
	)
}
