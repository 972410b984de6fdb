package application

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/coachpage/internal/billing/domain"
	"github.com/felixgeelhaar/coachpage/internal/billing/infrastructure/persistence"
	"github.com/felixgeelhaar/coachpage/internal/shared/infrastructure/database"
	_ "github.com/felixgeelhaar/coachpage/internal/shared/infrastructure/database/sqlite"
	"github.com/felixgeelhaar/coachpage/internal/shared/infrastructure/migrations"
	"github.com/felixgeelhaar/coachpage/pkg/observability"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingPublisher keeps routing keys of published events.
type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, routingKey string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, routingKey)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

type testEnv struct {
	svc     *Service
	repo    domain.EntitlementRepository
	clock   *fakeClock
	pub     *recordingPublisher
	metrics *observability.InMemoryMetrics
}

func openRepo(t *testing.T, upTo int) domain.EntitlementRepository {
	t.Helper()
	conn, err := database.Open(context.Background(), database.Config{
		Driver:     database.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "billing.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	_, err = migrations.UpTo(context.Background(), conn, upTo)
	require.NoError(t, err)

	repo, err := persistence.NewEntitlementRepository(conn)
	require.NoError(t, err)
	return repo
}

func newTestEnv(t *testing.T, batchSize int) *testEnv {
	t.Helper()
	env := &testEnv{
		repo:    openRepo(t, migrations.Latest),
		clock:   &fakeClock{now: t0},
		pub:     &recordingPublisher{},
		metrics: observability.NewInMemoryMetrics(),
	}
	env.svc = NewService(ServiceConfig{
		Repository:     env.repo,
		Publisher:      env.pub,
		Metrics:        env.metrics,
		Logger:         quiet(),
		Now:            env.clock.Now,
		SweepBatchSize: batchSize,
	})
	return env
}

func TestGrantTrial_Idempotent(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	userID := uuid.New()

	rec, created, err := env.svc.GrantTrial(ctx, userID)
	require.NoError(t, err)
	require.True(t, created)
	assert.True(t, rec.IsPro)
	assert.False(t, rec.OverridePro)
	assert.Nil(t, rec.StripeCustomerID)
	require.NotNil(t, rec.ProExpiresAt)
	assert.True(t, rec.ProExpiresAt.Equal(t0.Add(7*24*time.Hour)))

	env.clock.Advance(2 * time.Hour)
	again, created, err := env.svc.GrantTrial(ctx, userID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, again.ProExpiresAt.Equal(*rec.ProExpiresAt))

	assert.Equal(t, []string{domain.RoutingKeyTrialGranted}, env.pub.Keys())
	assert.Equal(t, int64(1), env.metrics.GetCounter(observability.MetricTrialsGranted))
}

func TestGrantTrial_RejectsNilUser(t *testing.T) {
	env := newTestEnv(t, 0)

	_, _, err := env.svc.GrantTrial(context.Background(), uuid.Nil)
	assert.ErrorIs(t, err, domain.ErrInvalidUserID)
}

func TestGrantTrial_CustomDuration(t *testing.T) {
	clock := &fakeClock{now: t0}
	svc := NewService(ServiceConfig{
		Repository:    openRepo(t, migrations.Latest),
		Now:           clock.Now,
		TrialDuration: 14 * 24 * time.Hour,
	})

	rec, _, err := svc.GrantTrial(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.True(t, rec.ProExpiresAt.Equal(t0.Add(14*24*time.Hour)))
}

func TestCompImmuneToExpiry(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	userID := uuid.New()
	past := t0.Add(-24 * time.Hour)

	_, err := env.svc.ApplyOverride(ctx, domain.OverrideEdit{
		UserID: userID, Override: true, IsPro: true, ExpiresAt: &past,
	})
	require.NoError(t, err)

	ok, err := env.svc.HasPro(ctx, userID)
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := env.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	rec, err := env.svc.Record(ctx, userID)
	require.NoError(t, err)
	assert.True(t, rec.IsPro)
}

func TestCompImmuneToBillingCancellation(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	userID := uuid.New()

	comped, err := env.svc.Comp(ctx, userID, "partner coach")
	require.NoError(t, err)

	rec, applied, err := env.svc.SyncSubscription(ctx, domain.SubscriptionSnapshot{
		UserID:           userID,
		StripeCustomerID: "cus_123",
		IsActive:         false,
	})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.True(t, rec.IsPro)
	assert.True(t, rec.OverridePro)
	assert.Nil(t, rec.ProExpiresAt)
	assert.Nil(t, rec.StripeCustomerID)
	assert.Equal(t, comped.Notes, rec.Notes)

	assert.Equal(t, int64(1), env.metrics.GetCounter(observability.MetricSyncsSkipped))
	assert.NotContains(t, env.pub.Keys(), domain.RoutingKeySubscriptionSynced)
}

func TestSweepDowngradesExpiredTrials(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	userID := uuid.New()

	_, _, err := env.svc.GrantTrial(ctx, userID)
	require.NoError(t, err)

	env.clock.Advance(8 * 24 * time.Hour)
	n, err := env.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = env.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	rec, err := env.svc.Record(ctx, userID)
	require.NoError(t, err)
	assert.False(t, rec.IsPro)
	assert.Contains(t, env.pub.Keys(), domain.RoutingKeyExpired)
	assert.Equal(t, int64(1), env.metrics.GetCounter(observability.MetricEntitlementsExpired))
}

func TestSweepNeverTouchesPermanentGrants(t *testing.T) {
	for _, override := range []bool{false, true} {
		env := newTestEnv(t, 0)
		ctx := context.Background()
		userID := uuid.New()

		_, err := env.svc.ApplyOverride(ctx, domain.OverrideEdit{UserID: userID, Override: override, IsPro: true})
		require.NoError(t, err)

		env.clock.Advance(365 * 24 * time.Hour)
		_, err = env.svc.SweepExpired(ctx)
		require.NoError(t, err)

		rec, err := env.svc.Record(ctx, userID)
		require.NoError(t, err)
		assert.True(t, rec.IsPro, "override=%v", override)
	}
}

func TestSweepLoopsBatches(t *testing.T) {
	env := newTestEnv(t, 2)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _, err := env.svc.GrantTrial(ctx, uuid.New())
		require.NoError(t, err)
	}
	env.clock.Advance(8 * 24 * time.Hour)

	n, err := env.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestRevokedOverrideIsNotPro(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	userID := uuid.New()

	_, err := env.svc.ApplyOverride(ctx, domain.OverrideEdit{UserID: userID, Override: true, IsPro: false})
	require.NoError(t, err)

	st, err := env.svc.Status(ctx, userID)
	require.NoError(t, err)
	assert.False(t, st.EffectiveIsPro)
	assert.True(t, st.Override)
	assert.Equal(t, domain.PlanFree, st.Plan)

	err = env.svc.RequirePro(ctx, userID, "ai_insights")
	assert.ErrorIs(t, err, domain.ErrProRequired)
	assert.Equal(t, int64(1), env.metrics.GetCounter(observability.MetricProGateDenied, observability.T("feature", "ai_insights")))
}

func TestActiveSubscriptionActivates(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	userID := uuid.New()
	periodEnd := t0.Add(30 * 24 * time.Hour)

	rec, applied, err := env.svc.SyncSubscription(ctx, domain.SubscriptionSnapshot{
		UserID:           userID,
		StripeCustomerID: "cus_777",
		IsActive:         true,
		CurrentPeriodEnd: &periodEnd,
	})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.True(t, rec.IsPro)
	require.NotNil(t, rec.ProExpiresAt)
	assert.WithinDuration(t, periodEnd, *rec.ProExpiresAt, time.Second)
	require.NotNil(t, rec.StripeCustomerID)
	assert.Equal(t, "cus_777", *rec.StripeCustomerID)

	found, err := env.svc.FindByStripeCustomerID(ctx, "cus_777")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, userID, found.UserID)
}

func TestScenario_TrialLifecycle(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	userID := uuid.New()

	_, _, err := env.svc.GrantTrial(ctx, userID)
	require.NoError(t, err)

	env.clock.Advance(3 * 24 * time.Hour)
	st, err := env.svc.Status(ctx, userID)
	require.NoError(t, err)
	assert.True(t, st.EffectiveIsPro)
	assert.Equal(t, domain.PlanPro, st.Plan)
	require.NotNil(t, st.DaysRemaining)
	assert.Equal(t, 4, *st.DaysRemaining)

	env.clock.Advance(5 * 24 * time.Hour)
	st, err = env.svc.Status(ctx, userID)
	require.NoError(t, err)
	assert.False(t, st.EffectiveIsPro)
	assert.Equal(t, domain.PlanFree, st.Plan)

	rec, err := env.svc.Record(ctx, userID)
	require.NoError(t, err)
	assert.True(t, rec.IsPro, "stored bit stays until the sweep runs")

	_, err = env.svc.SweepExpired(ctx)
	require.NoError(t, err)
	rec, err = env.svc.Record(ctx, userID)
	require.NoError(t, err)
	assert.False(t, rec.IsPro)
}

func TestScenario_CompAfterExpiredTrial(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	userID := uuid.New()

	_, _, err := env.svc.GrantTrial(ctx, userID)
	require.NoError(t, err)
	env.clock.Advance(10 * 24 * time.Hour)
	_, err = env.svc.SweepExpired(ctx)
	require.NoError(t, err)

	_, err = env.svc.Comp(ctx, userID, "comped")
	require.NoError(t, err)

	ok, err := env.svc.HasPro(ctx, userID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, applied, err := env.svc.SyncSubscription(ctx, domain.SubscriptionSnapshot{UserID: userID, StripeCustomerID: "cus_1"})
	require.NoError(t, err)
	assert.False(t, applied)

	rec, err := env.svc.Record(ctx, userID)
	require.NoError(t, err)
	assert.True(t, rec.IsPro)
	assert.True(t, rec.OverridePro)
	assert.Nil(t, rec.ProExpiresAt)
	require.NotNil(t, rec.Notes)
	assert.Equal(t, "comped", *rec.Notes)

	overrides, err := env.svc.ListOverrides(ctx, 0)
	require.NoError(t, err)
	require.Len(t, overrides, 1)
	assert.Equal(t, userID, overrides[0].UserID)
}

func TestScenario_SubscribeThenCancel(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	userID := uuid.New()
	periodEnd := t0.Add(30 * 24 * time.Hour)

	_, _, err := env.svc.SyncSubscription(ctx, domain.SubscriptionSnapshot{
		UserID: userID, StripeCustomerID: "cus_9", IsActive: true, CurrentPeriodEnd: &periodEnd,
	})
	require.NoError(t, err)

	rec, applied, err := env.svc.SyncSubscription(ctx, domain.SubscriptionSnapshot{
		UserID: userID, StripeCustomerID: "cus_9", IsActive: false,
	})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.False(t, rec.IsPro)
	assert.Nil(t, rec.ProExpiresAt)
	require.NotNil(t, rec.StripeCustomerID)
	assert.Equal(t, "cus_9", *rec.StripeCustomerID)
}

func TestRevokeClearsComp(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	userID := uuid.New()

	_, err := env.svc.Comp(ctx, userID, "")
	require.NoError(t, err)
	rec, err := env.svc.Revoke(ctx, userID, "left the program")
	require.NoError(t, err)

	assert.False(t, rec.IsPro)
	assert.False(t, rec.OverridePro)
	assert.Equal(t, []string{domain.RoutingKeyOverrideChanged, domain.RoutingKeyOverrideChanged}, env.pub.Keys())
}

func TestPublishFailureDoesNotFailWrite(t *testing.T) {
	env := newTestEnv(t, 0)
	env.pub.err = errors.New("broker down")

	rec, created, err := env.svc.GrantTrial(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotNil(t, rec)
	assert.Equal(t, int64(1), env.metrics.GetCounter(observability.MetricEventsPublished,
		observability.T("routing_key", domain.RoutingKeyTrialGranted),
		observability.T("result", "error"),
	))
}

func TestStatus_FallsBackToBasicSchema(t *testing.T) {
	repo := openRepo(t, 1)
	svc := NewService(ServiceConfig{Repository: repo})
	ctx := context.Background()

	st, err := svc.Status(ctx, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, domain.PlanFree, st.Plan)

	_, degraded, err := svc.Lookup(ctx, uuid.New())
	require.NoError(t, err)
	assert.True(t, degraded)
}

// failingRepo returns err from every call.
type failingRepo struct {
	domain.EntitlementRepository
	err error
}

func (f failingRepo) FindByUserID(context.Context, uuid.UUID) (*domain.EntitlementRecord, error) {
	return nil, f.err
}

func (f failingRepo) UpsertSubscription(context.Context, domain.SubscriptionSnapshot, time.Time) (*domain.EntitlementRecord, bool, error) {
	return nil, false, f.err
}

func (f failingRepo) ExpireDue(context.Context, time.Time, int) ([]uuid.UUID, error) {
	return nil, f.err
}

func TestStoreErrorsPropagate(t *testing.T) {
	boom := errors.New("connection reset")
	svc := NewService(ServiceConfig{Repository: failingRepo{err: boom}})
	ctx := context.Background()

	_, _, err := svc.SyncSubscription(ctx, domain.SubscriptionSnapshot{UserID: uuid.New()})
	assert.ErrorIs(t, err, boom)

	n, err := svc.SweepExpired(ctx)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, n)

	_, err = svc.HasPro(ctx, uuid.New())
	assert.ErrorIs(t, err, boom)
}

func TestNilService(t *testing.T) {
	var svc *Service
	ctx := context.Background()

	_, _, err := svc.GrantTrial(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrUnavailable)

	st, err := svc.Status(ctx, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, domain.PlanFree, st.Plan)

	assert.ErrorIs(t, svc.RequirePro(ctx, uuid.New(), "x"), ErrUnavailable)
}
