package stripe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"

	"github.com/felixgeelhaar/coachpage/internal/billing/domain"
	"github.com/felixgeelhaar/coachpage/internal/shared/infrastructure/idempotency"
	"github.com/felixgeelhaar/coachpage/pkg/observability"
)

const testSecret = "whsec_test_secret"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSyncer records snapshots and serves customer links.
type fakeSyncer struct {
	mu        sync.Mutex
	snaps     []domain.SubscriptionSnapshot
	customers map[string]uuid.UUID
	comped    map[uuid.UUID]bool
	err       error
	entered   chan struct{}
	block     chan struct{}
}

func (f *fakeSyncer) SyncSubscription(_ context.Context, snap domain.SubscriptionSnapshot) (*domain.EntitlementRecord, bool, error) {
	if f.block != nil {
		f.entered <- struct{}{}
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, false, f.err
	}
	if f.comped[snap.UserID] {
		return &domain.EntitlementRecord{UserID: snap.UserID, IsPro: true, OverridePro: true}, false, nil
	}
	f.snaps = append(f.snaps, snap)
	return &domain.EntitlementRecord{UserID: snap.UserID, IsPro: snap.IsActive, ProExpiresAt: snap.CurrentPeriodEnd}, true, nil
}

func (f *fakeSyncer) FindByStripeCustomerID(_ context.Context, customerID string) (*domain.EntitlementRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.customers[customerID]; ok {
		return &domain.EntitlementRecord{UserID: id}, nil
	}
	return nil, nil
}

func (f *fakeSyncer) Snaps() []domain.SubscriptionSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.SubscriptionSnapshot(nil), f.snaps...)
}

// fakeAPI serves canned Stripe objects.
type fakeAPI struct {
	subs      map[string]*Subscription
	customers map[string]string
	err       error
	calls     int
}

func (f *fakeAPI) Subscription(_ context.Context, id string) (*Subscription, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	sub, ok := f.subs[id]
	if !ok {
		return nil, fmt.Errorf("no such subscription %s", id)
	}
	return sub, nil
}

func (f *fakeAPI) CustomerUserID(_ context.Context, customerID string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.customers[customerID], nil
}

func signedRequest(t *testing.T, secret, payload string) *http.Request {
	t.Helper()

	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func eventJSON(t *testing.T, id, eventType string, object any) string {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"id":     id,
		"object": "event",
		"type":   eventType,
		"data":   map[string]any{"object": object},
	})
	require.NoError(t, err)
	return string(raw)
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body webhookReceivedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Received)
	return body.Status
}

func TestWebhook_RejectsBadRequests(t *testing.T) {
	handler := NewWebhookHandler(WebhookConfig{Secret: testSecret, Syncer: &fakeSyncer{}, Logger: quietLogger()})

	t.Run("method", func(t *testing.T) {
		rec := serve(handler, httptest.NewRequest(http.MethodGet, "/webhooks/stripe", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("missing signature", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader([]byte(`{}`)))
		assert.Equal(t, http.StatusBadRequest, serve(handler, req).Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		req := signedRequest(t, "whsec_other", eventJSON(t, "evt_1", EventSubscriptionUpdated, map[string]any{"id": "sub_1"}))
		rec := serve(handler, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid Stripe signature")
	})

	t.Run("tampered body", func(t *testing.T) {
		req := signedRequest(t, testSecret, eventJSON(t, "evt_1", EventSubscriptionUpdated, map[string]any{"id": "sub_1"}))
		req.Body = io.NopCloser(bytes.NewReader([]byte(`{"id":"evt_1","type":"customer.subscription.deleted"}`)))
		assert.Equal(t, http.StatusBadRequest, serve(handler, req).Code)
	})

	t.Run("oversized body", func(t *testing.T) {
		big := bytes.Repeat([]byte("a"), webhookBodyLimit+1)
		req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(big))
		req.Header.Set("Stripe-Signature", "t=1,v1=abc")
		assert.Equal(t, http.StatusBadRequest, serve(handler, req).Code)
	})
}

func TestWebhook_NoSecretConfigured(t *testing.T) {
	handler := NewWebhookHandler(WebhookConfig{Syncer: &fakeSyncer{}, Logger: quietLogger()})

	req := signedRequest(t, testSecret, eventJSON(t, "evt_1", EventSubscriptionUpdated, map[string]any{}))
	assert.Equal(t, http.StatusServiceUnavailable, serve(handler, req).Code)
}

func TestWebhook_SubscriptionUpdatedSyncs(t *testing.T) {
	syncer := &fakeSyncer{}
	metrics := observability.NewInMemoryMetrics()
	handler := NewWebhookHandler(WebhookConfig{Secret: testSecret, Syncer: syncer, Metrics: metrics, Logger: quietLogger()})
	userID := uuid.New()
	periodEnd := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	rec := serve(handler, signedRequest(t, testSecret, eventJSON(t, "evt_up", EventSubscriptionUpdated, map[string]any{
		"id":       "sub_1",
		"object":   "subscription",
		"customer": "cus_1",
		"status":   "active",
		"metadata": map[string]string{"user_id": userID.String()},
		"items": map[string]any{"data": []map[string]any{
			{"id": "si_1", "current_period_end": periodEnd.Unix()},
		}},
	})))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, OutcomeProcessed, decodeStatus(t, rec))

	snaps := syncer.Snaps()
	require.Len(t, snaps, 1)
	assert.Equal(t, userID, snaps[0].UserID)
	assert.Equal(t, "cus_1", snaps[0].StripeCustomerID)
	assert.True(t, snaps[0].IsActive)
	require.NotNil(t, snaps[0].CurrentPeriodEnd)
	assert.True(t, periodEnd.Equal(*snaps[0].CurrentPeriodEnd))
	assert.Equal(t, "sub_1", snaps[0].SubscriptionID)
	assert.Equal(t, domain.SubscriptionActive, snaps[0].ProviderStatus)

	assert.Equal(t, int64(1), metrics.GetCounter(observability.MetricWebhookRequests,
		observability.T("type", EventSubscriptionUpdated),
		observability.T("status", "200"),
	))
}

func TestWebhook_StatusMapping(t *testing.T) {
	tests := []struct {
		eventType string
		status    string
		active    bool
		hasEnd    bool
	}{
		{EventSubscriptionCreated, "trialing", true, true},
		{EventSubscriptionUpdated, "past_due", false, true},
		{EventSubscriptionUpdated, "canceled", false, true},
		{EventSubscriptionPaused, "paused", false, true},
		{EventSubscriptionResumed, "active", true, true},
		{EventSubscriptionDeleted, "active", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.eventType+"/"+tt.status, func(t *testing.T) {
			syncer := &fakeSyncer{}
			handler := NewWebhookHandler(WebhookConfig{Secret: testSecret, Syncer: syncer, Logger: quietLogger()})

			rec := serve(handler, signedRequest(t, testSecret, eventJSON(t, "evt_"+tt.status, tt.eventType, map[string]any{
				"id":                 "sub_1",
				"customer":           "cus_1",
				"status":             tt.status,
				"current_period_end": time.Now().Add(24 * time.Hour).Unix(),
				"metadata":           map[string]string{"user_id": uuid.NewString()},
			})))
			require.Equal(t, http.StatusOK, rec.Code)

			snaps := syncer.Snaps()
			require.Len(t, snaps, 1)
			assert.Equal(t, tt.active, snaps[0].IsActive)
			assert.Equal(t, tt.hasEnd, snaps[0].CurrentPeriodEnd != nil)
			assert.Equal(t, "sub_1", snaps[0].SubscriptionID)
			assert.Equal(t, domain.SubscriptionStatus(tt.status), snaps[0].ProviderStatus)
		})
	}
}

func TestWebhook_ResolvesUserByCustomer(t *testing.T) {
	userID := uuid.New()
	syncer := &fakeSyncer{customers: map[string]uuid.UUID{"cus_known": userID}}
	handler := NewWebhookHandler(WebhookConfig{Secret: testSecret, Syncer: syncer, Logger: quietLogger()})

	rec := serve(handler, signedRequest(t, testSecret, eventJSON(t, "evt_c", EventSubscriptionDeleted, map[string]any{
		"id": "sub_1", "customer": "cus_known", "status": "canceled",
	})))
	require.Equal(t, http.StatusOK, rec.Code)

	snaps := syncer.Snaps()
	require.Len(t, snaps, 1)
	assert.Equal(t, userID, snaps[0].UserID)
	assert.False(t, snaps[0].IsActive)
}

func TestWebhook_ResolvesUserThroughAPI(t *testing.T) {
	userID := uuid.New()
	syncer := &fakeSyncer{}
	api := &fakeAPI{customers: map[string]string{"cus_new": userID.String()}}
	handler := NewWebhookHandler(WebhookConfig{Secret: testSecret, Syncer: syncer, API: api, Logger: quietLogger()})

	rec := serve(handler, signedRequest(t, testSecret, eventJSON(t, "evt_api", EventSubscriptionCreated, map[string]any{
		"id": "sub_1", "customer": map[string]any{"id": "cus_new", "object": "customer"}, "status": "active",
	})))
	require.Equal(t, http.StatusOK, rec.Code)

	snaps := syncer.Snaps()
	require.Len(t, snaps, 1)
	assert.Equal(t, userID, snaps[0].UserID)
	assert.Equal(t, "cus_new", snaps[0].StripeCustomerID)
}

func TestWebhook_UnresolvableIsAcknowledged(t *testing.T) {
	syncer := &fakeSyncer{}
	handler := NewWebhookHandler(WebhookConfig{Secret: testSecret, Syncer: syncer, Logger: quietLogger()})

	rec := serve(handler, signedRequest(t, testSecret, eventJSON(t, "evt_u", EventSubscriptionUpdated, map[string]any{
		"id": "sub_1", "customer": "cus_unknown", "status": "active",
		"metadata": map[string]string{"user_id": "not-a-uuid"},
	})))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, OutcomeUnresolved, decodeStatus(t, rec))
	assert.Empty(t, syncer.Snaps())
}

func TestWebhook_OverrideSkipped(t *testing.T) {
	userID := uuid.New()
	syncer := &fakeSyncer{comped: map[uuid.UUID]bool{userID: true}}
	handler := NewWebhookHandler(WebhookConfig{Secret: testSecret, Syncer: syncer, Logger: quietLogger()})

	rec := serve(handler, signedRequest(t, testSecret, eventJSON(t, "evt_o", EventSubscriptionUpdated, map[string]any{
		"id": "sub_1", "customer": "cus_1", "status": "unpaid",
		"metadata": map[string]string{"user_id": userID.String()},
	})))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, OutcomeSkippedOverride, decodeStatus(t, rec))
}

func TestWebhook_CheckoutCompletedFetchesSubscription(t *testing.T) {
	userID := uuid.New()
	periodEnd := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	syncer := &fakeSyncer{}
	api := &fakeAPI{subs: map[string]*Subscription{
		"sub_checkout": {
			ID:       "sub_checkout",
			Customer: "cus_co",
			Status:   "active",
			Items:    SubscriptionItems{Data: []SubscriptionItem{{ID: "si_1", CurrentPeriodEnd: periodEnd.Unix()}}},
		},
	}}
	handler := NewWebhookHandler(WebhookConfig{Secret: testSecret, Syncer: syncer, API: api, Logger: quietLogger()})

	rec := serve(handler, signedRequest(t, testSecret, eventJSON(t, "evt_co", EventCheckoutCompleted, map[string]any{
		"id":                  "cs_1",
		"mode":                "subscription",
		"customer":            "cus_co",
		"subscription":        "sub_checkout",
		"client_reference_id": userID.String(),
	})))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	snaps := syncer.Snaps()
	require.Len(t, snaps, 1)
	assert.Equal(t, userID, snaps[0].UserID)
	assert.True(t, snaps[0].IsActive)
	assert.True(t, periodEnd.Equal(*snaps[0].CurrentPeriodEnd))
}

func TestWebhook_CheckoutWithoutAPIIsIgnored(t *testing.T) {
	syncer := &fakeSyncer{}
	handler := NewWebhookHandler(WebhookConfig{Secret: testSecret, Syncer: syncer, Logger: quietLogger()})

	rec := serve(handler, signedRequest(t, testSecret, eventJSON(t, "evt_co2", EventCheckoutCompleted, map[string]any{
		"id": "cs_1", "mode": "subscription", "subscription": "sub_1",
	})))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, OutcomeIgnored, decodeStatus(t, rec))
}

func TestWebhook_UnhandledTypeIgnored(t *testing.T) {
	syncer := &fakeSyncer{}
	handler := NewWebhookHandler(WebhookConfig{Secret: testSecret, Syncer: syncer, Logger: quietLogger()})

	rec := serve(handler, signedRequest(t, testSecret, eventJSON(t, "evt_i", "invoice.paid", map[string]any{"id": "in_1"})))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, OutcomeIgnored, decodeStatus(t, rec))
	assert.Empty(t, syncer.Snaps())
}

func TestWebhook_StoreErrorReturns500AndRetries(t *testing.T) {
	syncer := &fakeSyncer{err: errors.New("connection refused")}
	deduper := idempotency.NewDeduper(idempotency.NewMemoryStore(), 0, 0)
	handler := NewWebhookHandler(WebhookConfig{Secret: testSecret, Syncer: syncer, Deduper: deduper, Logger: quietLogger()})
	body := eventJSON(t, "evt_retry", EventSubscriptionUpdated, map[string]any{
		"id": "sub_1", "customer": "cus_1", "status": "active",
		"metadata": map[string]string{"user_id": uuid.NewString()},
	})

	assert.Equal(t, http.StatusInternalServerError, serve(handler, signedRequest(t, testSecret, body)).Code)

	// A failed event must be retried, not short-circuited as a duplicate.
	syncer.mu.Lock()
	syncer.err = nil
	syncer.mu.Unlock()
	rec := serve(handler, signedRequest(t, testSecret, body))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, OutcomeProcessed, decodeStatus(t, rec))
}

func TestWebhook_DuplicateDelivery(t *testing.T) {
	syncer := &fakeSyncer{}
	deduper := idempotency.NewDeduper(idempotency.NewMemoryStore(), 0, 0)
	handler := NewWebhookHandler(WebhookConfig{Secret: testSecret, Syncer: syncer, Deduper: deduper, Logger: quietLogger()})
	body := eventJSON(t, "evt_dup", EventSubscriptionUpdated, map[string]any{
		"id": "sub_1", "customer": "cus_1", "status": "active",
		"metadata": map[string]string{"user_id": uuid.NewString()},
	})

	require.Equal(t, http.StatusOK, serve(handler, signedRequest(t, testSecret, body)).Code)
	rec := serve(handler, signedRequest(t, testSecret, body))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, OutcomeDuplicate, decodeStatus(t, rec))
	assert.Len(t, syncer.Snaps(), 1)
}

func TestWebhook_InFlightDuplicateConflicts(t *testing.T) {
	syncer := &fakeSyncer{entered: make(chan struct{}, 1), block: make(chan struct{})}
	deduper := idempotency.NewDeduper(idempotency.NewMemoryStore(), 0, 0)
	handler := NewWebhookHandler(WebhookConfig{Secret: testSecret, Syncer: syncer, Deduper: deduper, Logger: quietLogger()})
	body := eventJSON(t, "evt_flight", EventSubscriptionUpdated, map[string]any{
		"id": "sub_1", "customer": "cus_1", "status": "active",
		"metadata": map[string]string{"user_id": uuid.NewString()},
	})

	first := make(chan int, 1)
	go func() { first <- serve(handler, signedRequest(t, testSecret, body)).Code }()

	select {
	case <-syncer.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first delivery never reached the store")
	}

	rec := serve(handler, signedRequest(t, testSecret, body))
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(syncer.block)
	assert.Equal(t, http.StatusOK, <-first)
}
