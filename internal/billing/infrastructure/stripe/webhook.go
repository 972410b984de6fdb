package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/felixgeelhaar/coachpage/internal/billing/domain"
	"github.com/felixgeelhaar/coachpage/internal/shared/infrastructure/idempotency"
	"github.com/felixgeelhaar/coachpage/pkg/observability"
)

const webhookBodyLimit = 1024 * 1024 // 1 MiB

// Event types the handler acts on.
const (
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventSubscriptionPaused  = "customer.subscription.paused"
	EventSubscriptionResumed = "customer.subscription.resumed"
	EventCheckoutCompleted   = "checkout.session.completed"
)

// Outcomes reported in the response body and metrics.
const (
	OutcomeProcessed       = "processed"
	OutcomeIgnored         = "ignored"
	OutcomeUnresolved      = "unresolved"
	OutcomeSkippedOverride = "skipped_override"
	OutcomeDuplicate       = "duplicate"
)

// Syncer applies subscription snapshots. *application.Service implements it.
type Syncer interface {
	SyncSubscription(ctx context.Context, snap domain.SubscriptionSnapshot) (*domain.EntitlementRecord, bool, error)
	FindByStripeCustomerID(ctx context.Context, customerID string) (*domain.EntitlementRecord, error)
}

// API looks up billing objects the event does not carry. *Client implements it.
type API interface {
	Subscription(ctx context.Context, id string) (*Subscription, error)
	CustomerUserID(ctx context.Context, customerID string) (string, error)
}

// WebhookConfig wires a WebhookHandler. API and Deduper are optional.
type WebhookConfig struct {
	Secret  string
	Syncer  Syncer
	API     API
	Deduper *idempotency.Deduper
	Metrics observability.Metrics
	Logger  *slog.Logger
}

// WebhookHandler verifies Stripe deliveries and syncs entitlements from them.
type WebhookHandler struct {
	secret  string
	syncer  Syncer
	api     API
	deduper *idempotency.Deduper
	metrics observability.Metrics
	logger  *slog.Logger
}

type webhookErrorResponse struct {
	Error string `json:"error"`
}

type webhookReceivedResponse struct {
	Received bool   `json:"received"`
	Status   string `json:"status,omitempty"`
}

func NewWebhookHandler(cfg WebhookConfig) *WebhookHandler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NoopMetrics{}
	}
	return &WebhookHandler{
		secret:  strings.TrimSpace(cfg.Secret),
		syncer:  cfg.Syncer,
		api:     cfg.API,
		deduper: cfg.Deduper,
		metrics: cfg.Metrics,
		logger:  cfg.Logger.With("component", "stripe_webhook"),
	}
}

// ServeHTTP verifies the Stripe signature and dispatches the event.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	eventType := "unknown"
	status := http.StatusOK
	defer func() {
		h.metrics.Counter(observability.MetricWebhookRequests, 1,
			observability.T("type", eventType),
			observability.T("status", strconv.Itoa(status)),
		)
		h.metrics.Timing(observability.MetricWebhookDuration, time.Since(start), observability.T("type", eventType))
	}()

	if r.Method != http.MethodPost {
		status = http.StatusMethodNotAllowed
		writeJSON(w, status, webhookErrorResponse{Error: "method not allowed"})
		return
	}
	if h.secret == "" {
		status = http.StatusServiceUnavailable
		writeJSON(w, status, webhookErrorResponse{Error: "webhook secret not configured"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		status = http.StatusBadRequest
		writeJSON(w, status, webhookErrorResponse{Error: "failed to read request body"})
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		status = http.StatusBadRequest
		writeJSON(w, status, webhookErrorResponse{Error: "missing Stripe signature"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, h.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		h.logger.WarnContext(r.Context(), "rejected webhook with invalid signature", "error", err)
		status = http.StatusBadRequest
		writeJSON(w, status, webhookErrorResponse{Error: "invalid Stripe signature"})
		return
	}
	eventType = string(event.Type)

	outcome, err := h.process(r.Context(), &event)
	switch {
	case errors.Is(err, idempotency.ErrInFlight):
		status = http.StatusConflict
		writeJSON(w, status, webhookErrorResponse{Error: "event is already being processed"})
		return
	case err != nil:
		h.logger.ErrorContext(r.Context(), "stripe webhook processing failed",
			"event_id", event.ID,
			"type", eventType,
			"error", err,
		)
		status = http.StatusInternalServerError
		writeJSON(w, status, webhookErrorResponse{Error: "processing failed"})
		return
	}

	writeJSON(w, status, webhookReceivedResponse{Received: true, Status: outcome})
}

// process runs the event once per event id when a deduper is configured.
func (h *WebhookHandler) process(ctx context.Context, event *stripelib.Event) (string, error) {
	if h.deduper == nil {
		return h.HandleEvent(ctx, event)
	}

	outcome := OutcomeProcessed
	already, err := h.deduper.Do(ctx, "stripe:"+event.ID, func(ctx context.Context) error {
		var err error
		outcome, err = h.HandleEvent(ctx, event)
		return err
	})
	if err != nil {
		return "", err
	}
	if already {
		h.logger.InfoContext(ctx, "duplicate webhook delivery", "event_id", event.ID, "type", event.Type)
		return OutcomeDuplicate, nil
	}
	return outcome, nil
}

// HandleEvent applies one verified event and reports its outcome.
func (h *WebhookHandler) HandleEvent(ctx context.Context, event *stripelib.Event) (string, error) {
	if event.Data == nil {
		return OutcomeIgnored, nil
	}

	switch string(event.Type) {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionPaused, EventSubscriptionResumed:
		var sub Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return "", fmt.Errorf("decode subscription: %w", err)
		}
		return h.sync(ctx, &sub, "", false)

	case EventSubscriptionDeleted:
		var sub Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return "", fmt.Errorf("decode subscription: %w", err)
		}
		return h.sync(ctx, &sub, "", true)

	case EventCheckoutCompleted:
		var session CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return "", fmt.Errorf("decode checkout.session: %w", err)
		}
		return h.syncCheckout(ctx, &session)

	default:
		h.logger.DebugContext(ctx, "stripe webhook ignored (unhandled type)",
			"type", event.Type,
			"event_id", event.ID,
		)
		return OutcomeIgnored, nil
	}
}

func (h *WebhookHandler) syncCheckout(ctx context.Context, session *CheckoutSession) (string, error) {
	if session.Mode != "subscription" || strings.TrimSpace(session.Subscription) == "" {
		return OutcomeIgnored, nil
	}
	if h.api == nil {
		h.logger.WarnContext(ctx, "checkout completed but no Stripe API key configured",
			"session_id", session.ID,
			"subscription_id", session.Subscription,
		)
		return OutcomeIgnored, nil
	}

	sub, err := h.api.Subscription(ctx, session.Subscription)
	if err != nil {
		return "", err
	}
	if sub.CustomerID() == "" {
		sub.Customer = session.Customer
	}
	return h.sync(ctx, sub, session.UserIDHint(), false)
}

func (h *WebhookHandler) sync(ctx context.Context, sub *Subscription, hint string, deleted bool) (string, error) {
	if hint == "" {
		hint = sub.UserIDHint()
	}
	userID, err := h.resolveUser(ctx, hint, sub.CustomerID())
	if err != nil {
		return "", err
	}
	if userID == uuid.Nil {
		h.logger.WarnContext(ctx, "stripe subscription has no resolvable user",
			"subscription_id", sub.ID,
			"customer_id", sub.CustomerID(),
		)
		return OutcomeUnresolved, nil
	}

	snap := domain.SubscriptionSnapshot{
		UserID:           userID,
		StripeCustomerID: sub.CustomerID(),
		IsActive:         !deleted && IsActiveStatus(sub.Status),
		SubscriptionID:   sub.ID,
		ProviderStatus:   domain.SubscriptionStatus(sub.Status),
	}
	if !deleted {
		snap.CurrentPeriodEnd = sub.PeriodEnd()
	} else if snap.ProviderStatus == "" {
		snap.ProviderStatus = domain.SubscriptionCanceled
	}

	_, applied, err := h.syncer.SyncSubscription(ctx, snap)
	if err != nil {
		return "", err
	}
	if !applied {
		return OutcomeSkippedOverride, nil
	}
	return OutcomeProcessed, nil
}

// resolveUser tries the embedded hint, then the stored customer link, then
// the customer's metadata in Stripe. uuid.Nil means unresolvable.
func (h *WebhookHandler) resolveUser(ctx context.Context, hint, customerID string) (uuid.UUID, error) {
	if hint != "" {
		if id, err := uuid.Parse(hint); err == nil && id != uuid.Nil {
			return id, nil
		}
		h.logger.WarnContext(ctx, "ignoring malformed user id hint", "hint", hint)
	}
	if customerID == "" {
		return uuid.Nil, nil
	}

	rec, err := h.syncer.FindByStripeCustomerID(ctx, customerID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("lookup customer %s: %w", customerID, err)
	}
	if rec != nil {
		return rec.UserID, nil
	}

	if h.api == nil {
		return uuid.Nil, nil
	}
	raw, err := h.api.CustomerUserID(ctx, customerID)
	if err != nil {
		return uuid.Nil, err
	}
	if id, err := uuid.Parse(raw); err == nil {
		return id, nil
	}
	return uuid.Nil, nil
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
