package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/mcp-go"
	stripelib "github.com/stripe/stripe-go/v82"

	"github.com/felixgeelhaar/coachpage/adapter/cli"
	"github.com/felixgeelhaar/coachpage/internal/billing/domain"
	"github.com/felixgeelhaar/coachpage/internal/shared/infrastructure/security"
)

type billingUserInput struct {
	UserID string `json:"user_id,omitempty"`
}

type billingSyncInput struct {
	UserID     string `json:"user_id,omitempty"`
	Active     bool   `json:"active"`
	PeriodEnd  string `json:"period_end,omitempty"`
	CustomerID string `json:"customer_id,omitempty"`
}

type billingOverrideInput struct {
	UserID string `json:"user_id,omitempty"`
	Notes  string `json:"notes,omitempty"`
}

type billingListInput struct {
	Limit int `json:"limit,omitempty"`
}

type billingWebhookInput struct {
	EventPath string `json:"event_path,omitempty"`
	EventJSON string `json:"event_json,omitempty"`
}

// recordView is the JSON shape tools return for a stored record.
type recordView struct {
	UserID           string  `json:"user_id"`
	IsPro            bool    `json:"is_pro"`
	ProExpiresAt     *string `json:"pro_expires_at,omitempty"`
	OverridePro      bool    `json:"override_pro"`
	StripeCustomerID *string `json:"stripe_customer_id,omitempty"`
	Notes            *string `json:"notes,omitempty"`
	UpdatedAt        string  `json:"updated_at"`
}

func toRecordView(rec *domain.EntitlementRecord) *recordView {
	if rec == nil {
		return nil
	}
	view := &recordView{
		UserID:           rec.UserID.String(),
		IsPro:            rec.IsPro,
		OverridePro:      rec.OverridePro,
		StripeCustomerID: rec.StripeCustomerID,
		Notes:            rec.Notes,
		UpdatedAt:        rec.UpdatedAt.Format(time.RFC3339),
	}
	if rec.ProExpiresAt != nil {
		s := rec.ProExpiresAt.Format(time.RFC3339)
		view.ProExpiresAt = &s
	}
	return view
}

// subscriptionView is the JSON shape of the last provider snapshot.
type subscriptionView struct {
	SubscriptionID   string  `json:"subscription_id"`
	CustomerID       string  `json:"customer_id,omitempty"`
	Status           string  `json:"status"`
	CurrentPeriodEnd *string `json:"current_period_end,omitempty"`
	UpdatedAt        string  `json:"updated_at"`
}

func toSubscriptionView(sub *domain.Subscription) *subscriptionView {
	view := &subscriptionView{
		SubscriptionID: sub.SubscriptionID,
		CustomerID:     sub.CustomerID,
		Status:         string(sub.Status),
		UpdatedAt:      sub.UpdatedAt.Format(time.RFC3339),
	}
	if sub.CurrentPeriodEnd != nil {
		end := sub.CurrentPeriodEnd.Format(time.RFC3339)
		view.CurrentPeriodEnd = &end
	}
	return view
}

var errNoDatabase = errors.New("billing tools require database connection")

func registerBillingTools(srv *mcp.Server, deps ToolDependencies) error {
	app := deps.App

	srv.Tool("billing.status").
		Description("Get the effective Pro status of a user").
		Handler(func(ctx context.Context, input billingUserInput) (map[string]any, error) {
			return billingStatus(ctx, app, input)
		})

	srv.Tool("billing.trial").
		Description("Grant the signup Pro trial; repeats leave the record untouched").
		Handler(func(ctx context.Context, input billingUserInput) (map[string]any, error) {
			return billingTrial(ctx, app, input)
		})

	srv.Tool("billing.sync").
		Description("Apply a subscription state by hand; comped users are skipped").
		Handler(func(ctx context.Context, input billingSyncInput) (map[string]any, error) {
			return billingSync(ctx, app, input)
		})

	srv.Tool("billing.comp").
		Description("Grant permanent Pro that syncs and sweeps leave alone").
		Handler(func(ctx context.Context, input billingOverrideInput) (any, error) {
			return billingOverride(ctx, app, input, true)
		})

	srv.Tool("billing.revoke").
		Description("Remove a manual Pro comp").
		Handler(func(ctx context.Context, input billingOverrideInput) (any, error) {
			return billingOverride(ctx, app, input, false)
		})

	srv.Tool("billing.comps").
		Description("List comped users, newest first").
		Handler(func(ctx context.Context, input billingListInput) (any, error) {
			return billingComps(ctx, app, input)
		})

	srv.Tool("billing.sweep").
		Description("Downgrade every lapsed trial and subscription now").
		Handler(func(ctx context.Context, input struct{}) (map[string]any, error) {
			if app == nil || app.BillingService == nil {
				return nil, errNoDatabase
			}
			n, err := app.BillingService.SweepExpired(ctx)
			if err != nil {
				return nil, fmt.Errorf("sweep stopped after %d downgrades: %w", n, err)
			}
			return map[string]any{"downgraded": n}, nil
		})

	srv.Tool("billing.webhook").
		Description("Replay a saved Stripe event without signature verification").
		Handler(func(ctx context.Context, input billingWebhookInput) (map[string]any, error) {
			return billingWebhook(ctx, app, input)
		})

	return nil
}

func billingStatus(ctx context.Context, app *cli.App, input billingUserInput) (map[string]any, error) {
	if app == nil || app.BillingService == nil {
		return nil, errNoDatabase
	}
	userID, err := targetUser(app, input.UserID)
	if err != nil {
		return nil, err
	}
	rec, degraded, err := app.BillingService.Lookup(ctx, userID)
	if err != nil {
		return nil, err
	}
	st := domain.EffectiveStatus(rec, app.BillingService.Now())
	st.UserID = userID
	out := map[string]any{"status": st, "degraded": degraded}

	sub, err := app.BillingService.Subscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub != nil {
		out["subscription"] = toSubscriptionView(sub)
	}
	return out, nil
}

func billingTrial(ctx context.Context, app *cli.App, input billingUserInput) (map[string]any, error) {
	if app == nil || app.BillingService == nil {
		return nil, errNoDatabase
	}
	userID, err := targetUser(app, input.UserID)
	if err != nil {
		return nil, err
	}
	rec, created, err := app.BillingService.GrantTrial(ctx, userID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"created": created, "record": toRecordView(rec)}, nil
}

func billingSync(ctx context.Context, app *cli.App, input billingSyncInput) (map[string]any, error) {
	if app == nil || app.BillingService == nil {
		return nil, errNoDatabase
	}
	userID, err := targetUser(app, input.UserID)
	if err != nil {
		return nil, err
	}
	end, err := parseOptionalTimestamp(input.PeriodEnd)
	if err != nil {
		return nil, err
	}
	rec, applied, err := app.BillingService.SyncSubscription(ctx, domain.SubscriptionSnapshot{
		UserID:           userID,
		StripeCustomerID: input.CustomerID,
		IsActive:         input.Active,
		CurrentPeriodEnd: end,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"applied": applied, "record": toRecordView(rec)}, nil
}

func billingOverride(ctx context.Context, app *cli.App, input billingOverrideInput, comp bool) (*recordView, error) {
	if app == nil || app.BillingService == nil {
		return nil, errNoDatabase
	}
	userID, err := targetUser(app, input.UserID)
	if err != nil {
		return nil, err
	}
	var rec *domain.EntitlementRecord
	if comp {
		rec, err = app.BillingService.Comp(ctx, userID, input.Notes)
	} else {
		rec, err = app.BillingService.Revoke(ctx, userID, input.Notes)
	}
	if err != nil {
		return nil, err
	}
	return toRecordView(rec), nil
}

func billingComps(ctx context.Context, app *cli.App, input billingListInput) ([]*recordView, error) {
	if app == nil || app.BillingService == nil {
		return nil, errNoDatabase
	}
	records, err := app.BillingService.ListOverrides(ctx, input.Limit)
	if err != nil {
		return nil, err
	}
	views := make([]*recordView, 0, len(records))
	for i := range records {
		views = append(views, toRecordView(&records[i]))
	}
	return views, nil
}

func billingWebhook(ctx context.Context, app *cli.App, input billingWebhookInput) (map[string]any, error) {
	payload, err := loadWebhookPayload(input.EventPath, input.EventJSON)
	if err != nil {
		return nil, err
	}

	var event stripelib.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("invalid webhook payload: %w", err)
	}
	eventType := string(event.Type)
	if eventType == "" {
		eventType = "unknown"
	}

	if app == nil || app.WebhookHandler == nil {
		return map[string]any{"event_type": eventType, "applied": false}, nil
	}
	outcome, err := app.WebhookHandler.HandleEvent(ctx, &event)
	if err != nil {
		return nil, err
	}
	return map[string]any{"event_type": eventType, "applied": true, "outcome": outcome}, nil
}

func loadWebhookPayload(path string, payload string) ([]byte, error) {
	if payload != "" {
		return []byte(payload), nil
	}
	if path == "" {
		return nil, errors.New("event_path or event_json is required")
	}
	// Agents may only replay files under the server's working directory.
	return security.ReadPayloadIn(path, ".")
}
