package cli

import (
	"context"
	"errors"

	"github.com/google/uuid"

	billingApp "github.com/felixgeelhaar/coachpage/internal/billing/application"
	"github.com/felixgeelhaar/coachpage/internal/billing/infrastructure/stripe"
	"github.com/felixgeelhaar/coachpage/pkg/observability"
)

// App holds the CLI application dependencies.
type App struct {
	BillingService *billingApp.Service
	WebhookHandler *stripe.WebhookHandler
	Health         *observability.HealthRegistry
	// Tracker follows the entitlement of CurrentUserID.
	Tracker *billingApp.StatusTracker

	// Current user (configured per environment)
	CurrentUserID uuid.UUID
}

// NewApp creates a new CLI application around the billing service.
func NewApp(billingService *billingApp.Service) *App {
	a := &App{
		BillingService: billingService,
		CurrentUserID:  uuid.Nil,
	}
	if billingService != nil {
		a.Tracker = billingApp.NewStatusTracker(billingService, billingService.Now, nil)
	}
	return a
}

// ErrNoTracker is returned when the app was built without a billing service.
var ErrNoTracker = errors.New("billing service not configured")

// CurrentStatus points the tracker at CurrentUserID and returns a fresh
// snapshot. A nil CurrentUserID reports the signed-out (free) view.
func (a *App) CurrentStatus(ctx context.Context) (billingApp.TrackerSnapshot, error) {
	if a.Tracker == nil {
		return billingApp.TrackerSnapshot{}, ErrNoTracker
	}
	if a.CurrentUserID == uuid.Nil {
		err := a.Tracker.SetIdentity(ctx, nil)
		return a.Tracker.Snapshot(), err
	}
	id := a.CurrentUserID
	var err error
	if cur := a.Tracker.Identity(); cur != nil && *cur == id {
		err = a.Tracker.Refresh(ctx)
	} else {
		err = a.Tracker.SetIdentity(ctx, &id)
	}
	return a.Tracker.Snapshot(), err
}

// SetCurrentUserID updates the current user ID.
func (a *App) SetCurrentUserID(id uuid.UUID) {
	a.CurrentUserID = id
}

// SetWebhookHandler updates the Stripe webhook handler used for replays.
func (a *App) SetWebhookHandler(h *stripe.WebhookHandler) {
	a.WebhookHandler = h
}

// SetHealthRegistry updates the dependency health registry.
func (a *App) SetHealthRegistry(r *observability.HealthRegistry) {
	a.Health = r
}

// app is the global CLI application instance
var app *App

// SetApp sets the global CLI application instance.
func SetApp(a *App) {
	app = a
}

// GetApp returns the global CLI application instance.
func GetApp() *App {
	return app
}
