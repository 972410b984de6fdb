package billing

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/coachpage/adapter/cli"
	billingApp "github.com/felixgeelhaar/coachpage/internal/billing/application"
	"github.com/felixgeelhaar/coachpage/internal/billing/infrastructure/persistence"
	"github.com/felixgeelhaar/coachpage/internal/billing/infrastructure/stripe"
	"github.com/felixgeelhaar/coachpage/internal/shared/infrastructure/database"
	_ "github.com/felixgeelhaar/coachpage/internal/shared/infrastructure/database/sqlite"
	"github.com/felixgeelhaar/coachpage/internal/shared/infrastructure/migrations"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func resetFlags() {
	syncActive = true
	syncPeriodEnd = ""
	syncCustomer = ""
	compNotes = ""
	compsLimit = 100
	webhookEventPath = ""
}

// setupApp wires a CLI app over a fresh SQLite store with a fixed clock.
func setupApp(t *testing.T) *cli.App {
	t.Helper()
	ctx := context.Background()
	conn, err := database.Open(ctx, database.Config{
		Driver:     database.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "cli.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_, err = migrations.Up(ctx, conn)
	require.NoError(t, err)
	repo, err := persistence.NewEntitlementRepository(conn)
	require.NoError(t, err)
	subs, err := persistence.NewSubscriptionRepository(conn)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := billingApp.NewService(billingApp.ServiceConfig{
		Repository:    repo,
		Subscriptions: subs,
		Logger:        logger,
		Now:           func() time.Time { return t0 },
	})
	app := cli.NewApp(svc)
	app.SetWebhookHandler(stripe.NewWebhookHandler(stripe.WebhookConfig{Syncer: svc, Logger: logger}))
	cli.SetApp(app)
	t.Cleanup(func() { cli.SetApp(nil) })
	return app
}

func run(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out strings.Builder
	cmd.SetOut(&out)
	cmd.SetContext(context.Background())
	err := cmd.RunE(cmd, args)
	return out.String(), err
}

func TestStatusCmd_NoApp(t *testing.T) {
	resetFlags()
	cli.SetApp(nil)

	out, err := run(t, statusCmd)
	assert.NoError(t, err)
	assert.Contains(t, out, "requires database connection")
}

func TestWriteCmds_NoApp(t *testing.T) {
	resetFlags()
	cli.SetApp(nil)

	for _, cmd := range []*cobra.Command{trialCmd, syncCmd, compCmd, revokeCmd, sweepCmd} {
		t.Run(cmd.Name(), func(t *testing.T) {
			_, err := run(t, cmd, uuid.NewString())
			require.Error(t, err)
			assert.Contains(t, err.Error(), "require database connection")
		})
	}
}

func TestTargetUser(t *testing.T) {
	current := uuid.New()
	explicit := uuid.New()
	app := &cli.App{CurrentUserID: current}

	id, err := targetUser([]string{explicit.String()}, app)
	require.NoError(t, err)
	assert.Equal(t, explicit, id)

	id, err = targetUser(nil, app)
	require.NoError(t, err)
	assert.Equal(t, current, id)

	_, err = targetUser(nil, &cli.App{})
	assert.Error(t, err)

	_, err = targetUser([]string{"coach-1"}, app)
	assert.Error(t, err)
}

func TestTrialThenStatus(t *testing.T) {
	resetFlags()
	setupApp(t)
	userID := uuid.NewString()

	out, err := run(t, trialCmd, userID)
	require.NoError(t, err)
	assert.Contains(t, out, "Trial granted.")

	out, err = run(t, trialCmd, userID)
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")

	out, err = run(t, statusCmd, userID)
	require.NoError(t, err)
	assert.Contains(t, out, "Plan: pro")
	assert.Contains(t, out, "Days remaining: 7")
}

func TestStatusCmd_UsesCurrentUser(t *testing.T) {
	resetFlags()
	app := setupApp(t)
	app.SetCurrentUserID(uuid.New())

	out, err := run(t, statusCmd)
	require.NoError(t, err)
	assert.Contains(t, out, "Plan: free")
	assert.Contains(t, out, "Pro:  false")
}

func TestSyncCmd(t *testing.T) {
	resetFlags()
	setupApp(t)
	userID := uuid.NewString()

	syncPeriodEnd = "2026-04-01T00:00:00Z"
	syncCustomer = "cus_123"
	out, err := run(t, syncCmd, userID)
	require.NoError(t, err)
	assert.Contains(t, out, "Subscription synced.")
	assert.Contains(t, out, "Customer: cus_123")
	assert.Contains(t, out, "Expires:  2026-04-01T00:00:00Z")

	syncPeriodEnd = "next tuesday"
	_, err = run(t, syncCmd, userID)
	assert.ErrorContains(t, err, "invalid --period-end")
}

func TestCompRevokeAndList(t *testing.T) {
	resetFlags()
	setupApp(t)
	userID := uuid.NewString()

	compNotes = "partner gym"
	out, err := run(t, compCmd, userID)
	require.NoError(t, err)
	assert.Contains(t, out, "Pro comped.")
	assert.Contains(t, out, "Override: true")

	resetFlags()
	_, err = run(t, syncCmd, userID)
	require.NoError(t, err)
	syncActive = false
	out, err = run(t, syncCmd, userID)
	require.NoError(t, err)
	assert.Contains(t, out, "sync skipped")

	out, err = run(t, compsCmd)
	require.NoError(t, err)
	assert.Contains(t, out, userID)
	assert.Contains(t, out, "partner gym")

	out, err = run(t, revokeCmd, userID)
	require.NoError(t, err)
	assert.Contains(t, out, "Comp revoked.")
	assert.Contains(t, out, "Pro flag: false")

	out, err = run(t, compsCmd)
	require.NoError(t, err)
	assert.Contains(t, out, "No comped users.")
}

func TestSweepCmd(t *testing.T) {
	resetFlags()
	setupApp(t)

	syncPeriodEnd = "2026-02-01T00:00:00Z"
	_, err := run(t, syncCmd, uuid.NewString())
	require.NoError(t, err)

	out, err := run(t, sweepCmd)
	require.NoError(t, err)
	assert.Contains(t, out, "Downgraded 1 expired entitlements.")

	out, err = run(t, sweepCmd)
	require.NoError(t, err)
	assert.Contains(t, out, "Downgraded 0 expired entitlements.")
}

func writeEvent(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "event.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestWebhookCmd_MissingEventPath(t *testing.T) {
	resetFlags()

	_, err := run(t, webhookCmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "event path is required")
}

func TestWebhookCmd_NonexistentFile(t *testing.T) {
	resetFlags()
	webhookEventPath = "/nonexistent/path/to/event.json"

	_, err := run(t, webhookCmd)
	assert.Error(t, err)
}

func TestWebhookCmd_InvalidJSON(t *testing.T) {
	resetFlags()
	webhookEventPath = writeEvent(t, "not valid json")

	_, err := run(t, webhookCmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid webhook payload")
}

func TestWebhookCmd_NoApp(t *testing.T) {
	resetFlags()
	cli.SetApp(nil)
	webhookEventPath = writeEvent(t, `{"data": {"object": {}}}`)

	out, err := run(t, webhookCmd)
	require.NoError(t, err)
	assert.Contains(t, out, "unknown")
	assert.Contains(t, out, "not applied")
}

func TestWebhookCmd_Replay(t *testing.T) {
	resetFlags()
	app := setupApp(t)
	userID := uuid.New()
	webhookEventPath = writeEvent(t, `{
		"id": "evt_1",
		"type": "customer.subscription.updated",
		"data": {"object": {
			"id": "sub_1",
			"customer": "cus_9",
			"status": "active",
			"metadata": {"user_id": "`+userID.String()+`"},
			"items": {"data": [{"id": "si_1", "current_period_end": 1775001600}]}
		}}
	}`)

	out, err := run(t, webhookCmd)
	require.NoError(t, err)
	assert.Contains(t, out, "customer.subscription.updated: processed")

	st, err := app.BillingService.Status(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, st.EffectiveIsPro)

	out, err = run(t, statusCmd, userID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "Subscription: sub_1 (active)")
	assert.Contains(t, out, "Period ends:")
}

func TestCmdConfiguration(t *testing.T) {
	assert.Equal(t, "billing", Cmd.Use)

	names := make([]string, 0, len(Cmd.Commands()))
	for _, cmd := range Cmd.Commands() {
		names = append(names, cmd.Name())
	}
	for _, want := range []string{"status", "trial", "sync", "comp", "revoke", "comps", "sweep", "webhook"} {
		assert.Contains(t, names, want)
	}
	assert.NotNil(t, syncCmd.Flags().Lookup("active"))
	assert.NotNil(t, syncCmd.Flags().Lookup("period-end"))
	assert.NotNil(t, webhookCmd.Flags().Lookup("event"))
}
