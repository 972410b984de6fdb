package mcp

import (
	"context"
	"errors"

	"github.com/felixgeelhaar/mcp-go"

	"github.com/felixgeelhaar/coachpage/adapter/cli"
	"github.com/felixgeelhaar/coachpage/pkg/observability"
)

// ToolDependencies carries what the support tools operate on.
type ToolDependencies struct {
	App *cli.App
}

// RegisterTools registers the system and billing support tools.
func RegisterTools(srv *mcp.Server, deps ToolDependencies) error {
	if srv == nil {
		return errors.New("server is required")
	}
	if deps.App == nil {
		return errors.New("app is required")
	}

	registerSystemTools(srv, deps.App)
	return registerBillingTools(srv, deps)
}

func registerSystemTools(srv *mcp.Server, app *cli.App) {
	srv.Tool("system.health").
		Description("Report the health of the entitlement store, Redis and the expiry sweeper").
		Handler(func(ctx context.Context, input struct{}) (observability.OverallHealth, error) {
			return systemHealth(ctx, app), nil
		})

	srv.Tool("system.version").
		Description("Report build information of the running server").
		Handler(func(ctx context.Context, input struct{}) (cli.BuildInfo, error) {
			return cli.CurrentBuild(), nil
		})
}

func systemHealth(ctx context.Context, app *cli.App) observability.OverallHealth {
	if app == nil || app.Health == nil {
		return observability.OverallHealth{Status: observability.HealthStatusHealthy}
	}
	return app.Health.GetOverallHealth(ctx)
}
