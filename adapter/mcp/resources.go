package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/felixgeelhaar/mcp-go"
)

// RegisterResources registers MCP resources that expose entitlement data.
func RegisterResources(srv *mcp.Server, deps ToolDependencies) error {
	if srv == nil {
		return fmt.Errorf("server is required")
	}
	app := deps.App

	srv.Resource("coachpage://billing/status").
		Name("Pro Status").
		Description("Effective Pro status of the current user").
		MimeType("application/json").
		Handler(func(ctx context.Context, uri string, params map[string]string) (*mcp.ResourceContent, error) {
			if app == nil {
				return nil, errNoDatabase
			}
			snap, err := app.CurrentStatus(ctx)
			if err != nil {
				return nil, err
			}
			return jsonResource(uri, snap)
		})

	srv.Resource("coachpage://billing/comps").
		Name("Comped Users").
		Description("Users with a manual Pro comp").
		MimeType("application/json").
		Handler(func(ctx context.Context, uri string, params map[string]string) (*mcp.ResourceContent, error) {
			comps, err := billingComps(ctx, app, billingListInput{})
			if err != nil {
				return nil, err
			}
			return jsonResource(uri, comps)
		})

	return nil
}

func jsonResource(uri string, v any) (*mcp.ResourceContent, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return &mcp.ResourceContent{
		URI:      uri,
		MimeType: "application/json",
		Text:     string(data),
	}, nil
}
