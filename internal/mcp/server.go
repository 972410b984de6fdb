// Package mcp runs the operator support server over HTTP.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	mcpgo "github.com/felixgeelhaar/mcp-go"
	"github.com/felixgeelhaar/mcp-go/middleware"

	"github.com/felixgeelhaar/coachpage/adapter/cli"
	supporttools "github.com/felixgeelhaar/coachpage/adapter/mcp"
	"github.com/felixgeelhaar/coachpage/pkg/config"
)

// ServerName identifies the support server to MCP clients.
const ServerName = "coachpage-mcp"

// NewServer builds the support server with every tool, resource and prompt
// registered against cliApp.
func NewServer(cliApp *cli.App) (*mcpgo.Server, error) {
	if cliApp == nil {
		return nil, errors.New("CLI app is required")
	}

	srv := mcpgo.NewServer(mcpgo.ServerInfo{
		Name:    ServerName,
		Version: cli.Version,
		Capabilities: mcpgo.Capabilities{
			Tools:     true,
			Resources: true,
			Prompts:   true,
		},
	})

	deps := supporttools.ToolDependencies{App: cliApp}
	if err := supporttools.RegisterTools(srv, deps); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}
	if err := supporttools.RegisterResources(srv, deps); err != nil {
		return nil, fmt.Errorf("register resources: %w", err)
	}
	if err := supporttools.RegisterPrompts(srv, deps); err != nil {
		return nil, fmt.Errorf("register prompts: %w", err)
	}
	return srv, nil
}

// Serve listens on cfg.MCPAddr until ctx is canceled.
func Serve(ctx context.Context, cfg *config.Config, cliApp *cli.App, logger *slog.Logger) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	srv, err := NewServer(cliApp)
	if err != nil {
		return err
	}
	stack, err := middlewareStack(cfg, logger)
	if err != nil {
		return err
	}

	logger.Info("mcp server listening", "addr", cfg.MCPAddr)
	return mcpgo.ServeHTTPWithMiddleware(ctx, srv, cfg.MCPAddr, nil, mcpgo.WithMiddleware(stack...))
}

// middlewareStack puts bearer auth in front of the default stack. Without a
// token the server only runs outside production.
func middlewareStack(cfg *config.Config, logger *slog.Logger) ([]middleware.Middleware, error) {
	adapter := slogAdapter{logger: logger}
	stack := middleware.DefaultStack(adapter)

	if cfg.MCPAuthToken == "" {
		if cfg.IsProduction() {
			return nil, errors.New("MCP_AUTH_TOKEN is required in production")
		}
		logger.Warn("MCP auth token not set; support tools are unauthenticated")
		return stack, nil
	}

	tokens := middleware.StaticTokens(map[string]*middleware.Identity{
		cfg.MCPAuthToken: {ID: "support", Name: "support"},
	})
	auth := middleware.Auth(middleware.BearerTokenAuthenticator(tokens), middleware.WithAuthLogger(adapter))
	return append([]middleware.Middleware{auth}, stack...), nil
}

type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Debug(msg string, fields ...middleware.Field) {
	a.log(slog.LevelDebug, msg, fields)
}

func (a slogAdapter) Info(msg string, fields ...middleware.Field) {
	a.log(slog.LevelInfo, msg, fields)
}

func (a slogAdapter) Warn(msg string, fields ...middleware.Field) {
	a.log(slog.LevelWarn, msg, fields)
}

func (a slogAdapter) Error(msg string, fields ...middleware.Field) {
	a.log(slog.LevelError, msg, fields)
}

func (a slogAdapter) log(level slog.Level, msg string, fields []middleware.Field) {
	attrs := make([]slog.Attr, 0, len(fields))
	for _, f := range fields {
		attrs = append(attrs, slog.Any(f.Key, f.Value))
	}
	a.logger.LogAttrs(context.Background(), level, msg, attrs...)
}
