package mcp

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/mcp-go"
)

// RegisterPrompts registers MCP prompts for common support workflows.
func RegisterPrompts(srv *mcp.Server, deps ToolDependencies) error {
	if srv == nil {
		return fmt.Errorf("server is required")
	}

	srv.Prompt("entitlement_support").
		Description("Walk through a coach's 'I paid but Pro is locked' support ticket.").
		Handler(func(ctx context.Context, args map[string]string) (*mcp.PromptResult, error) {
			user := args["user_id"]
			if user == "" {
				user = "the coach in the ticket"
			}
			return &mcp.PromptResult{
				Description: "Entitlement Support",
				Messages: []mcp.PromptMessage{
					{
						Role: string(mcp.RoleUser),
						Content: mcp.TextContent{
							Type: "text",
							Text: fmt.Sprintf(`A coach reports Pro features are locked. Investigate %s:

1. Call billing.status and note plan, expiry and whether an override is set.
2. If the plan is free but they say they paid, look for the Stripe event and
   replay it with billing.webhook.
3. Only comp (billing.comp) with a note when support has approved it.

Summarise what you found and what you changed.`, user),
						},
					},
				},
			}, nil
		})

	srv.Prompt("comp_audit").
		Description("Review manual comps and flag ones that look stale.").
		Handler(func(ctx context.Context, args map[string]string) (*mcp.PromptResult, error) {
			return &mcp.PromptResult{
				Description: "Comp Audit",
				Messages: []mcp.PromptMessage{
					{
						Role: string(mcp.RoleUser),
						Content: mcp.TextContent{
							Type: "text",
							Text: `Read coachpage://billing/comps. For each comp, report the user, when it
was granted and the note. Flag comps without a note or older than six
months. Do not revoke anything; list candidates for billing.revoke.`,
						},
					},
				},
			}, nil
		})

	return nil
}
