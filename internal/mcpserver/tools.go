package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the fleet MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolListTenants = mcp.NewTool("list_tenants",
	mcp.WithDescription(
		"List every bot tenant hosted by the fleet. "+
			"Shows each tenant's status, quota mode, and whether its runtime is currently running."),
)

var ToolGetTenant = mcp.NewTool("get_tenant",
	mcp.WithDescription(
		"Get one tenant's record and live runtime state: status, health, "+
			"consecutive probe failures, and any error-state latch needing manual intervention."),
	mcp.WithString("tenant_id",
		mcp.Required(),
		mcp.Description("The tenant's ID (e.g. 'bot_a1b2c3')")),
)

var ToolStartTenant = mcp.NewTool("start_tenant",
	mcp.WithDescription(
		"Start a tenant's bot runtime. Requires an active, unexpired subscription. "+
			"Starting an already-running healthy tenant is a no-op."),
	mcp.WithString("tenant_id",
		mcp.Required(),
		mcp.Description("The tenant's ID")),
)

var ToolStopTenant = mcp.NewTool("stop_tenant",
	mcp.WithDescription(
		"Stop a tenant's bot runtime gracefully. With deactivate=true the tenant is "+
			"retired permanently and its credential freed for reuse; otherwise it can be started again."),
	mcp.WithString("tenant_id",
		mcp.Required(),
		mcp.Description("The tenant's ID")),
	mcp.WithString("deactivate",
		mcp.Description("'true' to retire the tenant permanently"),
		mcp.Enum("true", "false")),
)

var ToolRestartTenant = mcp.NewTool("restart_tenant",
	mcp.WithDescription(
		"Stop and start a tenant's runtime, clearing its circuit-breaker history. "+
			"Use this to recover a tenant latched in an error state."),
	mcp.WithString("tenant_id",
		mcp.Required(),
		mcp.Description("The tenant's ID")),
)

var ToolGetSubscription = mcp.NewTool("get_subscription",
	mcp.WithDescription(
		"Get a tenant's subscription: plan, status (pending/active/expired), "+
			"expiry date, and remaining paid time."),
	mcp.WithString("tenant_id",
		mcp.Required(),
		mcp.Description("The tenant's ID")),
)

var ToolCheckQuota = mcp.NewTool("check_quota",
	mcp.WithDescription(
		"Check an end-user's remaining quota within a tenant without consuming any. "+
			"Returns whether the next action is allowed, how much remains, and why."),
	mcp.WithString("tenant_id",
		mcp.Required(),
		mcp.Description("The tenant's ID")),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("The end-user's numeric platform ID")),
)

var ToolGrantPremium = mcp.NewTool("grant_premium",
	mcp.WithDescription(
		"Credit premium tokens to an end-user within a tenant. "+
			"Premium tokens bypass the free tier; pass -1 for unlimited access."),
	mcp.WithString("tenant_id",
		mcp.Required(),
		mcp.Description("The tenant's ID")),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("The end-user's numeric platform ID")),
	mcp.WithString("tokens",
		mcp.Required(),
		mcp.Description("Number of tokens to credit, or '-1' for unlimited")),
)

var ToolQuotaStats = mcp.NewTool("quota_stats",
	mcp.WithDescription(
		"Summarise a tenant's quota usage: total users seen, premium users, "+
			"and grant tokens issued versus redeemed."),
	mcp.WithString("tenant_id",
		mcp.Required(),
		mcp.Description("The tenant's ID")),
)
