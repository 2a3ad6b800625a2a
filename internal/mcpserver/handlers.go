package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *FleetClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *FleetClient) *Handlers {
	return &Handlers{client: client}
}

// pretty re-indents a raw JSON response for the LLM.
func pretty(raw json.RawMessage) string {
	var buf map[string]any
	if err := json.Unmarshal(raw, &buf); err != nil {
		return string(raw)
	}
	out, err := json.MarshalIndent(buf, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(out)
}

// HandleListTenants lists all hosted tenants.
func (h *Handlers) HandleListTenants(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ListTenants(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list tenants: %v", err)), nil
	}
	return mcp.NewToolResultText(pretty(raw)), nil
}

// HandleGetTenant returns one tenant's record and runtime state.
func (h *Handlers) HandleGetTenant(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID := req.GetString("tenant_id", "")
	if tenantID == "" {
		return mcp.NewToolResultError("tenant_id is required"), nil
	}

	raw, err := h.client.GetTenant(ctx, tenantID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get tenant: %v", err)), nil
	}
	return mcp.NewToolResultText(pretty(raw)), nil
}

// HandleStartTenant launches a tenant's runtime.
func (h *Handlers) HandleStartTenant(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID := req.GetString("tenant_id", "")
	if tenantID == "" {
		return mcp.NewToolResultError("tenant_id is required"), nil
	}

	raw, err := h.client.StartTenant(ctx, tenantID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to start tenant: %v", err)), nil
	}
	return mcp.NewToolResultText(pretty(raw)), nil
}

// HandleStopTenant stops (and optionally deactivates) a tenant.
func (h *Handlers) HandleStopTenant(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID := req.GetString("tenant_id", "")
	if tenantID == "" {
		return mcp.NewToolResultError("tenant_id is required"), nil
	}
	deactivate := req.GetString("deactivate", "false") == "true"

	raw, err := h.client.StopTenant(ctx, tenantID, deactivate)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to stop tenant: %v", err)), nil
	}
	return mcp.NewToolResultText(pretty(raw)), nil
}

// HandleRestartTenant stops and starts a tenant.
func (h *Handlers) HandleRestartTenant(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID := req.GetString("tenant_id", "")
	if tenantID == "" {
		return mcp.NewToolResultError("tenant_id is required"), nil
	}

	raw, err := h.client.RestartTenant(ctx, tenantID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to restart tenant: %v", err)), nil
	}
	return mcp.NewToolResultText(pretty(raw)), nil
}

// HandleGetSubscription returns a tenant's subscription.
func (h *Handlers) HandleGetSubscription(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID := req.GetString("tenant_id", "")
	if tenantID == "" {
		return mcp.NewToolResultError("tenant_id is required"), nil
	}

	raw, err := h.client.GetSubscription(ctx, tenantID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get subscription: %v", err)), nil
	}
	return mcp.NewToolResultText(pretty(raw)), nil
}

// HandleCheckQuota checks a user's quota without consuming.
func (h *Handlers) HandleCheckQuota(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID := req.GetString("tenant_id", "")
	userID := req.GetString("user_id", "")
	if tenantID == "" || userID == "" {
		return mcp.NewToolResultError("tenant_id and user_id are required"), nil
	}

	raw, err := h.client.CheckQuota(ctx, tenantID, userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to check quota: %v", err)), nil
	}
	return mcp.NewToolResultText(pretty(raw)), nil
}

// HandleGrantPremium credits premium tokens.
func (h *Handlers) HandleGrantPremium(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID := req.GetString("tenant_id", "")
	userID := req.GetString("user_id", "")
	tokensStr := req.GetString("tokens", "")
	if tenantID == "" || userID == "" || tokensStr == "" {
		return mcp.NewToolResultError("tenant_id, user_id and tokens are required"), nil
	}

	tokens, err := strconv.Atoi(tokensStr)
	if err != nil {
		return mcp.NewToolResultError("tokens must be an integer (or -1 for unlimited)"), nil
	}

	raw, err := h.client.GrantPremium(ctx, tenantID, userID, tokens)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to grant premium: %v", err)), nil
	}
	return mcp.NewToolResultText(pretty(raw)), nil
}

// HandleQuotaStats summarises tenant quota usage.
func (h *Handlers) HandleQuotaStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID := req.GetString("tenant_id", "")
	if tenantID == "" {
		return mcp.NewToolResultError("tenant_id is required"), nil
	}

	raw, err := h.client.QuotaStats(ctx, tenantID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get quota stats: %v", err)), nil
	}
	return mcp.NewToolResultText(pretty(raw)), nil
}
