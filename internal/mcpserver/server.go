package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all fleet admin tools
// registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("botfleet", "1.0.0")
	client := NewFleetClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolListTenants, h.HandleListTenants)
	s.AddTool(ToolGetTenant, h.HandleGetTenant)
	s.AddTool(ToolStartTenant, h.HandleStartTenant)
	s.AddTool(ToolStopTenant, h.HandleStopTenant)
	s.AddTool(ToolRestartTenant, h.HandleRestartTenant)
	s.AddTool(ToolGetSubscription, h.HandleGetSubscription)
	s.AddTool(ToolCheckQuota, h.HandleCheckQuota)
	s.AddTool(ToolGrantPremium, h.HandleGrantPremium)
	s.AddTool(ToolQuotaStats, h.HandleQuotaStats)

	return s
}
