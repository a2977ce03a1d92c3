package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// Version is reported to MCP clients.
const Version = "1.0.0"

// NewMCPServer creates a configured MCP server with all interpay tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("interpay", Version)
	h := NewHandlers(NewAPIClient(cfg))

	s.AddTool(ToolInitiatePayment, h.HandleInitiatePayment)
	s.AddTool(ToolFinalizePayment, h.HandleFinalizePayment)
	s.AddTool(ToolSchedulePayment, h.HandleSchedulePayment)
	s.AddTool(ToolListScheduledPayments, h.HandleListScheduledPayments)
	s.AddTool(ToolListPendingApprovals, h.HandleListPendingApprovals)
	s.AddTool(ToolFinalizeScheduledPayment, h.HandleFinalizeScheduledPayment)
	s.AddTool(ToolCancelScheduledPayment, h.HandleCancelScheduledPayment)
	s.AddTool(ToolListCauses, h.HandleListCauses)
	s.AddTool(ToolDonate, h.HandleDonate)
	s.AddTool(ToolGetServerTime, h.HandleGetServerTime)

	return s
}
