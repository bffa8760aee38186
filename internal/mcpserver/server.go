// Package mcpserver exposes the watchdog API as MCP tools.
package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all watchdog tools registered.
func NewMCPServer(cfg Config, version string) *server.MCPServer {
	s := server.NewMCPServer("fraudwatchdog", version)
	h := NewHandlers(NewWatchdogClient(cfg))

	s.AddTool(ToolPredictTransaction, h.HandlePredictTransaction)
	s.AddTool(ToolTriggerMLOps, h.HandleTriggerMLOps)
	s.AddTool(ToolGetLiveFeed, h.HandleGetLiveFeed)
	s.AddTool(ToolLabelTransaction, h.HandleLabelTransaction)
	s.AddTool(ToolGetMLOpsStatus, h.HandleGetMLOpsStatus)

	return s
}
