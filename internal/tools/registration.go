// Package tools provides shared types and helpers for registering MCP tools
// on an MCP server instance.
package tools

import (
	"log"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Registration pairs an MCP tool definition with its handler function.
// Destructive tools act on the UPS or the host and require a confirmation
// token before they run.
type Registration struct {
	Tool        mcp.Tool
	Handler     server.ToolHandlerFunc
	Destructive bool
}

// DestructiveNames returns the names of the destructive registrations, in
// order.
func DestructiveNames(registrations []Registration) []string {
	var names []string
	for _, r := range registrations {
		if r.Destructive {
			names = append(names, r.Tool.Name)
		}
	}
	return names
}

// RegisterAll adds every Registration in the provided slice to the given MCP
// server.
func RegisterAll(s *server.MCPServer, registrations []Registration) {
	for _, r := range registrations {
		s.AddTool(r.Tool, r.Handler)
	}
	log.Printf("tools: registered %d MCP tools (destructive: %v)", len(registrations), DestructiveNames(registrations))
}
