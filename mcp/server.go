package mcp

import (
	"github.com/mark3labs/mcp-go/server"
)

const (
	serverName    = "watchfinder"
	serverVersion = "1.0.0"
)

// NewServer builds the MCP server with every tool registered.
func NewServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithToolCapabilities(true),
	)
	registerTools(s, deps)
	return s
}

// Serve runs the MCP server on stdio.
func Serve(deps Deps) error {
	return server.ServeStdio(NewServer(deps))
}
