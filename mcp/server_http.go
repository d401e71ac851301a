package mcp

import (
	"net/http"

	"github.com/mark3labs/mcp-go/server"
)

// HTTPHandler serves MCP over streamable HTTP. Authentication is left to
// the router it is mounted on.
func HTTPHandler(deps Deps) http.Handler {
	return server.NewStreamableHTTPServer(NewServer(deps), server.WithStateLess(true))
}
