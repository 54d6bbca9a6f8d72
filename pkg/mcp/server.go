// Package mcp exposes registered actions as MCP tools.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/actuator/internal/actions"
	"github.com/rendis/actuator/internal/dispatch"
	"github.com/rendis/actuator/internal/parser"
)

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Registry *actions.Registry
	Chain    *parser.Chain
	Invoker  *dispatch.Invoker
	Logger   *slog.Logger

	// Token authenticates tool calls that carry no Authorization header,
	// which is every call over stdio.
	Token   string
	Version string
}

// Server wraps an MCP server with one tool per action.
type Server struct {
	token     string
	logger    *slog.Logger
	tools     map[string]*tool
	mcpServer *server.MCPServer
}

// NewServer creates a Server with every registered action as a tool.
func NewServer(deps ServerDeps) (*Server, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		token:  deps.Token,
		logger: logger,
		tools:  map[string]*tool{},
	}

	mcpSrv := server.NewMCPServer(
		"actuator",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Each tool invokes one registered action. Tool arguments are the action parameters; the result is the action's JSON result."),
	)

	var serverTools []server.ServerTool
	for _, meta := range deps.Registry.List() {
		t, err := newTool(deps.Chain, deps.Invoker, meta)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", meta.Name, err)
		}
		s.tools[meta.Name] = t
		serverTools = append(serverTools, server.ServerTool{Tool: t.definition, Handler: s.handler(t)})
	}
	mcpSrv.AddTools(serverTools...)

	s.mcpServer = mcpSrv
	return s, nil
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// HTTPHandler returns a streamable HTTP transport. The Authorization header
// of each request authenticates its tool calls.
func (s *Server) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcpServer)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}
