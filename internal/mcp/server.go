// Package mcp exposes the canonical vault tools of one person over the Model
// Context Protocol, for LLM clients that drive the vault directly.
package mcp

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/sebastianbartmann/notes-editor-sub001/internal/tools"
)

// Server wraps a person-scoped tool executor and exposes it as MCP tools.
type Server struct {
	toolbox *tools.Toolbox
	exec    *tools.Executor
	version string
}

// NewServer creates the MCP server wrapper for person.
func NewServer(tb *tools.Toolbox, person, version string) *Server {
	if version == "" {
		version = "dev"
	}
	return &Server{toolbox: tb, exec: tb.For(person), version: version}
}

// MCPServer returns a configured mcp-go server with every available tool
// registered. Web and LinkedIn tools are left out when their backends are
// not configured.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("notesd", s.version, server.WithToolCapabilities(true))
	for _, spec := range tools.Specs {
		if !s.available(spec.Name) {
			continue
		}
		srv.AddTool(toolFromSpec(spec), s.handler(spec.Name))
	}
	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	stdioServer := server.NewStdioServer(s.MCPServer())
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func (s *Server) available(name string) bool {
	switch name {
	case tools.WebSearch, tools.WebFetch:
		return s.toolbox.Web != nil
	case tools.LinkedInPost, tools.LinkedInReadComments, tools.LinkedInPostComment, tools.LinkedInReplyComment:
		return s.toolbox.Social != nil && s.toolbox.Social.Configured()
	}
	return true
}

func toolFromSpec(spec tools.Spec) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(spec.Description)}
	for _, p := range spec.Params {
		props := []mcp.PropertyOption{mcp.Description(p.Description)}
		if p.Required {
			props = append(props, mcp.Required())
		}
		if p.Type == "number" {
			opts = append(opts, mcp.WithNumber(p.Name, props...))
		} else {
			opts = append(opts, mcp.WithString(p.Name, props...))
		}
	}
	return mcp.NewTool(spec.Name, opts...)
}

func (s *Server) handler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res := s.exec.Execute(ctx, tools.Call{Tool: name, Args: request.GetArguments()})
		if !res.OK {
			return mcp.NewToolResultError(res.Error), nil
		}
		return mcp.NewToolResultText(res.Content), nil
	}
}
