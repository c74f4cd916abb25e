// Package mcpserver serves a composed tool set as an MCP server.
package mcpserver

import (
	"context"
	"encoding/json"
	"io"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/minicode/internal/tool"
)

// Options configures the server.
type Options struct {
	Name    string
	Version string
	Tools   tool.Set
	// WorkDir is the tool working directory.
	WorkDir string
	Logger  zerolog.Logger
}

// New creates an MCP server exposing every tool in opts.Tools under its own
// name and raw JSON schema.
func New(opts Options) *server.MCPServer {
	if opts.Name == "" {
		opts.Name = "minicode"
	}
	if opts.Version == "" {
		opts.Version = "0.0.0"
	}

	s := server.NewMCPServer(opts.Name, opts.Version, server.WithToolCapabilities(true))
	for _, name := range opts.Tools.Names() {
		t := opts.Tools[name]
		s.AddTool(mcp.NewToolWithRawSchema(name, t.Description(), schemaOf(t)), handler(name, t, opts))
	}
	return s
}

// Serve runs the server over r and w until ctx is done or r is closed.
func Serve(ctx context.Context, s *server.MCPServer, r io.Reader, w io.Writer) error {
	return server.NewStdioServer(s).Listen(ctx, r, w)
}

func handler(name string, t tool.Tool, opts Options) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		input, err := json.Marshal(req.GetRawArguments())
		if err != nil {
			return mcp.NewToolResultError("invalid arguments: " + err.Error()), nil
		}
		if string(input) == "null" {
			input = []byte("{}")
		}

		log := opts.Logger.With().Str("tool", name).Logger()
		log.Debug().RawJSON("input", input).Msg("mcp tool call")

		out := tool.Execute(ctx, t, input, &tool.Context{
			WorkDir: opts.WorkDir,
			Logger:  log,
		})
		if !out.OK {
			return mcp.NewToolResultError(out.OutputMessage), nil
		}
		return mcp.NewToolResultText(out.OutputMessage), nil
	}
}

func schemaOf(t tool.Tool) json.RawMessage {
	params := t.Parameters()
	if len(params) == 0 {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return params
}
