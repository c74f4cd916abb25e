package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/minicode/internal/logging"
	"github.com/opencode-ai/minicode/internal/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the composed tool set over MCP stdio",
	Long: `Serve the builtin and plugin tools as a Model Context Protocol server
on stdin and stdout. Logs never go to stdout in this mode.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	srv := mcpserver.New(mcpserver.Options{
		Name:    "minicode",
		Version: Version,
		Tools:   a.service.Tools(),
		WorkDir: a.cwd,
		Logger:  logging.Component(a.logger, "mcp"),
	})
	a.logger.Info().Int("tools", len(a.service.Tools())).Msg("serving mcp over stdio")
	return mcpserver.Serve(cmd.Context(), srv, os.Stdin, os.Stdout)
}
