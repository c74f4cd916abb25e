package mcp

import (
	"context"
	"encoding/json"

	"github.com/opencode-ai/minicode/internal/tool"
	"github.com/opencode-ai/minicode/pkg/types"
)

// remoteTool adapts one server tool to tool.Tool.
type remoteTool struct {
	client *Client
	remote RemoteTool
	id     string
}

// Tools returns the server tools as minicode tools named
// <server>_<tool>.
func (c *Client) Tools() []tool.Tool {
	prefix := SanitizeName(c.name) + "_"
	remotes := c.RemoteTools()
	out := make([]tool.Tool, 0, len(remotes))
	for _, r := range remotes {
		out = append(out, &remoteTool{
			client: c,
			remote: r,
			id:     prefix + SanitizeName(r.Name),
		})
	}
	return out
}

func (t *remoteTool) ID() string                  { return t.id }
func (t *remoteTool) Description() string         { return t.remote.Description }
func (t *remoteTool) Parameters() json.RawMessage { return t.remote.InputSchema }

func (t *remoteTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *tool.Context) (types.ToolOutput, error) {
	output, err := t.client.Call(ctx, t.remote.Name, input)
	if err != nil {
		return types.ToolOutput{}, err
	}
	return tool.Success(output, map[string]any{
		"server": t.client.Name(),
		"tool":   t.remote.Name,
	}, nil), nil
}
