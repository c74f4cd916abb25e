package plugin

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/opencode-ai/minicode/internal/tool"
	"github.com/opencode-ai/minicode/pkg/types"
)

func stubTool(name string) tool.Tool {
	return tool.New(name, "stub "+name, json.RawMessage(`{"type":"object"}`),
		func(context.Context, json.RawMessage, *tool.Context) (types.ToolOutput, error) {
			return tool.Success(name, nil, nil), nil
		})
}

func noopRun(context.Context, ActionContext) error { return nil }

func loadedPlugin(id string, contribution Contribution) *Loaded {
	return &Loaded{
		Reference:           "builtin:" + id,
		NormalizedReference: "builtin:" + id,
		Plugin:              &Plugin{ID: id, APIVersion: APIVersion},
		Contribution:        contribution,
	}
}

func staticFactory(p *Plugin) Factory {
	return func(context.Context, Config) (*Plugin, error) { return p, nil }
}

// recordingActionContext captures printed output.
type recordingActionContext struct {
	args    string
	printed strings.Builder
	aborted int
}

func (r *recordingActionContext) Args() string      { return r.args }
func (r *recordingActionContext) Print(text string) { r.printed.WriteString(text) }
func (r *recordingActionContext) AbortTurn()        { r.aborted++ }

func (r *recordingActionContext) SwitchSession(context.Context, SessionSwitch) error { return nil }
func (r *recordingActionContext) SwitchRuntime(context.Context, RuntimeSwitch) error { return nil }
