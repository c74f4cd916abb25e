// Package tool provides the tool framework: the Tool interface, the
// execution wrapper that turns every failure into a ToolOutput, output
// truncation with artifact offload, and the builtin file and shell tools.
package tool

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/minicode/internal/artifact"
	"github.com/opencode-ai/minicode/pkg/types"
)

// Tool defines the interface for all tools.
type Tool interface {
	// ID returns the tool name the model calls it by.
	ID() string

	// Description returns the tool description.
	Description() string

	// Parameters returns the JSON Schema for tool parameters.
	Parameters() json.RawMessage

	// Execute runs the tool. Returned errors are converted to failed
	// outputs by Execute in this package.
	Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (types.ToolOutput, error)
}

// ArtifactWriter persists overflow text. artifact.FsStore implements it.
type ArtifactWriter interface {
	WriteText(ctx context.Context, in artifact.TextInput) (types.ArtifactReference, error)
}

// Context provides execution context to tools.
type Context struct {
	SessionID string
	CallID    string
	WorkDir   string
	Artifacts ArtifactWriter
	Logger    zerolog.Logger
}

// Truncator returns a truncator bound to this call's session and store.
func (c *Context) Truncator() Truncator {
	if c == nil {
		return Truncator{}
	}
	return Truncator{Store: c.Artifacts, SessionID: c.SessionID}
}

// FuncTool is a Tool backed by a function.
type FuncTool struct {
	id          string
	description string
	parameters  json.RawMessage
	execute     func(ctx context.Context, input json.RawMessage, toolCtx *Context) (types.ToolOutput, error)
}

// New creates a tool from its parts.
func New(id, description string, params json.RawMessage, execute func(context.Context, json.RawMessage, *Context) (types.ToolOutput, error)) *FuncTool {
	return &FuncTool{
		id:          id,
		description: description,
		parameters:  params,
		execute:     execute,
	}
}

func (t *FuncTool) ID() string                  { return t.id }
func (t *FuncTool) Description() string         { return t.description }
func (t *FuncTool) Parameters() json.RawMessage { return t.parameters }

func (t *FuncTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (types.ToolOutput, error) {
	return t.execute(ctx, input, toolCtx)
}

// Set is a tool map keyed by tool name.
type Set map[string]Tool

// Names returns the tool names in sorted order.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns the tools sorted by name.
func (s Set) List() []Tool {
	names := s.Names()
	tools := make([]Tool, 0, len(names))
	for _, name := range names {
		tools = append(tools, s[name])
	}
	return tools
}

// Get retrieves a tool by name.
func (s Set) Get(name string) (Tool, bool) {
	t, ok := s[name]
	return t, ok
}

// Clone returns a shallow copy of the set.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for name, t := range s {
		out[name] = t
	}
	return out
}

// Infos returns eino tool descriptors for the set, sorted by name.
func (s Set) Infos() []*schema.ToolInfo {
	infos := make([]*schema.ToolInfo, 0, len(s))
	for _, name := range s.Names() {
		infos = append(infos, Info(name, s[name]))
	}
	return infos
}

// Info builds the eino descriptor of t under name.
func Info(name string, t Tool) *schema.ToolInfo {
	return &schema.ToolInfo{
		Name:        name,
		Desc:        t.Description(),
		ParamsOneOf: schema.NewParamsOneOfByParams(parseJSONSchemaToParams(t.Parameters())),
	}
}

type jsonSchemaProperty struct {
	Type        string                        `json:"type"`
	Description string                        `json:"description"`
	Enum        []string                      `json:"enum"`
	Items       *jsonSchemaProperty           `json:"items"`
	Properties  map[string]jsonSchemaProperty `json:"properties"`
	Required    []string                      `json:"required"`
}

// parseJSONSchemaToParams converts JSON Schema to Eino ParameterInfo.
func parseJSONSchemaToParams(schemaJSON json.RawMessage) map[string]*schema.ParameterInfo {
	var root jsonSchemaProperty
	if len(schemaJSON) == 0 {
		return nil
	}
	if err := json.Unmarshal(schemaJSON, &root); err != nil {
		return nil
	}
	return propertiesToParams(root.Properties, root.Required)
}

func propertiesToParams(props map[string]jsonSchemaProperty, required []string) map[string]*schema.ParameterInfo {
	if len(props) == 0 {
		return nil
	}

	requiredSet := make(map[string]bool, len(required))
	for _, r := range required {
		requiredSet[r] = true
	}

	params := make(map[string]*schema.ParameterInfo, len(props))
	for name, prop := range props {
		info := propertyToParam(prop)
		info.Required = requiredSet[name]
		params[name] = info
	}
	return params
}

func propertyToParam(prop jsonSchemaProperty) *schema.ParameterInfo {
	info := &schema.ParameterInfo{
		Type: dataType(prop.Type),
		Desc: prop.Description,
		Enum: prop.Enum,
	}
	switch info.Type {
	case schema.Array:
		if prop.Items != nil {
			info.ElemInfo = propertyToParam(*prop.Items)
		}
	case schema.Object:
		info.SubParams = propertiesToParams(prop.Properties, prop.Required)
	}
	return info
}

func dataType(t string) schema.DataType {
	switch t {
	case "integer":
		return schema.Integer
	case "number":
		return schema.Number
	case "boolean":
		return schema.Boolean
	case "array":
		return schema.Array
	case "object":
		return schema.Object
	default:
		return schema.String
	}
}
