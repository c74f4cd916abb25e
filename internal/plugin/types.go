package plugin

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/minicode/internal/tool"
	"github.com/opencode-ai/minicode/pkg/types"
)

// APIVersion is the only plugin contract version accepted by the loader.
const APIVersion = 1

// Config is the per-reference configuration handed to a factory.
type Config map[string]any

// Factory builds a plugin from its configuration.
type Factory func(ctx context.Context, cfg Config) (*Plugin, error)

// SetupFunc produces a plugin's contribution. A nil result is treated as an
// empty contribution.
type SetupFunc func(ctx context.Context, sc SetupContext) (*Contribution, error)

// Plugin is the contract a factory returns.
type Plugin struct {
	ID         string
	APIVersion int
	Version    string
	Setup      SetupFunc

	// Teardown releases whatever Setup acquired. Optional.
	Teardown func() error
}

// SetupContext is passed to Plugin.Setup.
type SetupContext struct {
	Reference       string
	CWD             string
	GlobalConfigDir string
	SDKVersion      string
	Logger          zerolog.Logger
}

// Contribution is everything a plugin adds to the runtime.
type Contribution struct {
	SDK SDKContribution
	CLI CLIContribution
}

// SDKContribution extends the agent.
type SDKContribution struct {
	Tools                []tool.Tool
	InstructionFragments []string
}

// CLIContribution extends the interactive command surface.
type CLIContribution struct {
	Actions []Action
}

// ActionFunc runs a CLI action.
type ActionFunc func(ctx context.Context, actx ActionContext) error

// Action is a command contributed by a plugin.
type Action struct {
	ID              string
	Title           string
	Description     string
	Aliases         []string
	AllowDuringTurn bool
	Run             ActionFunc
}

// SessionSwitch asks the host to move to another session. An empty ID with
// CreateNew set creates a fresh session.
type SessionSwitch struct {
	ID        string
	CreateNew bool
}

// RuntimeSwitch asks the host to change provider and/or model.
type RuntimeSwitch struct {
	Provider types.ProviderID
	Model    string
}

// ActionContext is the host surface visible to a running action.
type ActionContext interface {
	// Args is the raw argument text after the command name.
	Args() string
	Print(text string)
	AbortTurn()
	SwitchSession(ctx context.Context, to SessionSwitch) error
	SwitchRuntime(ctx context.Context, to RuntimeSwitch) error
}

// ComposedAction is an action after key normalization, tagged with its
// source plugin.
type ComposedAction struct {
	ID              string
	Title           string
	Description     string
	Aliases         []string
	AllowDuringTurn bool
	Run             ActionFunc
	SourcePluginID  string
	SourceReference string
}

// Keys returns the action id followed by its aliases.
func (a ComposedAction) Keys() []string {
	return append([]string{a.ID}, a.Aliases...)
}

// Loaded is a plugin that passed every load stage.
type Loaded struct {
	Reference           string
	NormalizedReference string
	Plugin              *Plugin
	Contribution        Contribution
}

// Metadata is the listing view of a loaded plugin.
type Metadata struct {
	ID                  string `json:"id"`
	Version             string `json:"version,omitempty"`
	Reference           string `json:"reference"`
	NormalizedReference string `json:"normalizedReference"`
}

// Metadata returns the listing view of l.
func (l *Loaded) Metadata() Metadata {
	return Metadata{
		ID:                  l.Plugin.ID,
		Version:             l.Plugin.Version,
		Reference:           l.Reference,
		NormalizedReference: l.NormalizedReference,
	}
}
