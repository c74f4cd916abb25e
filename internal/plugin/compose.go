package plugin

import (
	"fmt"
	"strings"

	"github.com/opencode-ai/minicode/internal/tool"
)

// BuiltinAction reserves the keys of a host command before plugin actions
// are registered.
type BuiltinAction struct {
	ID      string
	Aliases []string
}

// Composition is the merged view of builtin tools and every plugin
// contribution. It is read-only once built.
type Composition struct {
	tools     tool.Set
	fragments []string
	actions   []ComposedAction
	plugins   []Metadata
}

// Compose merges builtins with the contributions of plugins, in order.
// builtinActions are registered first and owned by builtin:<id>.
func Compose(builtins tool.Set, plugins []*Loaded, builtinActions ...BuiltinAction) (*Composition, error) {
	c := &Composition{
		tools:     builtins.Clone(),
		fragments: []string{},
		actions:   []ComposedAction{},
		plugins:   make([]Metadata, 0, len(plugins)),
	}
	if c.tools == nil {
		c.tools = tool.Set{}
	}

	owners := make(map[string]string)
	for _, b := range builtinActions {
		owner := "builtin:" + b.ID
		keys, err := actionKeys(owner, b.ID, b.Aliases)
		if err != nil {
			return nil, err
		}
		if err := reserveKeys(owners, owner, keys); err != nil {
			return nil, err
		}
	}

	for _, p := range plugins {
		ref := p.NormalizedReference
		c.plugins = append(c.plugins, p.Metadata())

		for _, t := range p.Contribution.SDK.Tools {
			name := t.ID()
			if _, exists := c.tools[name]; exists {
				return nil, &ComposeError{
					Kind:      ConflictTool,
					Reference: ref,
					Message:   fmt.Sprintf("duplicate tool '%s'", name),
				}
			}
			c.tools[name] = t
		}

		c.fragments = append(c.fragments, p.Contribution.SDK.InstructionFragments...)

		for _, a := range p.Contribution.CLI.Actions {
			keys, err := actionKeys(ref, a.ID, a.Aliases)
			if err != nil {
				return nil, err
			}
			if err := reserveKeys(owners, ref, keys); err != nil {
				return nil, err
			}
			c.actions = append(c.actions, ComposedAction{
				ID:              keys[0],
				Title:           strings.TrimSpace(a.Title),
				Description:     strings.TrimSpace(a.Description),
				Aliases:         keys[1:],
				AllowDuringTurn: a.AllowDuringTurn,
				Run:             a.Run,
				SourcePluginID:  p.Plugin.ID,
				SourceReference: ref,
			})
		}
	}

	return c, nil
}

// NormalizeActionKey trims and lowercases a command id or alias.
func NormalizeActionKey(value string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(value))
	if key == "" {
		return "", &ComposeError{Kind: ConflictAction, Message: "command id or alias cannot be empty"}
	}
	return key, nil
}

// actionKeys normalizes id and aliases and rejects repeats within the
// action itself.
func actionKeys(ref, id string, aliases []string) ([]string, error) {
	keys := make([]string, 0, 1+len(aliases))
	local := make(map[string]bool, 1+len(aliases))
	for _, raw := range append([]string{id}, aliases...) {
		key, err := NormalizeActionKey(raw)
		if err != nil {
			return nil, err
		}
		if local[key] {
			return nil, &ComposeError{
				Kind:      ConflictAction,
				Reference: ref,
				Message:   fmt.Sprintf("duplicate action id/alias '%s' within action '%s'", key, keys[0]),
			}
		}
		local[key] = true
		keys = append(keys, key)
	}
	return keys, nil
}

func reserveKeys(owners map[string]string, owner string, keys []string) error {
	for _, key := range keys {
		if prev, taken := owners[key]; taken {
			return &ComposeError{
				Kind:      ConflictAction,
				Reference: owner,
				Message:   fmt.Sprintf("duplicate action id/alias '%s' (already registered by %s)", key, prev),
			}
		}
	}
	for _, key := range keys {
		owners[key] = owner
	}
	return nil
}

// Tools returns a copy of the composed tool set.
func (c *Composition) Tools() tool.Set {
	return c.tools.Clone()
}

// Tool looks up one composed tool.
func (c *Composition) Tool(name string) (tool.Tool, bool) {
	return c.tools.Get(name)
}

// InstructionFragments returns the fragments in plugin order.
func (c *Composition) InstructionFragments() []string {
	return append([]string(nil), c.fragments...)
}

// Actions returns the plugin actions in registration order.
func (c *Composition) Actions() []ComposedAction {
	out := make([]ComposedAction, len(c.actions))
	for i, a := range c.actions {
		a.Aliases = append([]string(nil), a.Aliases...)
		out[i] = a
	}
	return out
}

// Plugins returns metadata for every composed plugin.
func (c *Composition) Plugins() []Metadata {
	return append([]Metadata(nil), c.plugins...)
}
