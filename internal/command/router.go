package command

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/opencode-ai/minicode/internal/plugin"
	"github.com/opencode-ai/minicode/pkg/types"
)

// SessionInfo identifies the session the host is working on.
type SessionInfo struct {
	ID       string
	Provider types.ProviderID
	Model    string
}

// OpenRequest asks the host to open a session and make it current.
type OpenRequest struct {
	// ID is empty for a new session.
	ID string
	// CreateIfMissing is nil for the host default.
	CreateIfMissing *bool
	Runtime         types.RuntimeSelection
}

// Host is the application surface the router drives.
type Host interface {
	Catalog() types.RuntimeCatalog
	ListSessions(ctx context.Context) ([]types.SessionSummary, error)
	// SwitchSession opens a session and makes it current.
	SwitchSession(ctx context.Context, req OpenRequest) (SessionInfo, error)
	Current() SessionInfo
	Print(text string)
	TurnActive() bool
	// AbortTurn aborts the active turn and reports whether there was one.
	AbortTurn() bool
	RequestExit()
}

// ActionInfo is the listing view of an action.
type ActionInfo struct {
	ID              string
	Title           string
	Description     string
	Usage           string
	AllowDuringTurn bool
}

type action struct {
	ActionInfo
	aliases []string
	source  string
	run     func(ctx context.Context, in Input) error
}

// Router dispatches command input to actions.
type Router struct {
	host    Host
	actions []*action
	lookup  map[string]*action
}

// BuiltinActions lists the builtin action keys, so plugin actions can be
// checked against them at composition time.
func BuiltinActions() []plugin.BuiltinAction {
	return []plugin.BuiltinAction{
		{ID: "new", Aliases: []string{"n"}},
		{ID: "sessions", Aliases: []string{"ls"}},
		{ID: "use", Aliases: []string{"session"}},
		{ID: "model", Aliases: []string{"m"}},
		{ID: "abort"},
		{ID: "help", Aliases: []string{"?"}},
		{ID: "exit", Aliases: []string{"quit", "q"}},
	}
}

// NewRouter builds a router over the builtin actions followed by
// pluginActions. Duplicate keys are an error.
func NewRouter(host Host, pluginActions []plugin.ComposedAction) (*Router, error) {
	r := &Router{host: host, lookup: make(map[string]*action)}
	r.actions = append(r.builtins(), r.pluginActions(pluginActions)...)

	owners := make(map[string]string)
	for _, a := range r.actions {
		for _, raw := range append([]string{a.ID}, a.aliases...) {
			key, err := plugin.NormalizeActionKey(raw)
			if err != nil {
				return nil, err
			}
			if owner, taken := owners[key]; taken {
				return nil, fmt.Errorf("Duplicate command id or alias '%s' (%s conflicts with %s)", key, a.source, owner)
			}
			owners[key] = a.source
			r.lookup[key] = a
		}
	}
	return r, nil
}

// Actions lists every action in registration order.
func (r *Router) Actions() []ActionInfo {
	out := make([]ActionInfo, len(r.actions))
	for i, a := range r.actions {
		out[i] = a.ActionInfo
	}
	return out
}

// HandleSlash runs slash input. It returns false when input is not a
// command.
func (r *Router) HandleSlash(ctx context.Context, input string) bool {
	return r.execute(ctx, input, false)
}

// HandlePalette runs input that may omit the leading slash.
func (r *Router) HandlePalette(ctx context.Context, input string) bool {
	return r.execute(ctx, input, true)
}

func (r *Router) execute(ctx context.Context, raw string, allowBare bool) bool {
	in, ok := Parse(raw, allowBare)
	if !ok {
		return false
	}

	a, ok := r.lookup[in.ID]
	if !ok {
		r.host.Print(fmt.Sprintf("[error] Unknown command '%s'. Run /help.\n", in.ID))
		return true
	}
	if r.host.TurnActive() && !a.AllowDuringTurn {
		r.host.Print(fmt.Sprintf("[busy] '/%s' requires idle state\n", a.ID))
		return true
	}

	if err := a.run(ctx, in); err != nil {
		r.host.Print(fmt.Sprintf("[error] %s\n", err.Error()))
	}
	return true
}

// Help renders the help listing.
func (r *Router) Help() string {
	var b strings.Builder
	b.WriteString("[help]\n")
	for i, a := range r.actions {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "  /%-28s %s", a.Usage, a.Description)
	}
	b.WriteString("\n")
	return b.String()
}

func (r *Router) builtins() []*action {
	return []*action{
		{
			ActionInfo: ActionInfo{
				ID:          "new",
				Title:       "New session",
				Description: "Create a new session with optional provider/model override",
				Usage:       "new [--provider <id>] [--model <id>]",
			},
			aliases: []string{"n"},
			source:  "builtin:new",
			run:     r.runNew,
		},
		{
			ActionInfo: ActionInfo{
				ID:              "sessions",
				Title:           "Switch session",
				Description:     "List available sessions",
				Usage:           "sessions",
				AllowDuringTurn: true,
			},
			aliases: []string{"ls"},
			source:  "builtin:sessions",
			run:     r.runSessions,
		},
		{
			ActionInfo: ActionInfo{
				ID:          "use",
				Title:       "Use session",
				Description: "Switch to an existing session by id",
				Usage:       "use <id>",
			},
			aliases: []string{"session"},
			source:  "builtin:use",
			run:     r.runUse,
		},
		{
			ActionInfo: ActionInfo{
				ID:          "model",
				Title:       "Switch model",
				Description: "Switch model for the active session provider",
				Usage:       "model <id>",
			},
			aliases: []string{"m"},
			source:  "builtin:model",
			run:     r.runModel,
		},
		{
			ActionInfo: ActionInfo{
				ID:              "abort",
				Title:           "Abort active turn",
				Description:     "Abort the currently streaming turn",
				Usage:           "abort",
				AllowDuringTurn: true,
			},
			source: "builtin:abort",
			run: func(context.Context, Input) error {
				if r.host.AbortTurn() {
					r.host.Print("[abort] requested\n")
				} else {
					r.host.Print("[abort] no active turn\n")
				}
				return nil
			},
		},
		{
			ActionInfo: ActionInfo{
				ID:              "help",
				Title:           "Help",
				Description:     "Show slash commands",
				Usage:           "help",
				AllowDuringTurn: true,
			},
			aliases: []string{"?"},
			source:  "builtin:help",
			run: func(context.Context, Input) error {
				r.host.Print(r.Help())
				return nil
			},
		},
		{
			ActionInfo: ActionInfo{
				ID:              "exit",
				Title:           "Exit",
				Description:     "Exit the application",
				Usage:           "exit",
				AllowDuringTurn: true,
			},
			aliases: []string{"quit", "q"},
			source:  "builtin:exit",
			run: func(context.Context, Input) error {
				r.host.RequestExit()
				return nil
			},
		},
	}
}

func (r *Router) pluginActions(composed []plugin.ComposedAction) []*action {
	out := make([]*action, 0, len(composed))
	for _, c := range composed {
		description := c.Description
		if description == "" {
			description = "Plugin action from " + c.SourcePluginID
		}
		out = append(out, &action{
			ActionInfo: ActionInfo{
				ID:              c.ID,
				Title:           c.Title,
				Description:     description,
				Usage:           c.ID + " [args]",
				AllowDuringTurn: c.AllowDuringTurn,
			},
			aliases: c.Aliases,
			source:  "plugin:" + c.SourcePluginID,
			run: func(ctx context.Context, in Input) error {
				return c.Run(ctx, &actionContext{router: r, args: in.ArgsText})
			},
		})
	}
	return out
}

func (r *Router) runNew(ctx context.Context, in Input) error {
	sel, err := parseNewArgs(in.Args)
	if err != nil {
		return err
	}
	if sel.Provider == "" && sel.Model != "" {
		sel.Provider = r.host.Current().Provider
	}
	if sel.Provider != "" && sel.Model != "" {
		if err := r.assertModel(sel.Provider, sel.Model); err != nil {
			return err
		}
	}

	next, err := r.host.SwitchSession(ctx, OpenRequest{Runtime: sel})
	if err != nil {
		return err
	}
	r.host.Print(formatSessionLine(next, "[session:new]"))
	return nil
}

func (r *Router) runSessions(ctx context.Context, _ Input) error {
	sessions, err := r.host.ListSessions(ctx)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		r.host.Print("[sessions] none\n")
		return nil
	}
	lines := make([]string, len(sessions))
	for i, s := range sessions {
		lines[i] = fmt.Sprintf("- %s %s/%s updated=%s", s.ID, s.Provider, s.Model, formatTime(s.UpdatedAt))
	}
	r.host.Print("[sessions]\n" + strings.Join(lines, "\n") + "\n")
	return nil
}

func (r *Router) runUse(ctx context.Context, in Input) error {
	id := strings.TrimSpace(in.ArgsText)
	if id == "" {
		return errors.New("Session id must not be empty")
	}
	next, err := r.host.SwitchSession(ctx, OpenRequest{ID: id, CreateIfMissing: new(bool)})
	if err != nil {
		return err
	}
	r.host.Print(formatSessionLine(next, "[session:switched]"))
	return nil
}

func (r *Router) runModel(ctx context.Context, in Input) error {
	model := strings.TrimSpace(in.ArgsText)
	if model == "" {
		return errors.New("Model id must not be empty")
	}
	current := r.host.Current()
	if err := r.assertModel(current.Provider, model); err != nil {
		return err
	}

	next, err := r.host.SwitchSession(ctx, OpenRequest{
		ID:      current.ID,
		Runtime: types.RuntimeSelection{Model: model},
	})
	if err != nil {
		return err
	}
	r.host.Print(fmt.Sprintf("[runtime] %s/%s\n", next.Provider, next.Model))
	return nil
}

// assertModel accepts any model for a provider with no configured models.
func (r *Router) assertModel(provider types.ProviderID, model string) error {
	allowed := r.host.Catalog().Models(provider)
	if len(allowed) == 0 || slices.Contains(allowed, model) {
		return nil
	}
	return fmt.Errorf("Model '%s' is not configured for provider '%s'", model, provider)
}

// switchRuntime serves plugin runtime switches. A provider change opens a
// new session; a model change reopens the current one.
func (r *Router) switchRuntime(ctx context.Context, to plugin.RuntimeSwitch) error {
	model := strings.TrimSpace(to.Model)
	current := r.host.Current()
	if to.Provider == "" && model == "" {
		return nil
	}

	if to.Provider != "" && to.Provider != current.Provider {
		if model != "" {
			if err := r.assertModel(to.Provider, model); err != nil {
				return err
			}
		}
		_, err := r.host.SwitchSession(ctx, OpenRequest{
			Runtime: types.RuntimeSelection{Provider: to.Provider, Model: model},
		})
		return err
	}

	if model != "" {
		if err := r.assertModel(current.Provider, model); err != nil {
			return err
		}
	}
	_, err := r.host.SwitchSession(ctx, OpenRequest{
		ID:      current.ID,
		Runtime: types.RuntimeSelection{Provider: to.Provider, Model: model},
	})
	return err
}

func (r *Router) switchSession(ctx context.Context, to plugin.SessionSwitch) error {
	if to.CreateNew {
		create := true
		_, err := r.host.SwitchSession(ctx, OpenRequest{ID: strings.TrimSpace(to.ID), CreateIfMissing: &create})
		return err
	}
	id := strings.TrimSpace(to.ID)
	if id == "" {
		return errors.New("Session id must not be empty")
	}
	_, err := r.host.SwitchSession(ctx, OpenRequest{ID: id, CreateIfMissing: new(bool)})
	return err
}

func parseNewArgs(tokens []string) (types.RuntimeSelection, error) {
	var sel types.RuntimeSelection
	for i := 0; i < len(tokens); i++ {
		switch tokens[i] {
		case "--provider", "--model":
			if i+1 >= len(tokens) || tokens[i+1] == "" {
				return sel, fmt.Errorf("Missing value for %s", tokens[i])
			}
			value := tokens[i+1]
			if tokens[i] == "--provider" {
				sel.Provider = types.ProviderID(value)
			} else {
				sel.Model = strings.TrimSpace(value)
			}
			i++
		default:
			return sel, fmt.Errorf("Unknown option for /new: %s", tokens[i])
		}
	}
	if sel.Provider != "" && !sel.Provider.Valid() {
		return sel, fmt.Errorf("unknown provider '%s'", sel.Provider)
	}
	return sel, nil
}

func formatSessionLine(s SessionInfo, prefix string) string {
	return fmt.Sprintf("%s %s (%s/%s)\n", prefix, s.ID, s.Provider, s.Model)
}

func formatTime(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.000Z")
}

// actionContext is the host surface handed to plugin actions.
type actionContext struct {
	router *Router
	args   string
}

func (a *actionContext) Args() string      { return a.args }
func (a *actionContext) Print(text string) { a.router.host.Print(text) }
func (a *actionContext) AbortTurn()        { a.router.host.AbortTurn() }

func (a *actionContext) SwitchSession(ctx context.Context, to plugin.SessionSwitch) error {
	return a.router.switchSession(ctx, to)
}

func (a *actionContext) SwitchRuntime(ctx context.Context, to plugin.RuntimeSwitch) error {
	return a.router.switchRuntime(ctx, to)
}
