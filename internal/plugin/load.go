package plugin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// LoadOptions configures Load.
type LoadOptions struct {
	// Plugins maps references to their configuration.
	Plugins         map[string]Config
	CWD             string
	GlobalConfigDir string
	SDKVersion      string
	Registry        *Registry
	Logger          zerolog.Logger
}

// Load resolves, builds, validates and sets up every configured plugin.
// References are processed in sorted order and the first failure aborts the
// whole load; plugins set up before the failure are torn down.
func Load(ctx context.Context, opts LoadOptions) (_ []*Loaded, err error) {
	registry := opts.Registry
	if registry == nil {
		registry = NewRegistry(RegistryOptions{CWD: opts.CWD, Logger: opts.Logger})
	}

	references := make([]string, 0, len(opts.Plugins))
	for ref := range opts.Plugins {
		references = append(references, ref)
	}
	sort.Strings(references)

	seenNormalized := make(map[string]bool, len(references))
	seenIDs := make(map[string]bool, len(references))
	loaded := make([]*Loaded, 0, len(references))
	defer func() {
		if err != nil {
			_ = Close(loaded)
		}
	}()

	for _, reference := range references {
		normalized, err := NormalizeReference(reference)
		if err != nil {
			return nil, loadError(reference, StageNormalize, err.Error())
		}
		if seenNormalized[normalized] {
			return nil, loadErrorf(reference, StageNormalize, "duplicate normalized reference '%s'", normalized)
		}
		seenNormalized[normalized] = true

		factory, err := registry.Resolve(ctx, normalized)
		if err != nil {
			return nil, loadError(normalized, StageImport, errorMessage(err, "import failed"))
		}
		if factory == nil {
			return nil, loadError(normalized, StageFactory, "loader returned no factory")
		}

		plugin, err := callFactory(ctx, factory, opts.Plugins[reference])
		if err != nil {
			return nil, loadError(normalized, StageFactory, errorMessage(err, "factory execution failed"))
		}
		if issues := validatePlugin(plugin); len(issues) > 0 {
			return nil, loadErrorf(normalized, StageValidate, "invalid plugin contract (%s)", issues)
		}
		plugin.ID = strings.TrimSpace(plugin.ID)
		plugin.Version = strings.TrimSpace(plugin.Version)

		if seenIDs[plugin.ID] {
			return nil, loadErrorf(normalized, StageCompose, "duplicate plugin id '%s'", plugin.ID)
		}
		seenIDs[plugin.ID] = true

		entry := &Loaded{
			Reference:           reference,
			NormalizedReference: normalized,
			Plugin:              plugin,
		}
		if plugin.Setup != nil {
			setupCtx := SetupContext{
				Reference:       normalized,
				CWD:             opts.CWD,
				GlobalConfigDir: opts.GlobalConfigDir,
				SDKVersion:      opts.SDKVersion,
				Logger:          opts.Logger.With().Str("plugin", plugin.ID).Logger(),
			}
			result, err := callSetup(ctx, plugin.Setup, setupCtx)
			if err != nil {
				return nil, loadError(normalized, StageSetup, errorMessage(err, "setup execution failed"))
			}
			loaded = append(loaded, entry)
			if result != nil {
				entry.Contribution = *result
			}
			if issues := validateContribution(entry.Contribution); len(issues) > 0 {
				return nil, loadErrorf(normalized, StageValidate, "invalid contribution contract (%s)", issues)
			}
		}

		opts.Logger.Debug().
			Str("plugin", plugin.ID).
			Str("reference", normalized).
			Int("tools", len(entry.Contribution.SDK.Tools)).
			Int("actions", len(entry.Contribution.CLI.Actions)).
			Msg("plugin loaded")

		if plugin.Setup == nil {
			loaded = append(loaded, entry)
		}
	}

	return loaded, nil
}

func callFactory(ctx context.Context, f Factory, cfg Config) (p *Plugin, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("factory panicked: %v", r)
		}
	}()
	if cfg == nil {
		cfg = Config{}
	}
	return f(ctx, cfg)
}

func callSetup(ctx context.Context, setup SetupFunc, sc SetupContext) (c *Contribution, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("setup panicked: %v", r)
		}
	}()
	return setup(ctx, sc)
}

func errorMessage(err error, fallback string) string {
	if msg := err.Error(); msg != "" {
		return msg
	}
	return fallback
}

// issues collects contract violations as "path: message" pairs.
type issues []string

func (is *issues) add(path, message string) {
	if path == "" {
		path = "<root>"
	}
	*is = append(*is, path+": "+message)
}

func (is issues) String() string {
	return strings.Join(is, "; ")
}

func validatePlugin(p *Plugin) issues {
	var out issues
	if p == nil {
		out.add("", "expected plugin, received nil")
		return out
	}
	if strings.TrimSpace(p.ID) == "" {
		out.add("id", "must not be empty")
	}
	if p.APIVersion != APIVersion {
		out.add("apiVersion", fmt.Sprintf("expected %d, received %d", APIVersion, p.APIVersion))
	}
	if p.Version != "" && strings.TrimSpace(p.Version) == "" {
		out.add("version", "must not be empty")
	}
	return out
}

func validateContribution(c Contribution) issues {
	var out issues

	names := make(map[string]bool, len(c.SDK.Tools))
	for i, t := range c.SDK.Tools {
		path := "sdk.tools." + strconv.Itoa(i)
		if t == nil {
			out.add(path, "expected tool, received nil")
			continue
		}
		name := t.ID()
		switch {
		case strings.TrimSpace(name) == "":
			out.add(path+".id", "must not be empty")
		case names[name]:
			out.add(path+".id", fmt.Sprintf("duplicate tool '%s'", name))
		}
		names[name] = true
	}

	for i, a := range c.CLI.Actions {
		path := "cli.actions." + strconv.Itoa(i)
		if strings.TrimSpace(a.ID) == "" {
			out.add(path+".id", "must not be empty")
		}
		if strings.TrimSpace(a.Title) == "" {
			out.add(path+".title", "must not be empty")
		}
		if a.Description != "" && strings.TrimSpace(a.Description) == "" {
			out.add(path+".description", "must not be empty")
		}
		for j, alias := range a.Aliases {
			if strings.TrimSpace(alias) == "" {
				out.add(path+".aliases."+strconv.Itoa(j), "must not be empty")
			}
		}
		if a.Run == nil {
			out.add(path+".run", "expected function")
		}
	}
	return out
}

// Close tears down every loaded plugin in reverse load order.
func Close(loaded []*Loaded) error {
	var errs []error
	for i := len(loaded) - 1; i >= 0; i-- {
		p := loaded[i].Plugin
		if p == nil || p.Teardown == nil {
			continue
		}
		if err := p.Teardown(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.ID, err))
		}
	}
	return errors.Join(errs...)
}
