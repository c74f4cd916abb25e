package plugin

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/opencode-ai/minicode/internal/tool"
	"github.com/opencode-ai/minicode/internal/validate"
	"github.com/opencode-ai/minicode/pkg/types"
)

//go:embed manifest.schema.json
var manifestSchema []byte

const (
	// InputEnv carries the full tool input as JSON.
	InputEnv = "MINICODE_INPUT"
	// InputEnvPrefix prefixes one variable per top-level input property.
	InputEnvPrefix = "INPUT_"
	// ConfigEnvPrefix prefixes one variable per scalar plugin config value.
	ConfigEnvPrefix = "PLUGIN_"

	defaultManifestToolTimeout = 60 * time.Second
)

// Manifest is a declarative plugin definition.
type Manifest struct {
	ID           string           `json:"id"`
	Version      string           `json:"version,omitempty"`
	Instructions []string         `json:"instructions,omitempty"`
	Tools        []ManifestTool   `json:"tools,omitempty"`
	Actions      []ManifestAction `json:"actions,omitempty"`
}

// ManifestTool is a tool backed by a shell script.
type ManifestTool struct {
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Parameters     json.RawMessage `json:"parameters,omitempty"`
	Run            string          `json:"run"`
	TimeoutMs      int             `json:"timeoutMs,omitempty"`
	MaxOutputBytes int             `json:"maxOutputBytes,omitempty"`
}

// ManifestAction is a command that prints fixed text. "{{args}}" in Print
// is replaced with the command arguments.
type ManifestAction struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Description     string   `json:"description,omitempty"`
	Aliases         []string `json:"aliases,omitempty"`
	AllowDuringTurn bool     `json:"allowDuringTurn,omitempty"`
	Print           string   `json:"print"`
}

// ParseManifest decodes and validates a manifest. name selects the format
// by extension: .yaml, .yml or .json.
func ParseManifest(name string, data []byte) (*Manifest, error) {
	var doc any
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse manifest: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse manifest: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported manifest extension '%s'", filepath.Ext(name))
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := validate.Raw("plugin_manifest.json", manifestSchema, payload); err != nil {
		return nil, fmt.Errorf("invalid manifest (%s)", err.Error())
	}

	var m Manifest
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	parser := syntax.NewParser(syntax.Variant(syntax.LangBash))
	for i, t := range m.Tools {
		if _, err := parser.Parse(strings.NewReader(t.Run), t.Name); err != nil {
			return nil, fmt.Errorf("invalid manifest (tools.%d.run: %s)", i, err.Error())
		}
	}
	return &m, nil
}

type manifestLoader struct {
	cwd    string
	logger zerolog.Logger
}

func (l *manifestLoader) Load(_ context.Context, reference string) (Factory, error) {
	path, ok := FilePath(reference)
	if !ok {
		return nil, fmt.Errorf("unsupported plugin reference '%s'", reference)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("manifest not found: %s", path)
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := ParseManifest(path, data)
	if err != nil {
		return nil, err
	}
	return m.Factory(l.cwd), nil
}

// Factory returns a factory building the plugin m describes. Tools run in
// cwd unless the setup context names another directory.
func (m *Manifest) Factory(cwd string) Factory {
	return func(_ context.Context, cfg Config) (*Plugin, error) {
		configEnv := configEnviron(cfg)
		return &Plugin{
			ID:         m.ID,
			APIVersion: APIVersion,
			Version:    m.Version,
			Setup: func(_ context.Context, sc SetupContext) (*Contribution, error) {
				dir := sc.CWD
				if dir == "" {
					dir = cwd
				}
				contribution := &Contribution{}
				contribution.SDK.InstructionFragments = append([]string(nil), m.Instructions...)
				for _, t := range m.Tools {
					contribution.SDK.Tools = append(contribution.SDK.Tools, newScriptTool(t, dir, configEnv))
				}
				for _, a := range m.Actions {
					contribution.CLI.Actions = append(contribution.CLI.Actions, printAction(a))
				}
				return contribution, nil
			},
		}, nil
	}
}

func printAction(a ManifestAction) Action {
	text := a.Print
	return Action{
		ID:              a.ID,
		Title:           a.Title,
		Description:     a.Description,
		Aliases:         append([]string(nil), a.Aliases...),
		AllowDuringTurn: a.AllowDuringTurn,
		Run: func(_ context.Context, actx ActionContext) error {
			out := strings.ReplaceAll(text, "{{args}}", actx.Args())
			if !strings.HasSuffix(out, "\n") {
				out += "\n"
			}
			actx.Print(out)
			return nil
		},
	}
}

func configEnviron(cfg Config) []string {
	keys := make([]string, 0, len(cfg))
	for k := range cfg {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var env []string
	for _, k := range keys {
		switch v := cfg[k].(type) {
		case string:
			env = append(env, ConfigEnvPrefix+envName(k)+"="+v)
		case bool, int, int64, float64, json.Number:
			env = append(env, fmt.Sprintf("%s%s=%v", ConfigEnvPrefix, envName(k), v))
		}
	}
	return env
}

// envName upper-cases name and replaces anything outside [A-Z0-9] with '_'.
func envName(name string) string {
	return strings.Map(func(r rune) rune {
		r = unicode.ToUpper(r)
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, name)
}

// scriptTool runs a shell script in-process with the mvdan/sh interpreter.
type scriptTool struct {
	def       ManifestTool
	dir       string
	env       []string
	params    json.RawMessage
	timeout   time.Duration
	maxOutput int
}

func newScriptTool(def ManifestTool, dir string, env []string) *scriptTool {
	params := def.Parameters
	if len(params) == 0 {
		params = json.RawMessage(`{"type":"object","properties":{}}`)
	}
	timeout := defaultManifestToolTimeout
	if def.TimeoutMs > 0 {
		timeout = time.Duration(def.TimeoutMs) * time.Millisecond
	}
	maxOutput := def.MaxOutputBytes
	if maxOutput <= 0 {
		maxOutput = tool.DefaultLimits().MaxCommandOutputBytes
	}
	return &scriptTool{def: def, dir: dir, env: env, params: params, timeout: timeout, maxOutput: maxOutput}
}

func (t *scriptTool) ID() string                  { return t.def.Name }
func (t *scriptTool) Description() string         { return t.def.Description }
func (t *scriptTool) Parameters() json.RawMessage { return t.params }

func (t *scriptTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *tool.Context) (types.ToolOutput, error) {
	env, err := t.environ(input)
	if err != nil {
		return types.ToolOutput{}, err
	}

	file, err := syntax.NewParser(syntax.Variant(syntax.LangBash)).Parse(strings.NewReader(t.def.Run), t.def.Name)
	if err != nil {
		return types.ToolOutput{}, fmt.Errorf("parse script: %w", err)
	}

	dir := t.dir
	if toolCtx != nil && toolCtx.WorkDir != "" {
		dir = toolCtx.WorkDir
	}

	var stdout, stderr bytes.Buffer
	runner, err := interp.New(
		interp.StdIO(nil, &stdout, &stderr),
		interp.Dir(dir),
		interp.Env(expand.ListEnviron(env...)),
	)
	if err != nil {
		return types.ToolOutput{}, fmt.Errorf("create interpreter: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	runErr := runner.Run(runCtx, file)
	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil

	exitCode := 0
	var status interp.ExitStatus
	switch {
	case runErr == nil:
	case errors.As(runErr, &status):
		exitCode = int(status)
	case timedOut:
	default:
		return types.ToolOutput{}, runErr
	}

	truncation := toolCtx.Truncator().Apply(ctx, tool.FormatCommandOutput(stdout.String(), stderr.String()), t.maxOutput, t.def.Name)
	details := map[string]any{"output": truncation.Text}

	if timedOut {
		meta := truncation.Meta(map[string]any{"timeoutMs": t.timeout.Milliseconds()})
		return tool.Failure(fmt.Sprintf("Command timed out after %dms\n\n%s", t.timeout.Milliseconds(), truncation.Text), details, meta), nil
	}
	meta := truncation.Meta(map[string]any{"exitCode": exitCode})
	if exitCode != 0 {
		return tool.Failure(fmt.Sprintf("Command failed (exit %d)\n\n%s", exitCode, truncation.Text), details, meta), nil
	}
	return tool.Success(truncation.Text, details, meta), nil
}

func (t *scriptTool) environ(input json.RawMessage) ([]string, error) {
	env := append(os.Environ(), t.env...)
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	env = append(env, InputEnv+"="+string(input))

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(input, &fields); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		raw := fields[name]
		value := string(raw)
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			value = s
		}
		env = append(env, InputEnvPrefix+envName(name)+"="+value)
	}
	return env, nil
}
