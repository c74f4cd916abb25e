// Package config resolves the runtime configuration.
//
// Sources are merged in this order, later sources winning key by key:
//
//  1. global config file ($MINICODE_GLOBAL_CONFIG or <xdg config>/minicode/config.json)
//  2. project config file (<cwd>/.minicode/config.json)
//  3. environment variables
//  4. programmatic overrides
//
// Plugin references may only appear in the global file. Both files are JSONC
// and support {env:VAR} and {file:path} placeholders.
package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/opencode-ai/minicode/internal/tool"
	"github.com/opencode-ai/minicode/internal/validate"
	"github.com/opencode-ai/minicode/pkg/types"
)

//go:embed config.schema.json
var configSchema []byte

// Default runtime selection.
const (
	DefaultProvider = types.ProviderAnthropic
	DefaultModel    = "claude-3-5-sonnet-latest"

	DefaultOpenAICompatibleName    = "openai-compatible"
	DefaultOpenAICompatibleBaseURL = "http://localhost:11434/v1"
)

// Config is the resolved configuration.
type Config struct {
	Provider         types.ProviderID              `json:"provider"`
	Model            string                        `json:"model"`
	ProviderModels   map[types.ProviderID][]string `json:"providerModels"`
	APIKeys          map[types.ProviderID]string   `json:"apiKeys"`
	OpenAICompatible OpenAICompatible              `json:"openaiCompatible"`
	Plugins          map[string]map[string]any     `json:"plugins"`
	ToolLimits       ToolLimits                    `json:"toolLimits"`
	Paths            PathsConfig                   `json:"paths"`
}

// OpenAICompatible configures the generic OpenAI-compatible endpoint.
type OpenAICompatible struct {
	Name    string `json:"name"`
	BaseURL string `json:"baseURL"`
	APIKey  string `json:"apiKey,omitempty"`
}

// ToolLimits bounds the builtin tools.
type ToolLimits struct {
	MaxReadBytes            int `json:"maxReadBytes"`
	MaxReadLines            int `json:"maxReadLines"`
	MaxCommandOutputBytes   int `json:"maxCommandOutputBytes"`
	DefaultCommandTimeoutMs int `json:"defaultCommandTimeoutMs"`
}

// Tool converts l to the tool package's limits.
func (l ToolLimits) Tool() tool.Limits {
	return tool.Limits{
		MaxReadBytes:            l.MaxReadBytes,
		MaxReadLines:            l.MaxReadLines,
		MaxCommandOutputBytes:   l.MaxCommandOutputBytes,
		DefaultCommandTimeoutMs: l.DefaultCommandTimeoutMs,
	}
}

// PathsConfig holds configurable filesystem locations.
type PathsConfig struct {
	SessionsDir string `json:"sessionsDir"`
}

// DefaultProviderModels returns the stock model list per provider.
func DefaultProviderModels() map[types.ProviderID][]string {
	return map[types.ProviderID][]string{
		types.ProviderOpenAI:           {"gpt-4o-mini"},
		types.ProviderAnthropic:        {"claude-3-5-sonnet-latest"},
		types.ProviderGoogle:           {"gemini-2.5-flash"},
		types.ProviderOpenAICompatible: {"gpt-4o-mini"},
		types.ProviderArk:              {"doubao-seed-1-6-250615"},
	}
}

// Files locates the config files.
type Files struct {
	GlobalConfigPath  string
	ProjectConfigPath string
	GlobalConfigDir   string
}

// ResolveFiles returns the config file locations for cwd.
func ResolveFiles(cwd string, getenv func(string) string) Files {
	global := getenv("MINICODE_GLOBAL_CONFIG")
	if global == "" {
		global = filepath.Join(pathsFrom(getenv).Config, "config.json")
	}
	return Files{
		GlobalConfigPath:  global,
		ProjectConfigPath: filepath.Join(cwd, ".minicode", "config.json"),
		GlobalConfigDir:   filepath.Dir(global),
	}
}

// Options configures Load.
type Options struct {
	CWD string
	// Env replaces the process environment when non-nil.
	Env map[string]string
	// Overrides are applied last. They use the JSON shape of Config and
	// must not carry plugins.
	Overrides map[string]any
}

// Load resolves the configuration.
func Load(opts Options) (*Config, Files, error) {
	getenv := os.Getenv
	if opts.Env != nil {
		getenv = func(k string) string { return opts.Env[k] }
	}
	files := ResolveFiles(opts.CWD, getenv)

	global, err := readConfigFile(files.GlobalConfigPath, getenv)
	if err != nil {
		return nil, files, err
	}
	project, err := readConfigFile(files.ProjectConfigPath, getenv)
	if err != nil {
		return nil, files, err
	}

	if err := assertNoPlugins("project config", project); err != nil {
		return nil, files, err
	}
	overrides := opts.Overrides
	if overrides == nil {
		overrides = map[string]any{}
	}
	if err := assertNoPlugins("config overrides", overrides); err != nil {
		return nil, files, err
	}

	globalPlugins, hasPlugins := global["plugins"]
	delete(global, "plugins")

	merged := merge(defaults(getenv), global)
	merged = merge(merged, project)
	merged = merge(merged, envToConfig(getenv))
	merged = merge(merged, overrides)
	if hasPlugins {
		merged["plugins"] = globalPlugins
	}

	cfg, err := decode(merged)
	if err != nil {
		return nil, files, err
	}
	return cfg, files, nil
}

// Default returns the configuration with nothing but defaults applied.
func Default() *Config {
	cfg, err := decode(defaults(os.Getenv))
	if err != nil {
		panic(err)
	}
	return cfg
}

func decode(merged map[string]any) (*Config, error) {
	payload, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("Invalid config: %w", err)
	}
	if err := validate.Raw("minicode_config.json", configSchema, payload); err != nil {
		return nil, fmt.Errorf("Invalid config: %s", err.Error())
	}

	var cfg Config
	if err := json.Unmarshal(payload, &cfg); err != nil {
		return nil, fmt.Errorf("Invalid config: %w", err)
	}
	cfg.Paths.SessionsDir = strings.TrimSpace(cfg.Paths.SessionsDir)
	if cfg.Plugins == nil {
		cfg.Plugins = map[string]map[string]any{}
	}
	return &cfg, nil
}

func defaults(getenv func(string) string) map[string]any {
	models := map[string]any{}
	for p, list := range DefaultProviderModels() {
		items := make([]any, len(list))
		for i, m := range list {
			items[i] = m
		}
		models[string(p)] = items
	}
	limits := tool.DefaultLimits()
	return map[string]any{
		"provider":       string(DefaultProvider),
		"model":          DefaultModel,
		"providerModels": models,
		"apiKeys":        map[string]any{},
		"openaiCompatible": map[string]any{
			"name":    DefaultOpenAICompatibleName,
			"baseURL": DefaultOpenAICompatibleBaseURL,
		},
		"plugins": map[string]any{},
		"toolLimits": map[string]any{
			"maxReadBytes":            limits.MaxReadBytes,
			"maxReadLines":            limits.MaxReadLines,
			"maxCommandOutputBytes":   limits.MaxCommandOutputBytes,
			"defaultCommandTimeoutMs": limits.DefaultCommandTimeoutMs,
		},
		"paths": map[string]any{
			"sessionsDir": pathsFrom(getenv).SessionsDir(),
		},
	}
}

// readConfigFile returns the object stored at path, or an empty object when
// the file is missing or blank.
func readConfigFile(path string, getenv func(string) string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return map[string]any{}, nil
	}

	data = jsonc.ToJSON(data)
	data = interpolate(data, filepath.Dir(path), getenv)

	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("Invalid config: %s: %w", path, err)
	}
	obj, ok := parsed.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("Config file must contain a JSON object: %s", path)
	}
	return obj, nil
}

func assertNoPlugins(source string, value map[string]any) error {
	if _, ok := value["plugins"]; ok {
		return fmt.Errorf("Plugin references are global-only. Remove 'plugins' from %s.", source)
	}
	return nil
}

func envToConfig(getenv func(string) string) map[string]any {
	out := map[string]any{}
	if v := getenv("MINICODE_PROVIDER"); v != "" {
		out["provider"] = v
	}
	if v := getenv("MINICODE_MODEL"); v != "" {
		out["model"] = v
	}

	apiKeys := map[string]any{}
	setIf := func(m map[string]any, key, value string) {
		if value != "" {
			m[key] = value
		}
	}
	setIf(apiKeys, string(types.ProviderOpenAI), getenv("OPENAI_API_KEY"))
	setIf(apiKeys, string(types.ProviderAnthropic), getenv("ANTHROPIC_API_KEY"))
	google := getenv("GOOGLE_API_KEY")
	if google == "" {
		google = getenv("GOOGLE_GENERATIVE_AI_API_KEY")
	}
	setIf(apiKeys, string(types.ProviderGoogle), google)
	setIf(apiKeys, string(types.ProviderOpenAICompatible), getenv("OPENAI_COMPATIBLE_API_KEY"))
	setIf(apiKeys, string(types.ProviderArk), getenv("ARK_API_KEY"))
	if len(apiKeys) > 0 {
		out["apiKeys"] = apiKeys
	}

	compatible := map[string]any{}
	setIf(compatible, "baseURL", getenv("OPENAI_COMPATIBLE_BASE_URL"))
	setIf(compatible, "name", getenv("OPENAI_COMPATIBLE_NAME"))
	setIf(compatible, "apiKey", getenv("OPENAI_COMPATIBLE_API_KEY"))
	if len(compatible) > 0 {
		out["openaiCompatible"] = compatible
	}

	if v := getenv("MINICODE_SESSIONS_DIR"); v != "" {
		out["paths"] = map[string]any{"sessionsDir": v}
	}
	return out
}

// merge deep-merges next over base. Nested objects merge key by key; every
// other value replaces. nil values in next are skipped.
func merge(base, next map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(next))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range next {
		if v == nil {
			continue
		}
		cur, curIsObj := out[k].(map[string]any)
		nv, nextIsObj := v.(map[string]any)
		if curIsObj && nextIsObj {
			out[k] = merge(cur, nv)
			continue
		}
		out[k] = v
	}
	return out
}

var (
	envPattern  = regexp.MustCompile(`\{env:([^}]+)\}`)
	filePattern = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string, getenv func(string) string) []byte {
	str := envPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		return jsonEscape(getenv(envPattern.FindStringSubmatch(match)[1]))
	})

	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]
		if strings.HasPrefix(filePath, "~/") {
			filePath = filepath.Join(getenv("HOME"), filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match
		}
		return jsonEscape(strings.TrimRight(string(content), "\r\n"))
	})

	return []byte(str)
}

// jsonEscape escapes s for embedding inside a JSON string literal.
func jsonEscape(s string) string {
	quoted, _ := json.Marshal(s)
	return string(quoted[1 : len(quoted)-1])
}
