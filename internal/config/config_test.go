package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/minicode/pkg/types"
)

type fixture struct {
	home   string
	cwd    string
	global string
	env    map[string]string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		home: filepath.Join(root, "home"),
		cwd:  filepath.Join(root, "project"),
	}
	f.global = filepath.Join(root, "global", "config.json")
	f.env = map[string]string{
		"HOME":                   f.home,
		"XDG_DATA_HOME":          filepath.Join(root, "data"),
		"MINICODE_GLOBAL_CONFIG": f.global,
	}
	require.NoError(t, os.MkdirAll(f.cwd, 0755))
	return f
}

func (f *fixture) writeGlobal(t *testing.T, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(f.global), 0755))
	require.NoError(t, os.WriteFile(f.global, []byte(body), 0644))
}

func (f *fixture) writeProject(t *testing.T, body string) {
	t.Helper()
	dir := filepath.Join(f.cwd, ".minicode")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(body), 0644))
}

func (f *fixture) load(overrides map[string]any) (*Config, Files, error) {
	return Load(Options{CWD: f.cwd, Env: f.env, Overrides: overrides})
}

func TestLoadDefaults(t *testing.T) {
	f := newFixture(t)

	cfg, files, err := f.load(nil)
	require.NoError(t, err)

	assert.Equal(t, types.ProviderAnthropic, cfg.Provider)
	assert.Equal(t, DefaultModel, cfg.Model)
	assert.Equal(t, []string{"gpt-4o-mini"}, cfg.ProviderModels[types.ProviderOpenAI])
	assert.Equal(t, DefaultOpenAICompatibleBaseURL, cfg.OpenAICompatible.BaseURL)
	assert.Equal(t, 512000, cfg.ToolLimits.MaxReadBytes)
	assert.Equal(t, 120000, cfg.ToolLimits.DefaultCommandTimeoutMs)
	assert.Equal(t, filepath.Join(f.env["XDG_DATA_HOME"], "minicode", "sessions"), cfg.Paths.SessionsDir)
	assert.Empty(t, cfg.Plugins)

	assert.Equal(t, f.global, files.GlobalConfigPath)
	assert.Equal(t, filepath.Dir(f.global), files.GlobalConfigDir)
	assert.Equal(t, filepath.Join(f.cwd, ".minicode", "config.json"), files.ProjectConfigPath)
}

func TestLoadPrecedence(t *testing.T) {
	f := newFixture(t)
	f.writeGlobal(t, `{
		// comments are allowed
		"provider": "openai",
		"model": "global-model",
		"toolLimits": {"maxReadLines": 10, "maxReadBytes": 100},
	}`)
	f.writeProject(t, `{"model": "project-model", "toolLimits": {"maxReadLines": 20}}`)
	f.env["MINICODE_MODEL"] = "env-model"

	cfg, _, err := f.load(nil)
	require.NoError(t, err)
	assert.Equal(t, types.ProviderOpenAI, cfg.Provider)
	assert.Equal(t, "env-model", cfg.Model)
	assert.Equal(t, 20, cfg.ToolLimits.MaxReadLines)
	assert.Equal(t, 100, cfg.ToolLimits.MaxReadBytes)
	assert.Equal(t, 64000, cfg.ToolLimits.MaxCommandOutputBytes)

	cfg, _, err = f.load(map[string]any{"model": "override-model"})
	require.NoError(t, err)
	assert.Equal(t, "override-model", cfg.Model)
}

func TestLoadEnvironmentKeys(t *testing.T) {
	f := newFixture(t)
	f.env["OPENAI_API_KEY"] = "sk-openai"
	f.env["GOOGLE_GENERATIVE_AI_API_KEY"] = "g-key"
	f.env["ARK_API_KEY"] = "ark-key"
	f.env["OPENAI_COMPATIBLE_BASE_URL"] = "http://example.test/v1"
	f.env["MINICODE_SESSIONS_DIR"] = "/tmp/minicode-sessions"
	f.env["MINICODE_PROVIDER"] = "ark"

	cfg, _, err := f.load(nil)
	require.NoError(t, err)
	assert.Equal(t, types.ProviderArk, cfg.Provider)
	assert.Equal(t, "sk-openai", cfg.APIKeys[types.ProviderOpenAI])
	assert.Equal(t, "g-key", cfg.APIKeys[types.ProviderGoogle])
	assert.Equal(t, "ark-key", cfg.APIKeys[types.ProviderArk])
	assert.Equal(t, "http://example.test/v1", cfg.OpenAICompatible.BaseURL)
	assert.Equal(t, DefaultOpenAICompatibleName, cfg.OpenAICompatible.Name)
	assert.Equal(t, "/tmp/minicode-sessions", cfg.Paths.SessionsDir)
}

func TestPluginsAreGlobalOnly(t *testing.T) {
	t.Run("global plugins survive", func(t *testing.T) {
		f := newFixture(t)
		f.writeGlobal(t, `{"plugins": {"builtin:hello": {"greeting": "hi"}}}`)

		cfg, _, err := f.load(nil)
		require.NoError(t, err)
		assert.Equal(t, map[string]map[string]any{"builtin:hello": {"greeting": "hi"}}, cfg.Plugins)
	})

	t.Run("project plugins rejected", func(t *testing.T) {
		f := newFixture(t)
		f.writeProject(t, `{"plugins": {}}`)

		_, _, err := f.load(nil)
		require.Error(t, err)
		assert.Equal(t, "Plugin references are global-only. Remove 'plugins' from project config.", err.Error())
	})

	t.Run("override plugins rejected", func(t *testing.T) {
		f := newFixture(t)

		_, _, err := f.load(map[string]any{"plugins": map[string]any{}})
		require.Error(t, err)
		assert.Equal(t, "Plugin references are global-only. Remove 'plugins' from config overrides.", err.Error())
	})
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		global string
		want   string
	}{
		{"unknown provider", `{"provider": "nope"}`, "Invalid config: "},
		{"non-positive limit", `{"toolLimits": {"maxReadLines": 0}}`, "/toolLimits/maxReadLines"},
		{"unknown api key provider", `{"apiKeys": {"mystery": "x"}}`, "/apiKeys"},
		{"blank sessions dir", `{"paths": {"sessionsDir": "   "}}`, "/paths/sessionsDir"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.writeGlobal(t, tt.global)

			_, _, err := f.load(nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "Invalid config: ")
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadRequiresObject(t *testing.T) {
	f := newFixture(t)
	f.writeGlobal(t, `[1, 2]`)

	_, _, err := f.load(nil)
	require.Error(t, err)
	assert.Equal(t, "Config file must contain a JSON object: "+f.global, err.Error())
}

func TestLoadEmptyFileIsEmptyObject(t *testing.T) {
	f := newFixture(t)
	f.writeGlobal(t, "  \n")

	cfg, _, err := f.load(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, cfg.Model)
}

func TestInterpolation(t *testing.T) {
	f := newFixture(t)
	f.env["MY_KEY"] = `se"cret`
	require.NoError(t, os.MkdirAll(filepath.Dir(f.global), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(f.global), "key.txt"), []byte("from-file\n"), 0644))
	f.writeGlobal(t, `{
		"apiKeys": {
			"anthropic": "{env:MY_KEY}",
			"openai": "{file:key.txt}"
		}
	}`)

	cfg, _, err := f.load(nil)
	require.NoError(t, err)
	assert.Equal(t, `se"cret`, cfg.APIKeys[types.ProviderAnthropic])
	assert.Equal(t, "from-file", cfg.APIKeys[types.ProviderOpenAI])
}

func TestMerge(t *testing.T) {
	base := map[string]any{"a": 1, "nested": map[string]any{"x": 1, "y": 2}}
	next := map[string]any{"b": 2, "nested": map[string]any{"y": 3}, "a": nil}

	out := merge(base, next)
	assert.Equal(t, map[string]any{"a": 1, "b": 2, "nested": map[string]any{"x": 1, "y": 3}}, out)
	assert.Equal(t, map[string]any{"x": 1, "y": 2}, base["nested"], "base must not be mutated")
}

func TestToolLimitsConversion(t *testing.T) {
	limits := ToolLimits{MaxReadBytes: 1, MaxReadLines: 2, MaxCommandOutputBytes: 3, DefaultCommandTimeoutMs: 4}.Tool()
	assert.Equal(t, 1, limits.MaxReadBytes)
	assert.Equal(t, 4, limits.DefaultCommandTimeoutMs)
}

func TestPathsFromXDG(t *testing.T) {
	p := pathsFrom(func(k string) string {
		return map[string]string{"HOME": "/home/u", "XDG_CONFIG_HOME": "/cfg"}[k]
	})
	assert.Equal(t, filepath.Join("/cfg", "minicode"), p.Config)
	assert.Equal(t, filepath.Join("/home/u", ".local", "share", "minicode", "sessions"), p.SessionsDir())
	assert.Equal(t, filepath.Join("/home/u", ".local", "state", "minicode", "log"), p.LogDir())
}
