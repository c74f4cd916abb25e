package plugin

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"mvdan.cc/sh/v3/shell"

	"github.com/opencode-ai/minicode/internal/mcp"
	"github.com/opencode-ai/minicode/internal/tool"
)

const mcpStdioPrefix = SchemeMCPStdio + "://"

type mcpLoader struct {
	cwd    string
	logger zerolog.Logger
}

// ParseStdioReference splits an mcp+stdio:// reference into a command line.
// Quoting follows POSIX shell rules.
func ParseStdioReference(reference string) ([]string, error) {
	if !strings.HasPrefix(strings.ToLower(reference), mcpStdioPrefix) {
		return nil, fmt.Errorf("unsupported plugin reference '%s'", reference)
	}
	fields, err := shell.Fields(reference[len(mcpStdioPrefix):], func(string) string { return "" })
	if err != nil {
		return nil, fmt.Errorf("parse command: %w", err)
	}
	if len(fields) == 0 {
		return nil, errors.New("mcp+stdio reference has no command")
	}
	return fields, nil
}

func (l *mcpLoader) Load(_ context.Context, reference string) (Factory, error) {
	command, err := ParseStdioReference(reference)
	if err != nil {
		return nil, err
	}

	return func(_ context.Context, cfg Config) (*Plugin, error) {
		name := configString(cfg, "name")
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(command[0]), filepath.Ext(command[0]))
		}
		server := mcp.ServerConfig{
			Name:    name,
			Command: command,
			Env:     configStringMap(cfg, "env"),
			Timeout: time.Duration(configInt(cfg, "timeoutMs")) * time.Millisecond,
		}

		var client *mcp.Client
		return &Plugin{
			ID:         "mcp-" + name,
			APIVersion: APIVersion,
			Version:    configString(cfg, "version"),
			Setup: func(ctx context.Context, sc SetupContext) (*Contribution, error) {
				server.Dir = sc.CWD
				if server.Dir == "" {
					server.Dir = l.cwd
				}
				c, err := mcp.ConnectCommand(ctx, server)
				if err != nil {
					return nil, err
				}
				client = c
				sc.Logger.Info().
					Str("server", c.Info().Name).
					Int("tools", len(c.RemoteTools())).
					Msg("mcp server connected")

				contribution := &Contribution{}
				contribution.SDK.Tools = append([]tool.Tool(nil), c.Tools()...)
				if hint := configString(cfg, "instructions"); hint != "" {
					contribution.SDK.InstructionFragments = []string{hint}
				}
				return contribution, nil
			},
			Teardown: func() error {
				if client == nil {
					return nil
				}
				return client.Close()
			},
		}, nil
	}, nil
}

func configString(cfg Config, key string) string {
	s, _ := cfg[key].(string)
	return strings.TrimSpace(s)
}

func configInt(cfg Config, key string) int {
	switch v := cfg[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func configStringMap(cfg Config, key string) map[string]string {
	raw, ok := cfg[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
