// Package mcp connects to Model Context Protocol servers and exposes their
// tools as minicode tools.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// DefaultTimeout bounds connecting and listing tools.
const DefaultTimeout = 10 * time.Second

// ServerConfig describes a stdio MCP server.
type ServerConfig struct {
	// Name prefixes every tool the server exposes.
	Name    string
	Command []string
	Env     map[string]string
	Dir     string
	Timeout time.Duration
}

// RemoteTool is a tool as advertised by the server.
type RemoteTool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// ServerInfo is what the server reported during initialization.
type ServerInfo struct {
	Name    string
	Version string
}

// Client is a connection to one MCP server.
type Client struct {
	name    string
	session *sdkmcp.ClientSession
	info    ServerInfo

	mu     sync.RWMutex
	tools  []RemoteTool
	closed bool
}

// ConnectCommand starts cfg.Command and connects to it over stdio.
func ConnectCommand(ctx context.Context, cfg ServerConfig) (*Client, error) {
	if len(cfg.Command) == 0 {
		return nil, errors.New("empty command")
	}

	cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...)
	cmd.Dir = cfg.Dir
	cmd.Env = os.Environ()
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	return Connect(ctx, cfg.Name, &sdkmcp.CommandTransport{Command: cmd}, cfg.Timeout)
}

// Connect initializes a session over transport and lists the server tools.
func Connect(ctx context.Context, name string, transport sdkmcp.Transport, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sdkClient := sdkmcp.NewClient(&sdkmcp.Implementation{
		Name:    "minicode",
		Version: "1.0.0",
	}, nil)

	session, err := sdkClient.Connect(connectCtx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c := &Client{name: name, session: session}
	if init := session.InitializeResult(); init != nil && init.ServerInfo != nil {
		c.info = ServerInfo{Name: init.ServerInfo.Name, Version: init.ServerInfo.Version}
	}
	if c.name == "" {
		c.name = c.info.Name
	}

	if err := c.refreshTools(connectCtx); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	return c, nil
}

func (c *Client) refreshTools(ctx context.Context) error {
	result, err := c.session.ListTools(ctx, nil)
	if err != nil {
		return err
	}

	tools := make([]RemoteTool, 0, len(result.Tools))
	for _, t := range result.Tools {
		schema, err := json.Marshal(t.InputSchema)
		if err != nil || string(schema) == "null" {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		tools = append(tools, RemoteTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })

	c.mu.Lock()
	c.tools = tools
	c.mu.Unlock()
	return nil
}

// Name returns the server name used as tool prefix.
func (c *Client) Name() string { return c.name }

// Info returns the server's self-reported identity.
func (c *Client) Info() ServerInfo { return c.info }

// RemoteTools returns the server tools, sorted by name.
func (c *Client) RemoteTools() []RemoteTool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]RemoteTool(nil), c.tools...)
}

// Call invokes a server tool by its unprefixed name and returns the
// concatenated text content.
func (c *Client) Call(ctx context.Context, name string, args json.RawMessage) (string, error) {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return "", fmt.Errorf("server not connected: %s", c.name)
	}

	var argsMap map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &argsMap); err != nil {
			return "", fmt.Errorf("failed to parse arguments: %w", err)
		}
	}

	result, err := c.session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      name,
		Arguments: argsMap,
	})
	if err != nil {
		return "", err
	}

	text := textContent(result.Content)
	if result.IsError {
		if text == "" {
			return "", errors.New("tool execution failed")
		}
		return "", fmt.Errorf("tool error: %s", text)
	}
	return text, nil
}

func textContent(content []sdkmcp.Content) string {
	var out strings.Builder
	for _, item := range content {
		if t, ok := item.(*sdkmcp.TextContent); ok {
			out.WriteString(t.Text)
		}
	}
	return out.String()
}

// Close ends the session. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.session.Close()
}

// SanitizeName replaces every character outside [A-Za-z0-9] with '_'.
func SanitizeName(name string) string {
	var result strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			result.WriteRune(r)
		} else {
			result.WriteRune('_')
		}
	}
	return result.String()
}
