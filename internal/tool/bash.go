package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
	"unicode"

	"github.com/opencode-ai/minicode/pkg/types"
)

// killGrace is how long a cancelled command may take to exit after its
// process group is signalled.
const killGrace = 200 * time.Millisecond

const bashDescription = `Execute a shell command in the session working directory.

Usage:
- command is required
- Optional timeoutMs overrides the default timeout
- stdout and stderr are captured separately
- Commands run in their own process group so children are cleaned up`

// BashTool runs shell commands.
type BashTool struct {
	workDir          string
	shell            string
	defaultTimeoutMs int
	maxOutputBytes   int
}

// BashInput is the bash tool input.
type BashInput struct {
	Command   string `json:"command"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
}

// NewBashTool creates a bash tool.
func NewBashTool(workDir string, defaultTimeoutMs, maxOutputBytes int) *BashTool {
	return &BashTool{
		workDir:          workDir,
		shell:            detectShell(),
		defaultTimeoutMs: defaultTimeoutMs,
		maxOutputBytes:   maxOutputBytes,
	}
}

func detectShell() string {
	if runtime.GOOS == "windows" {
		if comspec := os.Getenv("COMSPEC"); comspec != "" {
			return comspec
		}
		return "cmd.exe"
	}
	if bash, err := exec.LookPath("bash"); err == nil {
		return bash
	}
	return "/bin/sh"
}

func (t *BashTool) ID() string          { return BashToolName }
func (t *BashTool) Description() string { return bashDescription }

func (t *BashTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {
				"type": "string",
				"minLength": 1,
				"description": "The command to execute"
			},
			"timeoutMs": {
				"type": "integer",
				"minimum": 1,
				"description": "Optional timeout in milliseconds"
			}
		},
		"required": ["command"]
	}`)
}

func (t *BashTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (types.ToolOutput, error) {
	var params BashInput
	if err := decodeInput(input, &params); err != nil {
		return types.ToolOutput{}, err
	}

	timeoutMs := t.defaultTimeoutMs
	if params.TimeoutMs > 0 {
		timeoutMs = params.TimeoutMs
	}

	cmdCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	cmd := t.command(cmdCtx, params.Command)
	cmd.Dir = workDir(t.workDir, toolCtx)
	cmd.Env = os.Environ()
	setProcessGroup(cmd)
	cmd.WaitDelay = killGrace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	timedOut := errors.Is(cmdCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil

	var exitErr *exec.ExitError
	if runErr != nil && !timedOut && !errors.As(runErr, &exitErr) {
		return Failure("Command execution failed", map[string]any{
			"command": params.Command,
			"error":   runErr.Error(),
		}, nil), nil
	}

	truncation := toolCtx.Truncator().Apply(ctx, FormatCommandOutput(stdout.String(), stderr.String()), t.maxOutputBytes, "bash")
	details := map[string]any{
		"command": params.Command,
		"output":  truncation.Text,
	}

	if timedOut {
		meta := truncation.Meta(map[string]any{"timeoutMs": timeoutMs})
		return Failure(withOutput(fmt.Sprintf("Command timed out after %dms", timeoutMs), truncation.Text), details, meta), nil
	}

	if ctx.Err() != nil {
		return Failure("Command execution failed", map[string]any{
			"command": params.Command,
			"error":   ctx.Err().Error(),
		}, nil), nil
	}

	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	meta := truncation.Meta(map[string]any{"exitCode": exitCode})

	if exitCode == 0 {
		return Success(withOutput("Command succeeded (exit 0)", truncation.Text), details, meta), nil
	}
	return Failure(withOutput(fmt.Sprintf("Command failed (exit %d)", exitCode), truncation.Text), details, meta), nil
}

func (t *BashTool) command(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, t.shell, "/c", command)
	}
	return exec.CommandContext(ctx, t.shell, "-c", command)
}

// FormatCommandOutput labels the non-blank streams of a finished command.
func FormatCommandOutput(stdout, stderr string) string {
	var parts []string
	if strings.TrimSpace(stdout) != "" {
		parts = append(parts, "stdout:\n"+strings.TrimRightFunc(stdout, unicode.IsSpace))
	}
	if strings.TrimSpace(stderr) != "" {
		parts = append(parts, "stderr:\n"+strings.TrimRightFunc(stderr, unicode.IsSpace))
	}
	if len(parts) == 0 {
		return "(no output)"
	}
	return strings.Join(parts, "\n\n")
}

func withOutput(status, output string) string {
	return status + "\n\n" + output
}
