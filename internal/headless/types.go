package headless

import (
	"time"

	"github.com/opencode-ai/minicode/pkg/types"
)

// OutputFormat defines the output format for headless mode.
type OutputFormat string

const (
	// OutputText is human-readable streaming text output.
	OutputText OutputFormat = "text"
	// OutputJSON is a final JSON result summary.
	OutputJSON OutputFormat = "json"
	// OutputJSONL streams one JSON event per line.
	OutputJSONL OutputFormat = "jsonl"
)

// ParseOutputFormat validates a format name.
func ParseOutputFormat(s string) (OutputFormat, bool) {
	switch f := OutputFormat(s); f {
	case OutputText, OutputJSON, OutputJSONL:
		return f, true
	default:
		return "", false
	}
}

// ExitCode defines exit codes for headless mode.
type ExitCode int

const (
	// ExitSuccess indicates successful completion.
	ExitSuccess ExitCode = 0
	// ExitError indicates a general/unknown error.
	ExitError ExitCode = 1
	// ExitTimeout indicates timeout exceeded.
	ExitTimeout ExitCode = 2
	// ExitAborted indicates the turn was interrupted.
	ExitAborted ExitCode = 3
	// ExitInvalidInput indicates bad prompt or missing required flags.
	ExitInvalidInput ExitCode = 5
	// ExitSessionNotFound indicates session not found when continuing.
	ExitSessionNotFound ExitCode = 6
)

// Config holds configuration for headless mode execution.
type Config struct {
	// Prompt is the instruction to execute.
	Prompt string
	// WorkDir is recorded on new sessions.
	WorkDir string
	// OutputFormat specifies the output format (text, json, jsonl).
	OutputFormat OutputFormat
	// Timeout is the maximum execution time. Zero disables it.
	Timeout time.Duration
	// ReadStdin appends standard input to the prompt.
	ReadStdin bool
	// SessionID is an existing session ID to continue.
	SessionID string
	// CreateSession creates SessionID when it does not exist.
	CreateSession bool
	// ContinueLast continues the most recently updated session.
	ContinueLast bool
	// Files are attached to the prompt.
	Files []string
	// Quiet prints only assistant text.
	Quiet bool
	// Verbose adds reasoning and step events.
	Verbose bool
	// NoColor disables ANSI colors.
	NoColor bool
	// Runtime overrides the provider and model of new sessions, and the
	// model of continued ones.
	Runtime types.RuntimeSelection
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		OutputFormat: OutputText,
		Timeout:      30 * time.Minute,
	}
}

// ToolCall represents a tool call in the result.
type ToolCall struct {
	ID     string `json:"id"`
	Tool   string `json:"tool"`
	Input  any    `json:"input,omitempty"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Result holds the final result of a headless execution.
type Result struct {
	SessionID    string       `json:"session_id"`
	Status       string       `json:"status"` // "success", "error", "timeout", "aborted"
	Provider     string       `json:"provider,omitempty"`
	Model        string       `json:"model,omitempty"`
	DurationMS   int64        `json:"duration_ms"`
	Usage        *types.Usage `json:"usage,omitempty"`
	Steps        int          `json:"steps"`
	ToolCalls    []ToolCall   `json:"tool_calls,omitempty"`
	FinishReason string       `json:"finish_reason,omitempty"`
	FinalMessage string       `json:"final_message,omitempty"`
	Error        string       `json:"error,omitempty"`
	ExitCode     ExitCode     `json:"exit_code"`
}

// Event represents a JSONL event for streaming output.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"ts"`
	Data      any       `json:"data"`
}
