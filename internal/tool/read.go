package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/opencode-ai/minicode/pkg/types"
)

const readDescription = `Read a UTF-8 text file.

Usage:
- filePath may be absolute or relative to the working directory
- Lines are returned as "N: text", starting at offset (1-based)
- At most limit lines are returned, capped by the configured line budget
- Output beyond the byte budget is truncated`

// ReadTool reads text files with line numbers.
type ReadTool struct {
	workDir  string
	maxBytes int
	maxLines int
}

// ReadInput is the read tool input.
type ReadInput struct {
	FilePath string `json:"filePath"`
	Offset   int    `json:"offset,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// NewReadTool creates a read tool.
func NewReadTool(workDir string, maxBytes, maxLines int) *ReadTool {
	return &ReadTool{workDir: workDir, maxBytes: maxBytes, maxLines: maxLines}
}

func (t *ReadTool) ID() string          { return ReadToolName }
func (t *ReadTool) Description() string { return readDescription }

func (t *ReadTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"filePath": {
				"type": "string",
				"minLength": 1,
				"description": "Path of the file to read"
			},
			"offset": {
				"type": "integer",
				"minimum": 1,
				"description": "1-based line to start reading from"
			},
			"limit": {
				"type": "integer",
				"minimum": 1,
				"description": "Maximum number of lines to read"
			}
		},
		"required": ["filePath"]
	}`)
}

func (t *ReadTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (types.ToolOutput, error) {
	var params ReadInput
	if err := decodeInput(input, &params); err != nil {
		return types.ToolOutput{}, err
	}

	filePath := resolveFilePath(workDir(t.workDir, toolCtx), params.FilePath)

	info, err := os.Stat(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return Failure(fmt.Sprintf("File not found: %s", params.FilePath), nil, nil), nil
	}
	if err != nil {
		return types.ToolOutput{}, err
	}
	if info.IsDir() {
		return Failure(fmt.Sprintf("Path is a directory: %s", params.FilePath), map[string]any{"filePath": filePath}, nil), nil
	}
	if isBinaryFile(filePath) {
		return Failure(fmt.Sprintf("Cannot read binary file: %s", params.FilePath), map[string]any{"filePath": filePath}, nil), nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return types.ToolOutput{}, err
	}

	allLines := strings.Split(string(data), "\n")
	startLine := max(1, params.Offset)
	maxLines := t.maxLines
	if params.Limit > 0 {
		maxLines = min(params.Limit, t.maxLines)
	}

	from := min(startLine-1, len(allLines))
	to := min(from+maxLines, len(allLines))
	selected := allLines[from:to]

	var numbered strings.Builder
	for i, line := range selected {
		if i > 0 {
			numbered.WriteByte('\n')
		}
		fmt.Fprintf(&numbered, "%d: %s", startLine+i, line)
	}

	truncation := toolCtx.Truncator().Apply(ctx, numbered.String(), t.maxBytes, "read")

	return Success(
		truncation.Text,
		map[string]any{
			"filePath":  filePath,
			"lineCount": len(selected),
		},
		truncation.Meta(nil),
	), nil
}

// isBinaryFile sniffs the first block of path for NUL bytes or a high
// ratio of control characters.
func isBinaryFile(path string) bool {
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer file.Close()

	buf := make([]byte, 8000)
	n, _ := file.Read(buf)
	if n == 0 {
		return false
	}

	nonPrintable := 0
	for i := 0; i < n; i++ {
		if buf[i] == 0 {
			return true
		}
		if buf[i] < 32 && buf[i] != '\n' && buf[i] != '\r' && buf[i] != '\t' {
			nonPrintable++
		}
	}
	return float64(nonPrintable)/float64(n) > 0.3
}
