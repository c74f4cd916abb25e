package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/opencode-ai/minicode/pkg/types"
)

const writeDescription = `Write UTF-8 text content to a file.

Usage:
- filePath may be absolute or relative to the working directory
- Parent directories are created as needed
- Existing files are overwritten`

// WriteTool writes whole files.
type WriteTool struct {
	workDir string
}

// WriteInput is the write tool input.
type WriteInput struct {
	FilePath string `json:"filePath"`
	Content  string `json:"content"`
}

// NewWriteTool creates a write tool.
func NewWriteTool(workDir string) *WriteTool {
	return &WriteTool{workDir: workDir}
}

func (t *WriteTool) ID() string          { return WriteToolName }
func (t *WriteTool) Description() string { return writeDescription }

func (t *WriteTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"filePath": {
				"type": "string",
				"minLength": 1,
				"description": "Path of the file to write"
			},
			"content": {
				"type": "string",
				"description": "Full file content"
			}
		},
		"required": ["filePath", "content"]
	}`)
}

func (t *WriteTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (types.ToolOutput, error) {
	var params WriteInput
	if err := decodeInput(input, &params); err != nil {
		return types.ToolOutput{}, err
	}

	base := workDir(t.workDir, toolCtx)
	filePath := resolveFilePath(base, params.FilePath)

	var before string
	if existing, err := os.ReadFile(filePath); err == nil {
		before = string(existing)
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return types.ToolOutput{}, fmt.Errorf("create parent directory: %w", err)
	}
	if err := os.WriteFile(filePath, []byte(params.Content), 0644); err != nil {
		return types.ToolOutput{}, err
	}

	details := map[string]any{
		"filePath": filePath,
		"bytes":    len(params.Content),
	}
	recordFileChange(details, filePath, base, before, params.Content)

	return Success(
		fmt.Sprintf("Wrote %d characters to %s", utf8.RuneCountInString(params.Content), params.FilePath),
		details,
		nil,
	), nil
}
