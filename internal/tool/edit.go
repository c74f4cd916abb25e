package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/opencode-ai/minicode/pkg/types"
)

const editDescription = `Replace one exact string match in a text file.

Usage:
- oldText must occur exactly once in the file
- newText replaces it verbatim
- Include enough surrounding context to make oldText unique`

// hintThreshold is the minimum similarity for a closest-match hint.
const hintThreshold = 0.5

// EditTool performs exact single-occurrence replacements.
type EditTool struct {
	workDir string
}

// EditInput is the edit tool input.
type EditInput struct {
	FilePath string `json:"filePath"`
	OldText  string `json:"oldText"`
	NewText  string `json:"newText"`
}

// NewEditTool creates an edit tool.
func NewEditTool(workDir string) *EditTool {
	return &EditTool{workDir: workDir}
}

func (t *EditTool) ID() string          { return EditToolName }
func (t *EditTool) Description() string { return editDescription }

func (t *EditTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"filePath": {
				"type": "string",
				"minLength": 1,
				"description": "Path of the file to modify"
			},
			"oldText": {
				"type": "string",
				"minLength": 1,
				"description": "Exact text to replace"
			},
			"newText": {
				"type": "string",
				"description": "Replacement text"
			}
		},
		"required": ["filePath", "oldText", "newText"]
	}`)
}

func (t *EditTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (types.ToolOutput, error) {
	var params EditInput
	if err := decodeInput(input, &params); err != nil {
		return types.ToolOutput{}, err
	}

	base := workDir(t.workDir, toolCtx)
	filePath := resolveFilePath(base, params.FilePath)

	data, err := os.ReadFile(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return Failure(fmt.Sprintf("File not found: %s", params.FilePath), nil, nil), nil
	}
	if err != nil {
		return types.ToolOutput{}, err
	}
	content := string(data)

	switch strings.Count(content, params.OldText) {
	case 0:
		details := map[string]any{"filePath": filePath}
		if match, score := findBestMatch(content, params.OldText); score >= hintThreshold {
			details["closestMatch"] = match
			details["similarity"] = score
		}
		return Failure("edit failed: oldText was not found exactly once", details, nil), nil
	case 1:
	default:
		return Failure("edit failed: oldText matches multiple locations", map[string]any{"filePath": filePath}, nil), nil
	}

	next := strings.Replace(content, params.OldText, params.NewText, 1)
	if err := os.WriteFile(filePath, []byte(next), 0644); err != nil {
		return types.ToolOutput{}, err
	}

	details := map[string]any{
		"filePath":           filePath,
		"replacedCharacters": utf8.RuneCountInString(params.OldText),
	}
	recordFileChange(details, filePath, base, content, next)

	return Success(fmt.Sprintf("Updated %s", params.FilePath), details, nil), nil
}

// findBestMatch finds the line or block of text most similar to target.
func findBestMatch(text, target string) (string, float64) {
	lines := strings.Split(text, "\n")
	targetLen := len(strings.Split(target, "\n"))

	bestMatch := ""
	bestSimilarity := 0.0
	for i := 0; i+targetLen <= len(lines); i++ {
		block := strings.Join(lines[i:i+targetLen], "\n")
		if sim := similarity(block, target); sim > bestSimilarity {
			bestSimilarity = sim
			bestMatch = block
		}
	}
	return bestMatch, bestSimilarity
}

// similarity is the normalized Levenshtein similarity of a and b.
func similarity(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	maxLen := max(len(a), len(b))
	if maxLen > 10000 {
		return float64(min(len(a), len(b))) / float64(maxLen)
	}

	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(maxLen)
}
