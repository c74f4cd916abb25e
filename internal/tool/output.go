package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opencode-ai/minicode/internal/validate"
	"github.com/opencode-ai/minicode/pkg/types"
)

const failurePrefix = "Tool execution failed"

// Success builds a successful output.
func Success(message string, details any, meta map[string]any) types.ToolOutput {
	return types.ToolOutput{OK: true, OutputMessage: message, Details: details, Meta: meta}
}

// Failure builds a failed output.
func Failure(message string, details any, meta map[string]any) types.ToolOutput {
	return types.ToolOutput{OK: false, OutputMessage: message, Details: details, Meta: meta}
}

// FailureFromError converts err into the failed output the model sees.
func FailureFromError(err error) types.ToolOutput {
	if err == nil || strings.TrimSpace(err.Error()) == "" {
		return Failure(failurePrefix, nil, nil)
	}
	return Failure(fmt.Sprintf("%s: %s", failurePrefix, err.Error()), nil, nil)
}

// Execute runs t with input. Invalid input, returned errors and panics all
// become failed outputs; Execute itself never fails.
func Execute(ctx context.Context, t Tool, input json.RawMessage, toolCtx *Context) (out types.ToolOutput) {
	defer func() {
		if r := recover(); r != nil {
			if toolCtx != nil {
				toolCtx.Logger.Error().Str("tool", t.ID()).Interface("panic", r).Msg("tool panicked")
			}
			out = FailureFromError(fmt.Errorf("%v", r))
		}
	}()

	if len(strings.TrimSpace(string(input))) == 0 {
		input = json.RawMessage(`{}`)
	}

	if params := t.Parameters(); len(params) > 0 {
		if err := validate.Raw("tool_"+t.ID()+".json", params, input); err != nil {
			return FailureFromError(fmt.Errorf("invalid input: %w", err))
		}
	}

	result, err := t.Execute(ctx, input, toolCtx)
	if err != nil {
		return FailureFromError(err)
	}
	return result
}

// decodeInput unmarshals tool input into v.
func decodeInput(input json.RawMessage, v any) error {
	if err := json.Unmarshal(input, v); err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	return nil
}
