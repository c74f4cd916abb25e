package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/opencode-ai/minicode/internal/runner"
	"github.com/opencode-ai/minicode/pkg/types"
)

// DefaultInterruptionMarker is appended as a user message after an
// aborted turn.
const DefaultInterruptionMarker = "[interrupted by user]"

// ErrInvalidState is wrapped by state validation failures.
var ErrInvalidState = errors.New("invalid session state")

// ValidateState checks the invariants every committed state must hold.
func ValidateState(state types.SessionState) error {
	if strings.TrimSpace(state.ID) == "" {
		return fmt.Errorf("%w: id must not be empty", ErrInvalidState)
	}
	if state.CreatedAt < 0 || state.UpdatedAt < 0 {
		return fmt.Errorf("%w: timestamps must be non-negative", ErrInvalidState)
	}
	for i, msg := range state.Messages {
		if !types.IsValidRole(msg.Role) {
			return fmt.Errorf("%w: messages[%d]: unknown role '%s'", ErrInvalidState, i, msg.Role)
		}
		for j, call := range msg.ToolCalls {
			if call.Name == "" {
				return fmt.Errorf("%w: messages[%d].toolCalls[%d]: name must not be empty", ErrInvalidState, i, j)
			}
		}
		for j, result := range msg.ToolResults {
			if result.CallID == "" {
				return fmt.Errorf("%w: messages[%d].toolResults[%d]: callId must not be empty", ErrInvalidState, i, j)
			}
		}
	}
	return nil
}

// nextStateInput carries what buildNextState needs.
type nextStateInput struct {
	state              types.SessionState
	requestMessages    []types.Message
	response           runner.TurnResponse
	now                int64
	interruptionMarker string
}

func buildNextState(in nextStateInput) types.SessionState {
	next := in.state.Clone()

	messages := make([]types.Message, 0, len(next.Messages)+len(in.requestMessages)+len(in.response.ResponseMessages)+2)
	messages = append(messages, next.Messages...)
	messages = append(messages, types.CloneMessages(in.requestMessages)...)
	messages = append(messages, types.CloneMessages(in.response.ResponseMessages)...)

	if in.response.FinishReason == runner.FinishAbort {
		messages = appendAbortMessages(messages, in.response, in.interruptionMarker)
	}

	next.Messages = messages
	next.UpdatedAt = max(in.state.UpdatedAt, in.now)
	next.UsageTotals = mergeUsage(in.state.UsageTotals, in.response.TotalUsage)
	return next
}

func appendAbortMessages(messages []types.Message, resp runner.TurnResponse, marker string) []types.Message {
	if strings.TrimSpace(resp.Text) != "" && !hasAssistantMessage(resp.ResponseMessages) {
		messages = append(messages, types.AssistantMessage(resp.Text))
	}
	return append(messages, types.UserMessage(marker))
}

func hasAssistantMessage(messages []types.Message) bool {
	for _, m := range messages {
		if m.Role == types.RoleAssistant {
			return true
		}
	}
	return false
}

// mergeUsage adds usage to totals. Totals stay absent when neither side
// reports anything.
func mergeUsage(totals *types.Usage, usage types.Usage) *types.Usage {
	if totals == nil && usage.IsEmpty() {
		return nil
	}
	var base types.Usage
	if totals != nil {
		base = *totals
	}
	merged := base.Add(usage)
	return &merged
}
