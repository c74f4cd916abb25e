package runner

import (
	"encoding/json"

	"github.com/opencode-ai/minicode/pkg/types"
)

// EventType tags a TurnEvent.
type EventType string

const (
	EventTextDelta      EventType = "text_delta"
	EventReasoningDelta EventType = "reasoning_delta"
	EventToolCall       EventType = "tool_call"
	EventToolResult     EventType = "tool_result"
	EventToolError      EventType = "tool_error"
	EventStepFinish     EventType = "step_finish"
	EventFinish         EventType = "finish"
	EventAbort          EventType = "abort"
	EventError          EventType = "error"
)

// FinishReason explains why the model stopped.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content-filter"
	FinishToolCalls     FinishReason = "tool-calls"
	FinishError         FinishReason = "error"
	FinishOther         FinishReason = "other"
	FinishUnknown       FinishReason = "unknown"
	FinishAbort         FinishReason = "abort"
)

// TurnEvent is one normalized event of a turn. Which fields are set depends
// on Type:
//
//	text_delta, reasoning_delta   Text
//	tool_call                     ToolCallID, ToolName, Input
//	tool_result                   ToolCallID, ToolName, Input, Output
//	tool_error                    ToolCallID, ToolName, Input, Error
//	step_finish                   FinishReason, Usage
//	finish                        FinishReason, TotalUsage
//	error                         Error
type TurnEvent struct {
	Type             EventType        `json:"type"`
	Text             string           `json:"text,omitempty"`
	ToolCallID       string           `json:"toolCallId,omitempty"`
	ToolName         string           `json:"toolName,omitempty"`
	Input            json.RawMessage  `json:"input,omitempty"`
	Output           any              `json:"output,omitempty"`
	ProviderExecuted bool             `json:"providerExecuted,omitempty"`
	Error            *SerializedError `json:"error,omitempty"`
	FinishReason     FinishReason     `json:"finishReason,omitempty"`
	Usage            *types.Usage     `json:"usage,omitempty"`
	TotalUsage       *types.Usage     `json:"totalUsage,omitempty"`
}

// PartType tags a raw provider stream part.
type PartType string

const (
	PartStart          PartType = "start"
	PartStartStep      PartType = "start-step"
	PartTextDelta      PartType = "text-delta"
	PartReasoningDelta PartType = "reasoning-delta"
	PartToolCall       PartType = "tool-call"
	PartToolResult     PartType = "tool-result"
	PartToolError      PartType = "tool-error"
	PartFinishStep     PartType = "finish-step"
	PartFinish         PartType = "finish"
	PartAbort          PartType = "abort"
	PartError          PartType = "error"
)

// Part is one low-level element of a raw model stream.
type Part struct {
	Type             PartType
	Text             string
	ToolCallID       string
	ToolName         string
	Input            json.RawMessage
	Output           any
	ProviderExecuted bool
	Err              error
	FinishReason     FinishReason
	Usage            types.Usage
}

// MapPart converts a raw part into its event. ok is false for parts that
// have no event.
func MapPart(p Part) (TurnEvent, bool) {
	switch p.Type {
	case PartTextDelta:
		return TurnEvent{Type: EventTextDelta, Text: p.Text}, true
	case PartReasoningDelta:
		return TurnEvent{Type: EventReasoningDelta, Text: p.Text}, true
	case PartToolCall:
		return TurnEvent{
			Type:             EventToolCall,
			ToolCallID:       p.ToolCallID,
			ToolName:         p.ToolName,
			Input:            p.Input,
			ProviderExecuted: p.ProviderExecuted,
		}, true
	case PartToolResult:
		return TurnEvent{
			Type:             EventToolResult,
			ToolCallID:       p.ToolCallID,
			ToolName:         p.ToolName,
			Input:            p.Input,
			Output:           p.Output,
			ProviderExecuted: p.ProviderExecuted,
		}, true
	case PartToolError:
		serialized := SerializeError(p.Err)
		return TurnEvent{
			Type:             EventToolError,
			ToolCallID:       p.ToolCallID,
			ToolName:         p.ToolName,
			Input:            p.Input,
			Error:            &serialized,
			ProviderExecuted: p.ProviderExecuted,
		}, true
	case PartFinishStep:
		usage := p.Usage.Clone()
		return TurnEvent{Type: EventStepFinish, FinishReason: p.FinishReason, Usage: &usage}, true
	case PartFinish:
		usage := p.Usage.Clone()
		return TurnEvent{Type: EventFinish, FinishReason: p.FinishReason, TotalUsage: &usage}, true
	case PartAbort:
		return TurnEvent{Type: EventAbort}, true
	case PartError:
		serialized := SerializeError(p.Err)
		return TurnEvent{Type: EventError, Error: &serialized}, true
	default:
		return TurnEvent{}, false
	}
}
