package provider

import (
	"encoding/json"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/opencode-ai/minicode/pkg/types"
)

// toEinoMessages converts a transcript to eino messages, prefixed with the
// system instructions when they are set.
func toEinoMessages(instructions string, messages []types.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages)+1)
	if instructions != "" {
		out = append(out, schema.SystemMessage(instructions))
	}
	for _, msg := range messages {
		out = append(out, toEinoMessage(msg)...)
	}
	return out
}

// toEinoMessage converts one transcript message. A tool message expands to
// one eino message per result.
func toEinoMessage(msg types.Message) []*schema.Message {
	switch msg.Role {
	case types.RoleSystem:
		return []*schema.Message{schema.SystemMessage(msg.Content)}
	case types.RoleUser:
		return []*schema.Message{schema.UserMessage(msg.Content)}
	case types.RoleTool:
		out := make([]*schema.Message, 0, len(msg.ToolResults))
		for _, r := range msg.ToolResults {
			m := schema.ToolMessage(r.Output.OutputMessage, r.CallID)
			m.ToolName = r.Name
			out = append(out, m)
		}
		return out
	default:
		m := &schema.Message{
			Role:             schema.Assistant,
			Content:          msg.Content,
			ReasoningContent: msg.Reasoning,
		}
		for _, tc := range msg.ToolCalls {
			args := string(tc.Input)
			if args == "" {
				args = "{}"
			}
			m.ToolCalls = append(m.ToolCalls, schema.ToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: schema.FunctionCall{
					Name:      tc.Name,
					Arguments: args,
				},
			})
		}
		return []*schema.Message{m}
	}
}

// usageFromEino converts eino token usage. Nil means not reported.
func usageFromEino(u *schema.TokenUsage) types.Usage {
	if u == nil {
		return types.Usage{}
	}
	return types.Usage{
		InputTokens:  types.Int64(int64(u.PromptTokens)),
		OutputTokens: types.Int64(int64(u.CompletionTokens)),
		TotalTokens:  types.Int64(int64(u.TotalTokens)),
	}
}

// toolInput turns accumulated argument text into JSON. Empty arguments
// become an empty object; malformed text is kept as a JSON string so input
// validation reports it.
func toolInput(args string) json.RawMessage {
	if strings.TrimSpace(args) == "" {
		return json.RawMessage(`{}`)
	}
	if !json.Valid([]byte(args)) {
		quoted, _ := json.Marshal(args)
		return quoted
	}
	return json.RawMessage(args)
}
