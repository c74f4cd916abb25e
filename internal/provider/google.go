package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/oklog/ulid/v2"
	"google.golang.org/genai"
)

// geminiChatModel adapts the genai SDK to eino's tool-calling chat model.
type geminiChatModel struct {
	client    *genai.Client
	model     string
	maxTokens int32
	tools     []*genai.Tool
}

func newGoogleChatModel(ctx context.Context, s Settings) (model.ToolCallingChatModel, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  s.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Gemini client: %w", err)
	}
	return &geminiChatModel{
		client:    client,
		model:     s.Model,
		maxTokens: int32(s.MaxTokens),
	}, nil
}

// WithTools returns a copy of m that declares tools.
func (m *geminiChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	decls, err := geminiDeclarations(tools)
	if err != nil {
		return nil, err
	}
	clone := *m
	clone.tools = nil
	if len(decls) > 0 {
		clone.tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return &clone, nil
}

// Generate drains Stream into a single message.
func (m *geminiChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	sr, err := m.Stream(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	defer sr.Close()

	var chunks []*schema.Message
	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, msg)
	}
	if len(chunks) == 0 {
		return nil, errors.New("empty response from Gemini")
	}
	return schema.ConcatMessages(chunks)
}

// Stream runs GenerateContentStream and forwards each response as a chunk.
func (m *geminiChatModel) Stream(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	if m.client == nil {
		return nil, errors.New("gemini client not initialized")
	}

	contents, system := toGenaiContents(input)
	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: m.maxTokens,
		Tools:           m.tools,
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	sr, sw := schema.Pipe[*schema.Message](8)
	go func() {
		defer sw.Close()
		index := 0
		for resp, err := range m.client.Models.GenerateContentStream(ctx, m.model, contents, cfg) {
			if err != nil {
				sw.Send(nil, fmt.Errorf("gemini stream: %w", err))
				return
			}
			msg := fromGenaiResponse(resp, &index)
			if msg == nil {
				continue
			}
			if closed := sw.Send(msg, nil); closed {
				return
			}
		}
	}()
	return sr, nil
}

// toGenaiContents converts eino messages. System messages are joined into
// the system instruction; consecutive tool results share one content.
func toGenaiContents(input []*schema.Message) ([]*genai.Content, string) {
	var (
		contents []*genai.Content
		system   []string
	)
	for _, msg := range input {
		switch msg.Role {
		case schema.System:
			system = append(system, msg.Content)
		case schema.User:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		case schema.Assistant:
			content := &genai.Content{Role: genai.RoleModel}
			if msg.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				var args map[string]any
				_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   tc.ID,
						Name: tc.Function.Name,
						Args: args,
					},
				})
			}
			if len(content.Parts) == 0 {
				content.Parts = append(content.Parts, &genai.Part{Text: ""})
			}
			contents = append(contents, content)
		case schema.Tool:
			part := &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       msg.ToolCallID,
					Name:     msg.ToolName,
					Response: map[string]any{"output": msg.Content},
				},
			}
			if n := len(contents); n > 0 && isFunctionResponses(contents[n-1]) {
				contents[n-1].Parts = append(contents[n-1].Parts, part)
				continue
			}
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{part}})
		}
	}
	return contents, strings.Join(system, "\n\n")
}

func isFunctionResponses(c *genai.Content) bool {
	if len(c.Parts) == 0 {
		return false
	}
	for _, p := range c.Parts {
		if p.FunctionResponse == nil {
			return false
		}
	}
	return true
}

// fromGenaiResponse converts one streamed response into an eino chunk.
// index numbers function calls across the whole stream.
func fromGenaiResponse(resp *genai.GenerateContentResponse, index *int) *schema.Message {
	if resp == nil {
		return nil
	}
	msg := &schema.Message{Role: schema.Assistant}
	var meta schema.ResponseMeta

	if len(resp.Candidates) > 0 && resp.Candidates[0] != nil {
		cand := resp.Candidates[0]
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if part == nil {
					continue
				}
				switch {
				case part.FunctionCall != nil:
					args, err := json.Marshal(part.FunctionCall.Args)
					if err != nil || part.FunctionCall.Args == nil {
						args = []byte("{}")
					}
					id := part.FunctionCall.ID
					if id == "" {
						id = "call_" + ulid.Make().String()
					}
					idx := *index
					*index++
					msg.ToolCalls = append(msg.ToolCalls, schema.ToolCall{
						Index: &idx,
						ID:    id,
						Type:  "function",
						Function: schema.FunctionCall{
							Name:      part.FunctionCall.Name,
							Arguments: string(args),
						},
					})
				case part.Thought:
					msg.ReasoningContent += part.Text
				default:
					msg.Content += part.Text
				}
			}
		}
		meta.FinishReason = string(cand.FinishReason)
	}
	if u := resp.UsageMetadata; u != nil {
		meta.Usage = &schema.TokenUsage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	if meta.FinishReason != "" || meta.Usage != nil {
		msg.ResponseMeta = &meta
	}
	return msg
}

// geminiDeclarations converts eino tool descriptors to function
// declarations carrying their JSON schema.
func geminiDeclarations(tools []*schema.ToolInfo) ([]*genai.FunctionDeclaration, error) {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, info := range tools {
		params, err := toolJSONSchema(info)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", info.Name, err)
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 info.Name,
			Description:          info.Desc,
			ParametersJsonSchema: params,
		})
	}
	return decls, nil
}

func toolJSONSchema(info *schema.ToolInfo) (map[string]any, error) {
	empty := map[string]any{"type": "object", "properties": map[string]any{}}
	if info.ParamsOneOf == nil {
		return empty, nil
	}
	js, err := info.ParamsOneOf.ToJSONSchema()
	if err != nil {
		return nil, err
	}
	if js == nil {
		return empty, nil
	}
	raw, err := json.Marshal(js)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}
	return out, nil
}
