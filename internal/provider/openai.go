package provider

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
)

// newOpenAIChatModel serves both openai and openai-compatible; the latter
// always carries a base URL.
func newOpenAIChatModel(ctx context.Context, s Settings) (model.ToolCallingChatModel, error) {
	maxTokens := s.MaxTokens
	cfg := &openai.ChatModelConfig{
		APIKey:              s.APIKey,
		Model:               s.Model,
		MaxCompletionTokens: &maxTokens,
	}
	if s.BaseURL != "" {
		cfg.BaseURL = s.BaseURL
	}

	chatModel, err := openai.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI model: %w", err)
	}
	return chatModel, nil
}
