package provider

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino/components/model"
)

func newAnthropicChatModel(ctx context.Context, s Settings) (model.ToolCallingChatModel, error) {
	cfg := &claude.Config{
		APIKey:    s.APIKey,
		Model:     s.Model,
		MaxTokens: s.MaxTokens,
	}
	if s.BaseURL != "" {
		cfg.BaseURL = &s.BaseURL
	}

	chatModel, err := claude.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Claude model: %w", err)
	}
	return chatModel, nil
}
