package provider

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// newArkChatModel builds a Volcengine ARK model. Model is the endpoint id.
func newArkChatModel(ctx context.Context, s Settings) (model.ToolCallingChatModel, error) {
	maxTokens := s.MaxTokens
	cfg := &ark.ChatModelConfig{
		APIKey:    s.APIKey,
		Model:     s.Model,
		MaxTokens: &maxTokens,
	}
	if s.BaseURL != "" {
		cfg.BaseURL = s.BaseURL
	}

	chatModel, err := ark.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create ARK model: %w", err)
	}
	return chatModel, nil
}
