package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/minicode/internal/config"
	"github.com/opencode-ai/minicode/pkg/types"
)

// DefaultMaxTokens caps output tokens for providers that require a limit.
const DefaultMaxTokens = 8192

// Settings is what a factory needs to build a chat model.
type Settings struct {
	Provider  types.ProviderID
	Model     string
	APIKey    string
	BaseURL   string
	Name      string
	MaxTokens int
}

// ChatModelFactory builds an eino chat model for settings.
type ChatModelFactory func(ctx context.Context, settings Settings) (model.ToolCallingChatModel, error)

// Registry maps providers to chat model factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[types.ProviderID]ChatModelFactory
}

// NewRegistry returns a registry with every supported provider installed.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[types.ProviderID]ChatModelFactory)}
	r.Register(types.ProviderAnthropic, newAnthropicChatModel)
	r.Register(types.ProviderOpenAI, newOpenAIChatModel)
	r.Register(types.ProviderOpenAICompatible, newOpenAIChatModel)
	r.Register(types.ProviderArk, newArkChatModel)
	r.Register(types.ProviderGoogle, newGoogleChatModel)
	return r
}

// Register installs or replaces the factory for id.
func (r *Registry) Register(id types.ProviderID, f ChatModelFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[id] = f
}

// Get returns the factory for id.
func (r *Registry) Get(id types.ProviderID) (ChatModelFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[id]
	if !ok {
		return nil, fmt.Errorf("provider not found: %s", id)
	}
	return f, nil
}

// Options configures NewModel.
type Options struct {
	// Registry defaults to NewRegistry().
	Registry *Registry
	Logger   zerolog.Logger
}

// NewModel builds the runner model for sel.
func NewModel(ctx context.Context, cfg *config.Config, sel types.RuntimeSelection, opts Options) (*EinoModel, error) {
	settings, err := ResolveSettings(cfg, sel)
	if err != nil {
		return nil, err
	}

	registry := opts.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	factory, err := registry.Get(settings.Provider)
	if err != nil {
		return nil, err
	}

	chat, err := factory(ctx, settings)
	if err != nil {
		return nil, err
	}
	return NewEinoModel(chat, ModelOptions{
		Selection: sel,
		Logger:    opts.Logger.With().Str("provider", string(sel.Provider)).Str("model", sel.Model).Logger(),
	}), nil
}

// ResolveRuntime picks the provider and model for a turn. An override
// provider without a model uses the config model when the provider matches
// the config, and the provider's first configured model otherwise.
func ResolveRuntime(cfg *config.Config, override types.RuntimeSelection) (types.RuntimeSelection, error) {
	provider := override.Provider
	if provider == "" {
		provider = cfg.Provider
	}
	if !provider.Valid() {
		return types.RuntimeSelection{}, fmt.Errorf("unknown provider '%s'", provider)
	}

	modelID := strings.TrimSpace(override.Model)
	if modelID == "" {
		if provider == cfg.Provider {
			modelID = cfg.Model
		} else {
			models := cfg.ProviderModels[provider]
			if len(models) == 0 {
				return types.RuntimeSelection{}, fmt.Errorf("No models configured for provider '%s'", provider)
			}
			modelID = models[0]
		}
	}
	return types.RuntimeSelection{Provider: provider, Model: modelID}, nil
}

// Catalog lists every provider with its configured models, in catalog
// order, along with the default selection.
func Catalog(cfg *config.Config) types.RuntimeCatalog {
	catalog := types.RuntimeCatalog{
		Default: types.RuntimeSelection{Provider: cfg.Provider, Model: cfg.Model},
	}
	for _, id := range types.ProviderIDs() {
		catalog.Providers = append(catalog.Providers, types.CatalogProvider{
			ID:     id,
			Models: append([]string{}, cfg.ProviderModels[id]...),
		})
	}
	return catalog
}

// apiKeyEnv names the environment variables checked for each provider.
var apiKeyEnv = map[types.ProviderID]string{
	types.ProviderOpenAI:           "OPENAI_API_KEY",
	types.ProviderAnthropic:        "ANTHROPIC_API_KEY",
	types.ProviderGoogle:           "GOOGLE_API_KEY or GOOGLE_GENERATIVE_AI_API_KEY",
	types.ProviderOpenAICompatible: "OPENAI_COMPATIBLE_API_KEY",
	types.ProviderArk:              "ARK_API_KEY",
}

// ResolveSettings gathers credentials and endpoints for sel.
func ResolveSettings(cfg *config.Config, sel types.RuntimeSelection) (Settings, error) {
	settings := Settings{
		Provider:  sel.Provider,
		Model:     sel.Model,
		APIKey:    cfg.APIKeys[sel.Provider],
		MaxTokens: DefaultMaxTokens,
	}

	if sel.Provider == types.ProviderOpenAICompatible {
		settings.Name = cfg.OpenAICompatible.Name
		settings.BaseURL = strings.TrimSpace(cfg.OpenAICompatible.BaseURL)
		if settings.BaseURL == "" {
			return Settings{}, errors.New("Missing base URL for provider 'openai-compatible'. Set config.openaiCompatible.baseURL.")
		}
		if cfg.OpenAICompatible.APIKey != "" {
			settings.APIKey = cfg.OpenAICompatible.APIKey
		}
		if settings.APIKey == "" {
			return Settings{}, errors.New("Missing API key for provider 'openai-compatible'. Set config.apiKeys['openai-compatible'] or OPENAI_COMPATIBLE_API_KEY.")
		}
		return settings, nil
	}

	if settings.APIKey == "" {
		return Settings{}, fmt.Errorf("Missing API key for provider '%s'. Set config.apiKeys.%s or %s.", sel.Provider, sel.Provider, apiKeyEnv[sel.Provider])
	}
	return settings, nil
}
