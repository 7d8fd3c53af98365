package model

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/harunnryd/wikichat/internal/config"
	chatErrors "github.com/harunnryd/wikichat/internal/errors"
	anthropicProvider "github.com/harunnryd/wikichat/internal/model/providers/anthropic"
	geminiProvider "github.com/harunnryd/wikichat/internal/model/providers/gemini"
	openaiProvider "github.com/harunnryd/wikichat/internal/model/providers/openai"
)

// New creates the provider named by the model configuration.
func New(cfg config.ModelConfig) (Provider, error) {
	switch cfg.Provider {
	case config.ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, chatErrors.InvalidInput("API key required for Anthropic provider")
		}
		slog.Debug("Provider initialized", "type", cfg.Provider, "model", cfg.Name)
		return anthropicProvider.New(cfg.APIKey, cfg.BaseURL), nil

	case config.ProviderOpenAI, config.ProviderOllama:
		if cfg.APIKey == "" {
			return nil, chatErrors.InvalidInput(fmt.Sprintf("API key required for %s provider", cfg.Provider))
		}
		slog.Debug("Provider initialized", "type", cfg.Provider, "model", cfg.Name, "base_url", cfg.BaseURL)
		return openaiProvider.New(cfg.Provider, cfg.APIKey, cfg.BaseURL), nil

	case config.ProviderGemini:
		if cfg.APIKey == "" {
			return nil, chatErrors.InvalidInput("API key required for Gemini provider")
		}
		p, err := geminiProvider.New(context.Background(), cfg.APIKey, cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		slog.Debug("Provider initialized", "type", cfg.Provider, "model", cfg.Name)
		return p, nil

	default:
		return nil, chatErrors.InvalidInput(fmt.Sprintf("unknown provider type: %s", cfg.Provider))
	}
}
