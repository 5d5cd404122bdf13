package providers

import (
	"fmt"

	"github.com/shannonlabs/shannon/internal/config"
)

// New builds the configured provider.
func New(cfg config.LLMConfig) (Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic provider requires llm.api_key")
		}
		return NewAnthropicProvider(cfg.APIKey, cfg.Model,
			WithAnthropicMaxTokens(cfg.MaxTokens),
			WithAnthropicTemperature(cfg.Temperature),
			WithAnthropicContextWindow(cfg.ContextWindow),
		), nil
	case "local":
		return NewLocalProvider(cfg.LocalEndpoint, cfg.Model,
			WithLocalMaxTokens(cfg.MaxTokens),
			WithLocalTemperature(cfg.Temperature),
			WithLocalContextWindow(cfg.ContextWindow),
		), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
