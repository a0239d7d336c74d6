package llm

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"agentline/internal/config"
)

// FromConfig builds the provider named in cfg, reading the API key from the
// configured environment variable.
func FromConfig(ctx context.Context, cfg config.LLM, log *zap.Logger) (Provider, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	switch cfg.Provider {
	case "anthropic":
		if key == "" {
			return nil, fmt.Errorf("%s is not set", cfg.APIKeyEnv)
		}
		return NewAnthropic(AnthropicConfig{APIKey: key, BaseURL: cfg.BaseURL, Model: cfg.Model}, log), nil
	case "gemini":
		return NewGemini(ctx, GeminiConfig{APIKey: key, BaseURL: cfg.BaseURL, Model: cfg.Model}, log)
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
}
