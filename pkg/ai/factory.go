package ai

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// ProviderConfig selects and configures a generator implementation.
type ProviderConfig struct {
	Provider        string
	Model           string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	Retry           RetryConfig
	Logger          zerolog.Logger
}

// NewGenerator builds the configured provider wrapped in retry logic.
// It returns a nil Generator when no credentials are configured for the provider.
func NewGenerator(cfg ProviderConfig) (Generator, error) {
	var (
		inner Generator
		err   error
	)

	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, nil
		}
		inner, err = NewOpenAIGenerator(OpenAIConfig{APIKey: cfg.OpenAIAPIKey, Model: cfg.Model, Logger: cfg.Logger})
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return nil, nil
		}
		inner, err = NewAnthropicGenerator(AnthropicConfig{APIKey: cfg.AnthropicAPIKey, Model: cfg.Model, Logger: cfg.Logger})
	case "none", "disabled":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown ai provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryConfig()
	}
	return WithRetry(inner, retry), nil
}
