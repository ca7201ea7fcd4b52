package llm

import (
	"context"
	"fmt"

	"github.com/PabloGalante/chatsum/internal/config"
	"github.com/PabloGalante/chatsum/internal/domain"
)

// NewClient builds the configured provider chain: every provider gets one
// retry, and fallbacks follow the primary in the configured order.
func NewClient(ctx context.Context, cfg config.LLMConfig) (domain.LLMClient, error) {
	names := append([]string{cfg.Provider}, cfg.Fallback...)

	clients := make([]domain.LLMClient, 0, len(names))
	for _, name := range names {
		c, err := newProvider(ctx, name, cfg)
		if err != nil {
			return nil, err
		}
		if name != "mock" {
			c = NewRetryClient(c, cfg.RetryBackoff)
		}
		clients = append(clients, c)
	}

	if len(clients) == 1 {
		return clients[0], nil
	}
	return NewFallbackClient(clients...), nil
}

func newProvider(ctx context.Context, name string, cfg config.LLMConfig) (domain.LLMClient, error) {
	switch name {
	case "mock":
		return NewMockLLM(), nil
	case "gemini", "vertex":
		gc := GeminiConfig{
			Model:           cfg.Model,
			Temperature:     cfg.Temperature,
			MaxOutputTokens: cfg.MaxOutputTokens,
		}
		if name == "gemini" {
			gc.APIKey = cfg.GoogleAPIKey
		} else {
			gc.Project = cfg.GCPProjectID
			gc.Location = cfg.GCPLocation
		}
		return NewGeminiClient(ctx, gc)
	case "openai":
		return NewOpenAIClient(OpenAIConfig{
			APIKey:          cfg.OpenAIAPIKey,
			BaseURL:         cfg.OpenAIBaseURL,
			Model:           cfg.OpenAIModel,
			Temperature:     cfg.Temperature,
			MaxOutputTokens: cfg.MaxOutputTokens,
		}), nil
	case "anthropic":
		return NewAnthropicClient(AnthropicConfig{
			APIKey:          cfg.AnthropicAPIKey,
			Model:           cfg.AnthropicModel,
			Temperature:     cfg.Temperature,
			MaxOutputTokens: cfg.MaxOutputTokens,
		}), nil
	case "langchain":
		return NewGoogleAILangChainClient(ctx, cfg.GoogleAPIKey, cfg.Model, cfg.Temperature, cfg.MaxOutputTokens)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", name)
	}
}
