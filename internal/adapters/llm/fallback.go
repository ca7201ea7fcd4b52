package llm

import (
	"context"
	"errors"

	"github.com/PabloGalante/chatsum/internal/domain"
	"github.com/PabloGalante/chatsum/internal/observability"
)

// FallbackClient tries clients in order, moving on after retryable errors.
type FallbackClient struct {
	clients []domain.LLMClient
}

// NewFallbackClient creates a client chain. The first client is primary.
func NewFallbackClient(clients ...domain.LLMClient) *FallbackClient {
	return &FallbackClient{clients: clients}
}

func (f *FallbackClient) Name() string {
	if len(f.clients) > 0 {
		return f.clients[0].Name() + "+fallback"
	}
	return "fallback"
}

func (f *FallbackClient) GenerateReply(ctx context.Context, req domain.CompletionRequest) (string, error) {
	if len(f.clients) == 0 {
		return "", errors.New("fallback: no llm clients configured")
	}

	var lastErr error
	for _, c := range f.clients {
		reply, err := c.GenerateReply(ctx, req)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		if !Retryable(err) || ctx.Err() != nil {
			return "", err
		}
		observability.LoggerFromContext(ctx).Warn("llm provider failed, trying next",
			"provider", c.Name(),
			"error", err.Error(),
		)
	}
	return "", lastErr
}
