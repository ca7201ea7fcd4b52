package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"

	"github.com/PabloGalante/chatsum/internal/domain"
)

// LangChainClient adapts any langchaingo model to domain.LLMClient.
type LangChainClient struct {
	model       llms.Model
	temperature float64
	maxTokens   int
}

func NewLangChainClient(model llms.Model, temperature float64, maxTokens int) *LangChainClient {
	return &LangChainClient{model: model, temperature: temperature, maxTokens: maxTokens}
}

// NewGoogleAILangChainClient builds the client on langchaingo's Google AI backend.
func NewGoogleAILangChainClient(ctx context.Context, apiKey, model string, temperature float64, maxTokens int) (*LangChainClient, error) {
	m, err := googleai.New(ctx,
		googleai.WithAPIKey(apiKey),
		googleai.WithDefaultModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("creating langchain googleai model: %w", err)
	}
	return NewLangChainClient(m, temperature, maxTokens), nil
}

func (c *LangChainClient) Name() string { return "langchain" }

func (c *LangChainClient) GenerateReply(ctx context.Context, req domain.CompletionRequest) (string, error) {
	prompt := BuildPrompt(req)

	msgs := make([]llms.MessageContent, 0, len(prompt.Messages)+1)
	msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, prompt.System))
	for _, m := range prompt.Messages {
		role := llms.ChatMessageTypeHuman
		if m.Role == domain.RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		msgs = append(msgs, llms.TextParts(role, m.Text))
	}

	var opts []llms.CallOption
	if c.temperature > 0 {
		opts = append(opts, llms.WithTemperature(c.temperature))
	}
	if c.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(c.maxTokens))
	}

	resp, err := c.model.GenerateContent(ctx, msgs, opts...)
	if err != nil {
		return "", classify(c.Name(), err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Content == "" {
		return "", classify(c.Name(), fmt.Errorf("empty response"))
	}
	return resp.Choices[0].Content, nil
}
