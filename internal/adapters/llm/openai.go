package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/PabloGalante/chatsum/internal/domain"
)

// OpenAIConfig holds configuration for the OpenAI client. BaseURL points it
// at compatible servers (Ollama, vLLM...).
type OpenAIConfig struct {
	APIKey          string
	BaseURL         string
	Model           string
	Temperature     float64
	MaxOutputTokens int
}

type OpenAIClient struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int
}

func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// RetryClient owns retries
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}

	return &OpenAIClient{
		client:      openai.NewClient(opts...),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxOutputTokens,
	}
}

func (c *OpenAIClient) Name() string { return "openai" }

func (c *OpenAIClient) GenerateReply(ctx context.Context, req domain.CompletionRequest) (string, error) {
	prompt := BuildPrompt(req)

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(prompt.Messages)+1)
	msgs = append(msgs, openai.SystemMessage(prompt.System))
	for _, m := range prompt.Messages {
		if m.Role == domain.RoleAssistant {
			msgs = append(msgs, openai.AssistantMessage(m.Text))
			continue
		}
		msgs = append(msgs, openai.UserMessage(m.Text))
	}

	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: msgs,
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.maxTokens))
	}
	if c.temperature > 0 {
		params.Temperature = openai.Float(c.temperature)
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classify(c.Name(), err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", classify(c.Name(), fmt.Errorf("empty response"))
	}
	return resp.Choices[0].Message.Content, nil
}
