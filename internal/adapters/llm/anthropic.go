package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/PabloGalante/chatsum/internal/domain"
)

type AnthropicConfig struct {
	APIKey          string
	BaseURL         string
	Model           string
	Temperature     float64
	MaxOutputTokens int
}

type AnthropicClient struct {
	client      anthropic.Client
	model       string
	temperature float64
	maxTokens   int64
}

func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-5"
	}
	maxTokens := int64(cfg.MaxOutputTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	return &AnthropicClient{
		client:      anthropic.NewClient(opts...),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
	}
}

func (c *AnthropicClient) Name() string { return "anthropic" }

func (c *AnthropicClient) GenerateReply(ctx context.Context, req domain.CompletionRequest) (string, error) {
	prompt := BuildPrompt(req)

	msgs := make([]anthropic.MessageParam, 0, len(prompt.Messages))
	for _, m := range prompt.Messages {
		if m.Role == domain.RoleAssistant {
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Text)))
			continue
		}
		msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Text)))
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: prompt.System}},
		Messages:  msgs,
	}
	if c.temperature > 0 {
		params.Temperature = anthropic.Float(c.temperature)
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", classify(c.Name(), err)
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			out.WriteString(b.Text)
		}
	}
	if out.Len() == 0 {
		return "", classify(c.Name(), fmt.Errorf("empty response"))
	}
	return out.String(), nil
}
