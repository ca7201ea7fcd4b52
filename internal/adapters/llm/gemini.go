package llm

import (
	"context"
	"fmt"
	"math"

	"google.golang.org/genai"

	"github.com/PabloGalante/chatsum/internal/domain"
)

type GeminiConfig struct {
	// APIKey selects the Gemini API backend; without it Vertex AI is used.
	APIKey string

	Project  string
	Location string

	// BaseURL overrides the API endpoint.
	BaseURL string

	Model           string
	Temperature     float64
	MaxOutputTokens int
}

type GeminiClient struct {
	client      *genai.Client
	name        string
	modelName   string
	temperature float32
	maxTokens   int32
}

// NewGeminiClient creates an LLMClient backed by Gemini, either through the
// Gemini API (API key) or through Vertex AI (project + location).
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	cc := &genai.ClientConfig{}
	name := "gemini"
	if cfg.APIKey != "" {
		cc.APIKey = cfg.APIKey
		cc.Backend = genai.BackendGeminiAPI
	} else {
		if cfg.Project == "" || cfg.Location == "" {
			return nil, fmt.Errorf("project and location are required for Vertex AI")
		}
		cc.Project = cfg.Project
		cc.Location = cfg.Location
		cc.Backend = genai.BackendVertexAI
		name = "vertex"
	}

	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating %s client: %w", name, err)
	}

	modelName := cfg.Model
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}
	maxTokens := int32(8192)
	if cfg.MaxOutputTokens > 0 {
		maxTokens = int32(min(cfg.MaxOutputTokens, math.MaxInt32))
	}

	return &GeminiClient{
		client:      client,
		name:        name,
		modelName:   modelName,
		temperature: float32(cfg.Temperature),
		maxTokens:   maxTokens,
	}, nil
}

func (g *GeminiClient) Name() string { return g.name }

// GenerateReply implements domain.LLMClient.
func (g *GeminiClient) GenerateReply(ctx context.Context, req domain.CompletionRequest) (string, error) {
	prompt := BuildPrompt(req)

	contents := make([]*genai.Content, 0, len(prompt.Messages))
	for _, m := range prompt.Messages {
		role := genai.Role(genai.RoleUser)
		if m.Role == domain.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Text, role))
	}

	temp := g.temperature
	cfg := &genai.GenerateContentConfig{
		// system instructions are sent with the user role
		SystemInstruction: genai.NewContentFromText(prompt.System, genai.RoleUser),
		Temperature:       &temp,
		MaxOutputTokens:   g.maxTokens,
	}

	res, err := g.client.Models.GenerateContent(ctx, g.modelName, contents, cfg)
	if err != nil {
		return "", classify(g.name, err)
	}

	text := res.Text()
	if text == "" {
		return "", classify(g.name, fmt.Errorf("empty response"))
	}
	return text, nil
}
