package insights

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"fintrack/internal/core"
)

const DefaultModelName = "gemini-2.5-flash"

// Gemini asks a Gemini model for insights.
type Gemini struct {
	client *genai.Client
	model  string
}

func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("missing Gemini API key")
	}
	if model == "" {
		model = DefaultModelName
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

func (g *Gemini) Generate(ctx context.Context, report core.MonthlyReport) ([]string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0.7),
		MaxOutputTokens:  512,
		ResponseMIMEType: "application/json",
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(BuildPrompt(report)), cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: generate content: %w", core.ErrExternalService, err)
	}
	return ParseInsights(resp.Text())
}
