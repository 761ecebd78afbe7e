package summary

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"switchboard/internal/logging"
)

// Generator produces free text expected to contain one JSON object. The
// model behind it is a black box; parsing is this package's problem.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// =============================================================================
// GOOGLE GENAI GENERATOR
// =============================================================================

// GenAIGenerator asks a fast/cheap Gemini model for summaries.
type GenAIGenerator struct {
	client *genai.Client
	model  string
}

// NewGenAIGenerator creates a genai-backed generator.
func NewGenAIGenerator(ctx context.Context, apiKey, model string) (*GenAIGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("summary generator: API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIGenerator{client: client, model: model}, nil
}

// Generate sends the prompt and returns the raw model text.
func (g *GenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	timer := logging.StartTimer(logging.CategoryAPI, "summary.Generate")
	defer timer.Stop()

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("summary model call failed: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("summary model returned empty response")
	}
	logging.API("Summary model responded: model=%s chars=%d", g.model, len(text))
	return text, nil
}
