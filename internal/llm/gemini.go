package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
)

type gemini struct {
	model llms.Model
}

func newGemini(ctx context.Context, apiKey, model string) (*gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini backend requires llm.api_key")
	}
	m, err := googleai.New(ctx,
		googleai.WithAPIKey(apiKey),
		googleai.WithDefaultModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &gemini{model: m}, nil
}

func (g *gemini) Complete(ctx context.Context, prompt string) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, g.model, prompt)
}
