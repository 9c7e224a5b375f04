package ai

import "context"

// TextGenerator is the LLM surface recipe synthesis and translation run
// through. Any provider able to follow a system prompt and return plain
// text can back it; the application never sees provider detail.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// GeminiGenerator binds a GeminiClient to a fixed generation model.
type GeminiGenerator struct {
	client *GeminiClient
	model  string
}

// NewGeminiGenerator wraps client as a TextGenerator for model.
func NewGeminiGenerator(client *GeminiClient, model string) *GeminiGenerator {
	return &GeminiGenerator{client: client, model: model}
}

func (g *GeminiGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return g.client.GenerateText(ctx, g.model, systemPrompt, userPrompt)
}
