package pipeline

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

type generateFunc func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)

// GeminiAnonymizer rewrites text with a Gemini model.
type GeminiAnonymizer struct {
	generate generateFunc
	model    string
}

func (g *GeminiAnonymizer) Anonymize(ctx context.Context, text string) (string, error) {
	result, err := g.generate(ctx, g.model,
		genai.Text(fmt.Sprintf(anonymizePrompt, text)),
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(AnonymizeInstruction, genai.RoleUser),
		},
	)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return result.Text(), nil
}
