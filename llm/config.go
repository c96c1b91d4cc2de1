package llm

import (
	"context"

	"github.com/justmike1/triagebot/config"
)

// NewFromConfig picks Gemini when a Gemini key is set, the OpenAI-compatible
// models endpoint otherwise. It returns nil when no backend has credentials.
func NewFromConfig(ctx context.Context, cfg *config.Config) (Completer, error) {
	switch {
	case cfg.UseGemini():
		g, err := NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		return g, nil
	case cfg.LLMConfigured():
		return NewModelsClient(cfg.LLMAPIURL, cfg.LLMAPIKey, cfg.LLMModel), nil
	}
	return nil, nil
}
