package summary

import (
	"context"
	"fmt"
	"net/http"

	"github.com/deusflow/cbnews/internal/config"
)

// NewBackend builds the backend selected by cfg.SummaryProvider.
func NewBackend(ctx context.Context, cfg *config.Config) (Backend, error) {
	switch cfg.SummaryProvider {
	case config.ProviderOpenAI, "":
		return NewResponsesBackend(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL, &http.Client{}), nil
	case config.ProviderOpenAIChat:
		return NewChatBackend(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL), nil
	case config.ProviderGemini:
		return NewGeminiBackend(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	default:
		return nil, fmt.Errorf("unknown summary provider %q", cfg.SummaryProvider)
	}
}
