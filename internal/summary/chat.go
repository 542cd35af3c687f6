package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// ChatBackend uses the chat completions API through go-openai. It also works
// with any OpenAI-compatible server reachable at baseURL.
type ChatBackend struct {
	client *openai.Client
	model  string
}

func NewChatBackend(apiKey, model, baseURL string) *ChatBackend {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &ChatBackend{client: openai.NewClientWithConfig(cfg), model: model}
}

func (b *ChatBackend) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: b.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		MaxTokens:   maxOutputTokens,
		Temperature: temperature,
	})
	if err != nil {
		return "", chatError(err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in chat completion")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func chatError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &StatusError{StatusCode: apiErr.HTTPStatusCode}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &StatusError{StatusCode: reqErr.HTTPStatusCode}
	}
	return err
}
