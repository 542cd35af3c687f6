package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ResponsesBackend talks to the OpenAI Responses endpoint.
type ResponsesBackend struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

func NewResponsesBackend(apiKey, model, baseURL string, client *http.Client) *ResponsesBackend {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if client == nil {
		client = &http.Client{}
	}
	return &ResponsesBackend{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

type responsesRequest struct {
	Model           string  `json:"model"`
	Input           string  `json:"input"`
	MaxOutputTokens int     `json:"max_output_tokens"`
	Temperature     float64 `json:"temperature"`
}

func (b *ResponsesBackend) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(responsesRequest{
		Model:           b.model,
		Input:           prompt,
		MaxOutputTokens: maxOutputTokens,
		Temperature:     temperature,
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", &StatusError{StatusCode: resp.StatusCode}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	return ExtractResponseText(raw)
}

// ExtractResponseText returns the first non-empty output[].content[].text,
// where text may be a string or an object with a value, then output_text.
func ExtractResponseText(raw []byte) (string, error) {
	var payload struct {
		Output []struct {
			Content []struct {
				Text json.RawMessage `json:"text"`
			} `json:"content"`
		} `json:"output"`
		OutputText *string `json:"output_text"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	for _, out := range payload.Output {
		for _, content := range out.Content {
			if text := textValue(content.Text); text != "" {
				return text, nil
			}
		}
	}
	if payload.OutputText != nil {
		return strings.TrimSpace(*payload.OutputText), nil
	}
	return "", nil
}

func textValue(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var nested struct {
		Value *string `json:"value"`
	}
	if err := json.Unmarshal(raw, &nested); err == nil && nested.Value != nil {
		return strings.TrimSpace(*nested.Value)
	}
	return ""
}
