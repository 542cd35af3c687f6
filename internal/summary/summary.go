// Package summary asks a language model for a short Japanese digest of an article.
package summary

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/deusflow/cbnews/internal/domain"
	"github.com/deusflow/cbnews/internal/ratelimit"
	"github.com/deusflow/cbnews/internal/retry"
)

const (
	DefaultMaxRetries = 2
	DefaultTimeout    = 12 * time.Second

	maxOutputTokens = 300
	temperature     = 0.2
)

// Backend sends one prompt to a provider and returns the raw completion text.
type Backend interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// StatusError reports a non-2xx answer from the provider.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("summary provider returned status %d", e.StatusCode)
}

type Options struct {
	MaxRetries int
	Timeout    time.Duration
	Limiter    *ratelimit.SummaryLimiter // nil = unpaced
	Logger     *slog.Logger
}

type Client struct {
	backend    Backend
	maxRetries int
	timeout    time.Duration
	limiter    *ratelimit.SummaryLimiter
	log        *slog.Logger
}

func NewClient(backend Backend, opts Options) *Client {
	c := &Client{
		backend:    backend,
		maxRetries: opts.MaxRetries,
		timeout:    opts.Timeout,
		limiter:    opts.Limiter,
		log:        opts.Logger,
	}
	if c.maxRetries < 0 {
		c.maxRetries = DefaultMaxRetries
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c
}

// GenerateSummary returns the sanitized summary and true, or "" and false once
// every attempt has failed. Failures are logged, never returned.
func (c *Client) GenerateSummary(ctx context.Context, in domain.SummaryInput) (string, bool) {
	prompt := BuildPrompt(in)

	attempt := 0
	for ; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			break
		}
		text, err := c.attempt(ctx, prompt)
		if err == nil {
			if text = SanitizeSummary(text); text != "" {
				return text, true
			}
			continue
		}

		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			c.log.Error("ingest.summary.http-error",
				"code", "SUMMARY_HTTP_ERROR",
				"status", statusErr.StatusCode,
				"attempt", attempt,
			)
			continue
		}
		c.log.Error("ingest.summary.error",
			"code", "SUMMARY_REQUEST_ERROR",
			"attempt", attempt,
			"error", err.Error(),
		)
	}

	c.log.Error("ingest.summary.max-retries",
		"code", "SUMMARY_MAX_RETRIES",
		"attempts", attempt,
		"url", in.URL,
	)
	return "", false
}

func (c *Client) attempt(ctx context.Context, prompt string) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	return retry.WithTimeout(ctx, c.timeout, func(ctx context.Context) (string, error) {
		return c.backend.Complete(ctx, prompt)
	})
}

// ResetBudget restores the per-run request budget.
func (c *Client) ResetBudget() {
	if c.limiter != nil {
		c.limiter.Reset()
	}
}

func (c *Client) Close() error {
	if closer, ok := c.backend.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// BuildPrompt renders the Japanese summarization instruction for in.
func BuildPrompt(in domain.SummaryInput) string {
	people := make([]string, 0, len(in.Persons))
	for _, p := range in.Persons {
		people = append(people, fmt.Sprintf("%s (%s, %s)", p.NameEN, p.NameJP, p.InstitutionCode))
	}

	return strings.Join([]string{
		"以下の金融ニュース記事を 3 文以内の日本語で要約してください。",
		"要点を中心に、市場への影響が明確になるように書いてください。",
		"人物名と機関名は正確に記載し、推測は避けてください。",
		"対象人物: " + strings.Join(people, ", "),
		"記事タイトル: " + in.Title,
		"記事URL: " + in.URL,
		"本文: ",
		in.Content,
	}, "\n")
}
