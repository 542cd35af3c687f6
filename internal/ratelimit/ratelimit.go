package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// ErrBudgetExhausted is returned once the per-run request budget is spent.
var ErrBudgetExhausted = errors.New("summary request budget exhausted")

// SummaryLimiter paces requests to the summary provider and caps how many a
// single ingest run may issue.
type SummaryLimiter struct {
	limiter *rate.Limiter

	mu          sync.Mutex
	used        int
	maxRequests int // 0 = unlimited
	denied      int
}

// NewSummaryLimiter allows rps requests per second with a burst of one.
// A non-positive rps disables pacing.
func NewSummaryLimiter(rps float64, maxRequests int) *SummaryLimiter {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &SummaryLimiter{
		limiter:     rate.NewLimiter(limit, 1),
		maxRequests: maxRequests,
	}
}

// Wait blocks until a request may be sent and reserves it against the budget.
func (l *SummaryLimiter) Wait(ctx context.Context) error {
	if err := l.reserve(); err != nil {
		return err
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

func (l *SummaryLimiter) reserve() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.maxRequests > 0 && l.used >= l.maxRequests {
		l.denied++
		return fmt.Errorf("%w (%d/%d)", ErrBudgetExhausted, l.used, l.maxRequests)
	}
	l.used++
	return nil
}

// Reset restores the full budget. Called at the start of every run.
func (l *SummaryLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.used = 0
	l.denied = 0
}

func (l *SummaryLimiter) GetStats() map[string]interface{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	return map[string]interface{}{
		"summary_requests_used":   l.used,
		"summary_requests_limit":  l.maxRequests,
		"summary_requests_denied": l.denied,
		"summary_rps":             float64(l.limiter.Limit()),
	}
}
