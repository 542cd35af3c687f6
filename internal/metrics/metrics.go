package metrics

import (
	"sync"
	"time"

	"github.com/deusflow/cbnews/internal/domain"
)

type Metrics struct {
	mu sync.RWMutex

	// Counters, summed over every run since start
	RunsCompleted     int64
	RunsFailed        int64
	ArticlesFetched   int64
	ArticlesInserted  int64
	ArticlesDeduped   int64
	ArticlesSkipped   int64
	ArticleErrors     int64
	SummariesFailed   int64
	ArticlesPublished int64
	ResolvedBy        map[string]int64

	// Timings
	LastRunDuration    time.Duration
	AverageRunDuration time.Duration
	TotalRunDuration   time.Duration

	// Status
	LastRunTime   time.Time
	LastRunStats  domain.JobStats
	LastErrorTime time.Time
	LastError     string
	IsHealthy     bool
}

var Global = New()

func New() *Metrics {
	return &Metrics{IsHealthy: true, ResolvedBy: make(map[string]int64)}
}

// RecordRun folds one finished run into the totals. A non-nil err marks the
// process unhealthy until the next clean run.
func (m *Metrics) RecordRun(stats domain.JobStats, duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ArticlesFetched += int64(stats.Fetched)
	m.ArticlesInserted += int64(stats.Inserted)
	m.ArticlesDeduped += int64(stats.Deduped)
	m.ArticlesSkipped += int64(stats.Skipped)
	m.ArticleErrors += int64(stats.Errors)

	m.LastRunDuration = duration
	m.TotalRunDuration += duration
	m.LastRunTime = time.Now()
	m.LastRunStats = stats

	if err != nil {
		m.RunsFailed++
		m.LastError = err.Error()
		m.LastErrorTime = time.Now()
		m.IsHealthy = false
	} else {
		m.RunsCompleted++
		m.IsHealthy = true
	}

	if runs := m.RunsCompleted + m.RunsFailed; runs > 0 {
		m.AverageRunDuration = m.TotalRunDuration / time.Duration(runs)
	}
}

func (m *Metrics) IncrementSummariesFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SummariesFailed++
}

func (m *Metrics) IncrementPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ArticlesPublished++
}

// RecordResolution counts which resolver stage produced a URL.
func (m *Metrics) RecordResolution(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ResolvedBy[method]++
}

func (m *Metrics) SetError(err string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastError = err
	m.LastErrorTime = time.Now()
	m.IsHealthy = false
}

func (m *Metrics) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.IsHealthy
}

func (m *Metrics) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	resolved := make(map[string]int64, len(m.ResolvedBy))
	for k, v := range m.ResolvedBy {
		resolved[k] = v
	}

	stats := map[string]interface{}{
		"runs_completed":       m.RunsCompleted,
		"runs_failed":          m.RunsFailed,
		"articles_fetched":     m.ArticlesFetched,
		"articles_inserted":    m.ArticlesInserted,
		"articles_deduped":     m.ArticlesDeduped,
		"articles_skipped":     m.ArticlesSkipped,
		"article_errors":       m.ArticleErrors,
		"summaries_failed":     m.SummariesFailed,
		"articles_published":   m.ArticlesPublished,
		"resolved_by":          resolved,
		"last_run_stats":       m.LastRunStats,
		"last_run_duration_ms": m.LastRunDuration.Milliseconds(),
		"average_run_time_ms":  m.AverageRunDuration.Milliseconds(),
		"last_run_time":        "",
		"last_error_time":      "",
		"last_error":           m.LastError,
		"is_healthy":           m.IsHealthy,
	}
	if !m.LastRunTime.IsZero() {
		stats["last_run_time"] = m.LastRunTime.Format(time.RFC3339)
	}
	if !m.LastErrorTime.IsZero() {
		stats["last_error_time"] = m.LastErrorTime.Format(time.RFC3339)
	}
	return stats
}
