// Package ingest runs one ingestion job: fetch feeds for every tracked person,
// score and summarize the articles that mention them, and persist the results.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/deusflow/cbnews/internal/domain"
	"github.com/deusflow/cbnews/internal/metrics"
	"github.com/deusflow/cbnews/internal/retry"
)

// ArticleWorkers bounds how many candidates of one person are processed at once.
const ArticleWorkers = 3

const completeTimeout = 10 * time.Second

type Store interface {
	LoadPersonDictionary(ctx context.Context) (*domain.PersonDictionary, error)
	RecordJobStart(ctx context.Context, startedAt time.Time) (int64, error)
	CompleteJobRun(ctx context.Context, id int64, stats domain.JobStats) error
	IsDuplicateArticle(ctx context.Context, rawURL, contentHash string) (*domain.Duplicate, error)
	SaveArticleResult(ctx context.Context, in domain.SaveArticleInput) (domain.SaveOutcome, error)
}

type FeedFetcher interface {
	Fetch(ctx context.Context, entry domain.PersonDictionaryEntry) ([]domain.Candidate, error)
}

type ArticleProcessor interface {
	Process(ctx context.Context, c domain.Candidate, entry domain.PersonDictionaryEntry) (*domain.ProcessedArticle, error)
}

type Summarizer interface {
	GenerateSummary(ctx context.Context, in domain.SummaryInput) (string, bool)
}

// Publisher receives every inserted article. Publishing failures are logged only.
type Publisher interface {
	PublishArticle(ctx context.Context, event domain.ArticleEvent) error
}

type Options struct {
	Concurrency          int
	RetryLimit           int
	RetryDelay           time.Duration
	FetchTimeout         time.Duration
	JobTimeout           time.Duration // 0 = wait for every person
	MaxArticlesPerPerson int

	Publisher Publisher        // optional
	Metrics   *metrics.Metrics // optional
	Logger    *slog.Logger
}

type Runner struct {
	store      Store
	fetcher    FeedFetcher
	processor  ArticleProcessor
	summarizer Summarizer
	opts       Options
	log        *slog.Logger
	now        func() time.Time
}

type Result struct {
	JobID    int64
	RunID    string
	Stats    domain.JobStats
	Duration time.Duration
}

func NewRunner(store Store, fetcher FeedFetcher, processor ArticleProcessor, summarizer Summarizer, opts Options) *Runner {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.RetryLimit < 0 {
		opts.RetryLimit = 0
	}
	if opts.MaxArticlesPerPerson < 1 {
		opts.MaxArticlesPerPerson = 10
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		store:      store,
		fetcher:    fetcher,
		processor:  processor,
		summarizer: summarizer,
		opts:       opts,
		log:        log,
		now:        time.Now,
	}
}

type counters struct {
	fetched, inserted, deduped, skipped, errors atomic.Int64
}

func (c *counters) snapshot() domain.JobStats {
	return domain.JobStats{
		Fetched:  int(c.fetched.Load()),
		Inserted: int(c.inserted.Load()),
		Deduped:  int(c.deduped.Load()),
		Skipped:  int(c.skipped.Load()),
		Errors:   int(c.errors.Load()),
	}
}

// run carries the per-invocation state shared by every worker.
type run struct {
	*Runner
	id    string
	log   *slog.Logger
	stats *counters
	// gate stops workers from starting new work once the job deadline passes.
	gate context.Context
}

// Run executes one job. The job run row is always completed exactly once,
// even when the dictionary cannot be loaded or the job deadline passes.
func (r *Runner) Run(ctx context.Context) (res *Result, err error) {
	runID := uuid.NewString()
	log := r.log.With("run_id", runID)
	started := r.now()

	jobID, err := r.store.RecordJobStart(ctx, started)
	if err != nil {
		log.Error("ingest.job.failed", "code", domain.CodeIngestJobFailed, "error", err.Error())
		return nil, domain.NewError(domain.CodeIngestJobFailed, "record job start", nil, err)
	}
	log = log.With("job_id", jobID)

	if resetter, ok := r.summarizer.(interface{ ResetBudget() }); ok {
		resetter.ResetBudget()
	}

	stats := &counters{}
	defer func() {
		final := stats.snapshot()
		completeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), completeTimeout)
		defer cancel()
		if cerr := r.store.CompleteJobRun(completeCtx, jobID, final); cerr != nil {
			log.Error("ingest.job.complete-failed", "code", domain.CodeIngestJobFailed, "error", cerr.Error())
			if err == nil {
				err = fmt.Errorf("complete job run %d: %w", jobID, cerr)
			}
		}

		duration := r.now().Sub(started)
		if r.opts.Metrics != nil {
			r.opts.Metrics.RecordRun(final, duration, err)
		}
		log.Info("ingest.job.complete",
			"fetched", final.Fetched,
			"inserted", final.Inserted,
			"deduped", final.Deduped,
			"skipped", final.Skipped,
			"errors", final.Errors,
			"duration_ms", duration.Milliseconds(),
		)
		res = &Result{JobID: jobID, RunID: runID, Stats: final, Duration: duration}
	}()

	gate := ctx
	if r.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		gate, cancel = context.WithTimeout(ctx, r.opts.JobTimeout)
		defer cancel()
	}

	jr := &run{Runner: r, id: runID, log: log, stats: stats, gate: gate}
	if perr := jr.processAllPersons(ctx); perr != nil {
		stats.errors.Add(1)
		log.Error("ingest.job.failed",
			"code", domain.CodeOf(perr, domain.CodeIngestJobFailed),
			"error", perr.Error(),
		)
		return nil, perr
	}
	return nil, nil
}

// processAllPersons returns once every person is done or the gate closes.
// Work in flight when the gate closes keeps running on ctx.
func (jr *run) processAllPersons(ctx context.Context) error {
	dict, err := jr.store.LoadPersonDictionary(ctx)
	if err != nil {
		return domain.NewError(domain.CodeIngestJobFailed, "load person dictionary", nil, err)
	}
	entries := dict.Entries()
	if len(entries) == 0 {
		jr.log.Info("ingest.dictionary.empty")
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		RunPool(jr.gate, entries, jr.opts.Concurrency, func(entry domain.PersonDictionaryEntry) {
			jr.processPerson(ctx, entry)
		})
	}()

	select {
	case <-done:
		return nil
	case <-jr.gate.Done():
		if errors.Is(jr.gate.Err(), context.DeadlineExceeded) {
			return domain.NewError(domain.CodeIngestJobFailed,
				fmt.Sprintf("job exceeded timeout %s", jr.opts.JobTimeout), nil, jr.gate.Err())
		}
		return domain.NewError(domain.CodeIngestJobFailed, "job cancelled", nil, jr.gate.Err())
	}
}

func (jr *run) processPerson(ctx context.Context, entry domain.PersonDictionaryEntry) {
	slug := entry.Person.Slug
	log := jr.log.With("slug", slug)

	defer func() {
		if p := recover(); p != nil {
			jr.stats.errors.Add(1)
			log.Error("ingest.person.failed",
				"code", domain.CodePersonFetchFailed,
				"error", fmt.Sprint(p),
				"stack", string(debug.Stack()),
			)
		}
	}()

	candidates, err := retry.Do(ctx, retry.RetryConfig{
		MaxAttempts:    jr.opts.RetryLimit + 1,
		Delay:          jr.opts.RetryDelay,
		Backoff:        true,
		AttemptTimeout: jr.opts.FetchTimeout,
		OnRetry: func(attempt int, err error) {
			log.Warn("ingest.retry",
				"code", domain.CodeIngestRetry,
				"attempt", attempt,
				"retryLimit", jr.opts.RetryLimit,
				"error", err.Error(),
			)
		},
	}, func(ctx context.Context) ([]domain.Candidate, error) {
		return jr.fetcher.Fetch(ctx, entry)
	})
	if err != nil {
		jr.stats.errors.Add(1)
		log.Error("ingest.person.failed",
			"code", domain.CodePersonFetchFailed,
			"error", err.Error(),
			"details", domain.DetailsOf(err),
		)
		return
	}

	if len(candidates) > jr.opts.MaxArticlesPerPerson {
		candidates = candidates[:jr.opts.MaxArticlesPerPerson]
	}
	jr.stats.fetched.Add(int64(len(candidates)))

	RunPool(jr.gate, candidates, ArticleWorkers, func(c domain.Candidate) {
		jr.processCandidate(ctx, entry, c)
	})
}

func (jr *run) processCandidate(ctx context.Context, entry domain.PersonDictionaryEntry, c domain.Candidate) {
	defer func() {
		if p := recover(); p != nil {
			jr.articleFailed(entry, c, fmt.Errorf("panic: %v", p), string(debug.Stack()))
		}
	}()

	if err := jr.handleCandidate(ctx, entry, c); err != nil {
		jr.articleFailed(entry, c, err, "")
	}
}

func (jr *run) handleCandidate(ctx context.Context, entry domain.PersonDictionaryEntry, c domain.Candidate) error {
	processed, err := jr.processor.Process(ctx, c, entry)
	if err != nil {
		return err
	}
	if processed == nil {
		jr.stats.skipped.Add(1)
		return nil
	}
	draft := processed.Draft

	dup, err := jr.store.IsDuplicateArticle(ctx, draft.URL, draft.ContentHash)
	if err != nil {
		return err
	}
	if dup != nil {
		jr.stats.deduped.Add(1)
		return nil
	}

	summary, ok := jr.summarizer.GenerateSummary(ctx, processed.SummaryInput)
	if !ok || summary == "" {
		if jr.opts.Metrics != nil {
			jr.opts.Metrics.IncrementSummariesFailed()
		}
		return domain.NewError(domain.CodeSummaryGenerationFailed, "summary generation failed",
			map[string]any{"url": draft.URL}, nil)
	}

	outcome, err := jr.store.SaveArticleResult(ctx, domain.SaveArticleInput{Draft: draft, SummaryText: summary})
	if err != nil {
		return err
	}
	if outcome.Status == domain.StatusDuplicate {
		jr.stats.deduped.Add(1)
		return nil
	}
	jr.stats.inserted.Add(1)
	jr.publish(ctx, outcome.ArticleID, draft, summary)
	return nil
}

func (jr *run) articleFailed(entry domain.PersonDictionaryEntry, c domain.Candidate, err error, stack string) {
	jr.stats.errors.Add(1)
	jr.stats.skipped.Add(1)

	// Panics carry a goroutine stack; plain errors log their verbose form.
	if stack == "" {
		stack = fmt.Sprintf("%+v", err)
	}
	jr.log.Error("ingest.article.failed",
		"code", domain.CodeOf(err, domain.CodeArticleProcessFailed),
		"error", err.Error(),
		"stack", stack,
		"details", domain.DetailsOf(err),
		"slug", entry.Person.Slug,
		"url", c.URL,
	)
}

func (jr *run) publish(ctx context.Context, articleID int64, draft domain.ArticleDraft, summary string) {
	if jr.opts.Publisher == nil {
		return
	}
	persons := make([]string, 0, len(draft.Persons))
	for _, p := range draft.Persons {
		persons = append(persons, p.Slug)
	}
	event := domain.ArticleEvent{
		ArticleID:    articleID,
		RunID:        jr.id,
		URL:          draft.URL,
		SourceDomain: draft.SourceDomain,
		Title:        draft.Title,
		Summary:      summary,
		ImageURL:     draft.ImageURL,
		PublishedAt:  draft.PublishedAt,
		Persons:      persons,
	}
	if err := jr.opts.Publisher.PublishArticle(ctx, event); err != nil {
		jr.log.Warn("ingest.publish.failed", "article_id", articleID, "error", err.Error())
		return
	}
	if jr.opts.Metrics != nil {
		jr.opts.Metrics.IncrementPublished()
	}
}
