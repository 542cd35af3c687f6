// Package app wires configuration into the ingestion components.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/deusflow/cbnews/internal/api"
	"github.com/deusflow/cbnews/internal/config"
	"github.com/deusflow/cbnews/internal/ingest"
	"github.com/deusflow/cbnews/internal/logger"
	"github.com/deusflow/cbnews/internal/metrics"
	"github.com/deusflow/cbnews/internal/publish"
	"github.com/deusflow/cbnews/internal/ratelimit"
	"github.com/deusflow/cbnews/internal/resolver"
	"github.com/deusflow/cbnews/internal/rss"
	"github.com/deusflow/cbnews/internal/scheduler"
	"github.com/deusflow/cbnews/internal/scraper"
	"github.com/deusflow/cbnews/internal/storage"
	"github.com/deusflow/cbnews/internal/summary"
)

const retryDelay = 500 * time.Millisecond

type App struct {
	cfg *config.Config
	log *slog.Logger

	Store     *storage.Postgres
	Runner    *ingest.Runner
	Scheduler *scheduler.Scheduler
	API       *api.Server

	closers []io.Closer
}

// New connects to Postgres and builds every component. The caller must Close
// the returned App.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg, log: logger.Component("app")}

	store, err := storage.NewPostgres(ctx, cfg.DatabaseURL, logger.Component("storage"))
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.closers = append(a.closers, store)

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	resolverCache := newResolverCache(ctx, cfg.RedisURL, logger.Component("cache"))
	a.closers = append(a.closers, resolverCache)

	resolverOpts := resolver.Options{
		HTTPClient: httpClient,
		Cache:      resolverCache,
		CacheTTL:   cfg.ResolverCacheTTL(),
		Logger:     logger.Component("resolver"),
	}
	if cfg.ResolverBrowserEnabled {
		resolverOpts.Navigator = resolver.NewChromeNavigator()
	}
	res := resolver.New(resolverOpts)

	processor := ingest.NewProcessor(
		res,
		scraper.NewExtractor(cfg.IngestTimeout(), httpClient, logger.Component("scraper")),
		ingest.ScoringPolicy{
			PrimaryWeight: cfg.MentionPrimaryWeight,
			AliasWeight:   cfg.MentionAliasWeight,
			Threshold:     cfg.MentionThreshold,
		},
		logger.Component("processor"),
	)
	processor.OnResolve(metrics.Global.RecordResolution)

	backend, err := summary.NewBackend(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	limiter := ratelimit.NewSummaryLimiter(cfg.SummaryRPS, cfg.SummaryMaxRequests)
	summarizer := summary.NewClient(backend, summary.Options{
		MaxRetries: cfg.SummaryMaxRetries,
		Limiter:    limiter,
		Logger:     logger.Component("summary"),
	})
	a.closers = append(a.closers, summarizer)

	runnerOpts := ingest.Options{
		Concurrency:          cfg.IngestConcurrency,
		RetryLimit:           cfg.IngestRetryLimit,
		RetryDelay:           retryDelay,
		FetchTimeout:         cfg.IngestTimeout(),
		JobTimeout:           cfg.IngestJobTimeout(),
		MaxArticlesPerPerson: cfg.IngestMaxArticlesPerPerson,
		Metrics:              metrics.Global,
		Logger:               logger.Component("ingest"),
	}
	if len(cfg.KafkaBrokers) > 0 {
		pub := publish.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger.Component("publish"))
		runnerOpts.Publisher = pub
		a.closers = append(a.closers, pub)
	}

	fetcher := rss.NewFetcher(rss.Options{
		HTTPClient: httpClient,
		Timeout:    cfg.IngestTimeout(),
		Logger:     logger.Component("rss"),
	})
	a.Runner = ingest.NewRunner(store, fetcher, processor, summarizer, runnerOpts)

	a.Scheduler = scheduler.New(a.Runner, scheduler.Options{
		Enabled:  cfg.EnableInternalCron,
		Schedule: cfg.IngestCron,
		Logger:   logger.Component("scheduler"),
	})

	a.API = api.NewServer(api.Deps{
		Metrics:  metrics.Global,
		Runs:     store,
		DB:       store,
		Resolver: res,
		Trigger:  a.Scheduler,
		Limiter:  limiter,
		Logger:   logger.Component("api"),
	})

	return a, nil
}

// Seed loads the seed file and upserts institutions, persons and aliases.
func (a *App) Seed(ctx context.Context, path string) error {
	data, err := storage.LoadSeedFile(path)
	if err != nil {
		return err
	}
	if err := a.Store.Seed(ctx, data); err != nil {
		return err
	}
	a.log.Info("seed.complete", "path", path, "institutions", len(data.Institutions), "persons", len(data.Persons))
	return nil
}

// RunOnce runs a single ingestion job through the scheduler's overlap guard.
func (a *App) RunOnce(ctx context.Context) (*ingest.Result, error) {
	res, ran, err := a.Scheduler.RunOnce(ctx)
	if err != nil {
		return res, err
	}
	if !ran {
		return nil, errors.New("another ingestion run is in progress")
	}
	return res, nil
}

// Serve starts the cron scheduler and the monitoring API as configured and
// blocks until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	started, err := a.Scheduler.Start()
	if err != nil {
		return err
	}
	defer a.Scheduler.Stop()

	if !started && !a.cfg.EnableHTTPMonitoring {
		return fmt.Errorf("nothing to serve: enable ENABLE_INTERNAL_CRON or ENABLE_HTTP_MONITORING")
	}

	if a.cfg.EnableHTTPMonitoring {
		return a.API.ListenAndServe(ctx, ":"+a.cfg.MonitoringPort)
	}
	<-ctx.Done()
	return nil
}

// Close releases every component in reverse creation order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
