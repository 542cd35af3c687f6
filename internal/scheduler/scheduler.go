// Package scheduler triggers ingestion runs on a cron schedule and never lets
// two runs overlap.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/deusflow/cbnews/internal/ingest"
)

// JobRunner is satisfied by *ingest.Runner.
type JobRunner interface {
	Run(ctx context.Context) (*ingest.Result, error)
}

type Options struct {
	Enabled  bool
	Schedule string // standard five-field cron expression
	Logger   *slog.Logger
}

type Scheduler struct {
	runner JobRunner
	opts   Options
	log    *slog.Logger

	// ctx is the parent of every run; Stop cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
	running bool
	stopped bool
	wg      sync.WaitGroup
}

func New(runner JobRunner, opts Options) *Scheduler {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{runner: runner, opts: opts, log: log, ctx: ctx, cancel: cancel}
}

// Start registers the cron entry. It reports false when scheduling is
// disabled. Calling Start again while started is a no-op.
func (s *Scheduler) Start() (bool, error) {
	if !s.opts.Enabled {
		s.log.Info("ingest.scheduler.disabled")
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false, fmt.Errorf("scheduler already stopped")
	}
	if s.cron != nil {
		return true, nil
	}

	c := cron.New()
	id, err := c.AddFunc(s.opts.Schedule, func() { s.trigger(s.ctx, "cron") })
	if err != nil {
		return false, fmt.Errorf("failed to add cron job %q: %w", s.opts.Schedule, err)
	}

	s.cron, s.entryID = c, id
	c.Start()
	s.log.Info("ingest.scheduler.started", "schedule", s.opts.Schedule, "next", c.Entry(id).Next)
	return true, nil
}

// Stop removes the cron entry, cancels any run in progress, cron or manual,
// and waits for it. No run starts after Stop.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	s.cancel()
	if c != nil {
		<-c.Stop().Done()
	}
	s.wg.Wait()
	s.log.Info("ingest.scheduler.stopped")
}

// RunOnce runs a job immediately. It returns false without running when
// another run is still in progress.
func (s *Scheduler) RunOnce(ctx context.Context) (*ingest.Result, bool, error) {
	if !s.acquire() {
		s.log.Info("ingest.run.skipped", "trigger", "manual", "reason", "run_in_progress")
		return nil, false, nil
	}
	defer s.release()

	res, err := s.execute(ctx, "manual")
	return res, true, err
}

// TryRun starts a job in the background on the scheduler's context, so Stop
// cancels it. It reports false when another run holds the slot.
func (s *Scheduler) TryRun() bool {
	if !s.acquire() {
		s.log.Info("ingest.run.skipped", "trigger", "api", "reason", "run_in_progress")
		return false
	}
	go func() {
		defer s.release()
		_, _ = s.execute(s.ctx, "api")
	}()
	return true
}

// Running reports whether a job is in progress.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) trigger(ctx context.Context, source string) {
	if !s.acquire() {
		s.log.Info("ingest.run.skipped", "trigger", source, "reason", "run_in_progress")
		return
	}
	defer s.release()
	_, _ = s.execute(ctx, source)
}

func (s *Scheduler) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.stopped {
		return false
	}
	s.running = true
	s.wg.Add(1)
	return true
}

func (s *Scheduler) release() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Scheduler) execute(ctx context.Context, source string) (*ingest.Result, error) {
	start := time.Now()
	res, err := s.runner.Run(ctx)
	if err != nil {
		s.log.Error("ingest.run.failed", "trigger", source, "error", err.Error(), "duration_ms", time.Since(start).Milliseconds())
		return res, err
	}
	s.log.Info("ingest.run.complete",
		"trigger", source,
		"job_id", res.JobID,
		"run_id", res.RunID,
		"stats", res.Stats,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}
