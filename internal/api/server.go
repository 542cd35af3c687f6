// Package api exposes health, metrics and operator endpoints over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/deusflow/cbnews/internal/domain"
	"github.com/deusflow/cbnews/internal/ingest"
	"github.com/deusflow/cbnews/internal/metrics"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 200
	pingTimeout      = 2 * time.Second
)

type RunLister interface {
	RecentJobRuns(ctx context.Context, limit int) ([]domain.JobRun, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Trigger starts ingestion runs on demand. TryRun reports whether the run
// took the slot.
type Trigger interface {
	TryRun() bool
	Running() bool
}

// StatsSource contributes extra fields to /metrics.
type StatsSource interface {
	GetStats() map[string]interface{}
}

type Deps struct {
	Metrics  *metrics.Metrics
	Runs     RunLister          // optional
	DB       Pinger             // optional
	Resolver ingest.URLResolver // optional
	Trigger  Trigger            // optional
	Limiter  StatsSource        // optional
	Logger   *slog.Logger
}

type Server struct {
	deps Deps
	log  *slog.Logger
}

func NewServer(deps Deps) *Server {
	if deps.Metrics == nil {
		deps.Metrics = metrics.Global
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{deps: deps, log: log}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", s.handleMetrics)

	r.GET("/runs", s.handleRuns)
	r.POST("/resolve", s.handleResolve)
	r.POST("/ingest/run", s.handleIngestRun)
	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	stats := s.deps.Metrics.GetStats()

	status := "ok"
	code := http.StatusOK
	if healthy, _ := stats["is_healthy"].(bool); !healthy {
		status = "error"
		code = http.StatusServiceUnavailable
	}

	resp := gin.H{
		"status":     status,
		"last_run":   stats["last_run_time"],
		"last_error": stats["last_error"],
	}
	if s.deps.DB != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), pingTimeout)
		defer cancel()
		if err := s.deps.DB.Ping(ctx); err != nil {
			resp["status"] = "error"
			resp["database"] = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			resp["database"] = "ok"
		}
	}
	if s.deps.Trigger != nil {
		resp["running"] = s.deps.Trigger.Running()
	}
	c.JSON(code, resp)
}

func (s *Server) handleMetrics(c *gin.Context) {
	stats := s.deps.Metrics.GetStats()
	if s.deps.Limiter != nil {
		for k, v := range s.deps.Limiter.GetStats() {
			stats[k] = v
		}
	}
	c.JSON(http.StatusOK, stats)
}

type runView struct {
	ID         int64           `json:"id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Stats      domain.JobStats `json:"stats"`
}

func (s *Server) handleRuns(c *gin.Context) {
	if s.deps.Runs == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "job history is not available"})
		return
	}

	limit := defaultRunsLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxRunsLimit)
	}

	runs, err := s.deps.Runs.RecentJobRuns(c.Request.Context(), limit)
	if err != nil {
		s.log.Error("api.runs.failed", "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load job runs"})
		return
	}
	out := make([]runView, 0, len(runs))
	for _, r := range runs {
		out = append(out, runView{ID: r.ID, StartedAt: r.StartedAt, FinishedAt: r.FinishedAt, Stats: r.Stats})
	}
	c.JSON(http.StatusOK, gin.H{"runs": out})
}

type resolveRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleResolve(c *gin.Context) {
	if s.deps.Resolver == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "resolver is not available"})
		return
	}
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.URL) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}

	res := s.deps.Resolver.Resolve(c.Request.Context(), strings.TrimSpace(req.URL))
	s.deps.Metrics.RecordResolution(string(res.Method))
	c.JSON(http.StatusOK, res)
}

// handleIngestRun starts a run in the background and returns 202 at once.
func (s *Server) handleIngestRun(c *gin.Context) {
	if s.deps.Trigger == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "ingestion is not available"})
		return
	}
	if !s.deps.Trigger.TryRun() {
		c.JSON(http.StatusConflict, gin.H{"status": "run already in progress"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "run started"})
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api.listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
