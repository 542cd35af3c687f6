package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/deusflow/cbnews/internal/app"
	"github.com/deusflow/cbnews/internal/config"
	"github.com/deusflow/cbnews/internal/logger"
)

const defaultSeedFile = "configs/seed.yaml"

func main() {
	seed := flag.Bool("seed", false, "load the person dictionary seed file and exit")
	once := flag.Bool("once", false, "run a single ingestion job and exit")
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()
	logger.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	// The config file may turn on debug logging that DEBUG alone did not.
	logger.InitWriter(os.Stdout, os.Getenv("LOG_FORMAT"), cfg.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}

	code := run(ctx, a, cfg, *seed, *once)
	if err := a.Close(); err != nil {
		logger.Warn("app.close.failed", "error", err.Error())
	}
	os.Exit(code)
}

func run(ctx context.Context, a *app.App, cfg *config.Config, seed, once bool) int {
	// -seed seeds and exits; SEED_FILE alone seeds before the normal run.
	if seed || cfg.SeedFile != "" {
		path := cfg.SeedFile
		if path == "" {
			path = defaultSeedFile
		}
		if err := a.Seed(ctx, path); err != nil {
			logger.Error("seed.failed", "path", path, "error", err.Error())
			return 1
		}
		if seed {
			return 0
		}
	}

	if once || (!cfg.EnableInternalCron && !cfg.EnableHTTPMonitoring) {
		res, err := a.RunOnce(ctx)
		if err != nil {
			logger.Error("app.run.failed", "error", err.Error())
			return 1
		}
		logger.Info("ingest.run.finished", "job_id", res.JobID, "stats", res.Stats)
		return 0
	}

	if err := a.Serve(ctx); err != nil {
		logger.Error("app.serve.failed", "error", err.Error())
		return 1
	}
	logger.Info("app.shutdown")
	return 0
}
