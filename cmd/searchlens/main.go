// Package main wires together the searchlens analysis service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/searchlens/searchlens/internal/analysis"
	"github.com/searchlens/searchlens/internal/analyzer"
	"github.com/searchlens/searchlens/internal/api"
	"github.com/searchlens/searchlens/internal/clock/system"
	"github.com/searchlens/searchlens/internal/config"
	"github.com/searchlens/searchlens/internal/dispatcher"
	"github.com/searchlens/searchlens/internal/export"
	collyfetcher "github.com/searchlens/searchlens/internal/fetcher/colly"
	"github.com/searchlens/searchlens/internal/id/uuid"
	"github.com/searchlens/searchlens/internal/logging"
	"github.com/searchlens/searchlens/internal/metrics"
	queueMemory "github.com/searchlens/searchlens/internal/queue/memory"
	"github.com/searchlens/searchlens/internal/ratelimit"
	localStorage "github.com/searchlens/searchlens/internal/storage/local"
	memoryStorage "github.com/searchlens/searchlens/internal/storage/memory"
	postgresStorage "github.com/searchlens/searchlens/internal/storage/postgres"
	"github.com/searchlens/searchlens/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	jobStore, err := newJobStore(ctx, cfg)
	if err != nil {
		logger.Fatal("job store init failed", zap.Error(err))
	}
	blobStore, err := localStorage.New(localStorage.Config{BaseDir: cfg.Storage.ExportsDir})
	if err != nil {
		logger.Fatal("blob store init failed", zap.Error(err))
	}

	queue := queueMemory.NewQueue(cfg.Worker.QueueDepth)
	clock := system.New()
	idGen := uuid.New()
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Fetcher.UserAgent,
		Timeout:   cfg.FetchTimeout(),
	})
	pageAnalyzer := analyzer.New(logger.Named("analyzer"))

	var workers []*worker.Worker
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		workers = append(workers, worker.New(
			queue,
			jobStore,
			fetcher,
			pageAnalyzer,
			clock,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	dispatch := dispatcher.New(queue, workers)

	limiter := ratelimit.New(ratelimit.Config{
		Analysis:   ratelimit.ClassConfig{RPS: cfg.RateLimit.Analysis.RPS, Burst: cfg.RateLimit.Analysis.Burst},
		Validation: ratelimit.ClassConfig{RPS: cfg.RateLimit.Validation.RPS, Burst: cfg.RateLimit.Validation.Burst},
		Export:     ratelimit.ClassConfig{RPS: cfg.RateLimit.Export.RPS, Burst: cfg.RateLimit.Export.Burst},
	})
	exporter := export.New(jobStore, blobStore, clock)

	apiServer := api.NewServer(
		jobStore,
		dispatch,
		idGen,
		clock,
		limiter,
		exporter,
		blobStore,
		cfg,
		logger.Named("api"),
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dispatcher started", zap.Int("workers", len(workers)))
		dispatch.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()
	logger.Info("shutdown complete")
}

func newJobStore(ctx context.Context, cfg config.Config) (analysis.JobStore, error) {
	switch cfg.Storage.Jobs {
	case "postgres":
		return postgresStorage.NewJobStore(ctx, postgresStorage.JobStoreConfig{
			DSN:      cfg.Storage.Postgres.DSN,
			MaxConns: cfg.Storage.Postgres.MaxConns,
			MinConns: cfg.Storage.Postgres.MinConns,
		})
	default:
		return memoryStorage.NewJobStore(), nil
	}
}
