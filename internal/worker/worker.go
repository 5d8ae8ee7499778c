// Package worker implements the analysis pipeline execution loop.
package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/searchlens/searchlens/internal/analysis"
	"github.com/searchlens/searchlens/internal/metrics"
)

// Worker consumes queue items and executes the fetch/analyze pipeline.
type Worker struct {
	queue    analysis.Queue
	jobStore analysis.JobStore
	fetcher  analysis.Fetcher
	analyzer analysis.Analyzer
	clock    analysis.Clock
	logger   *zap.Logger
}

// New constructs a Worker.
func New(
	queue analysis.Queue,
	jobStore analysis.JobStore,
	fetcher analysis.Fetcher,
	analyzer analysis.Analyzer,
	clock analysis.Clock,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:    queue,
		jobStore: jobStore,
		fetcher:  fetcher,
		analyzer: analyzer,
		clock:    clock,
		logger:   logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID.String()))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item analysis.QueueItem) {
	jobID := item.JobID
	total := len(item.URLs)

	if err := w.jobStore.UpdateJobStatus(ctx, jobID, analysis.JobStatusRunning, ""); err != nil {
		w.logger.Error("update job status failed", zap.String("job_id", jobID.String()), zap.Error(err))
		return
	}

	failures := 0
	lastErr := ""
	for i, url := range item.URLs {
		progress := analysis.Progress{Completed: i, Total: total}
		if err := w.jobStore.UpdateJobProgress(ctx, jobID, progress, url); err != nil {
			w.logger.Error("update job progress failed", zap.String("job_id", jobID.String()), zap.Error(err))
		}

		if err := w.handleURL(ctx, jobID, url); err != nil {
			failures++
			lastErr = err.Error()
			metrics.ObserveURL("failed")
			w.logger.Error("url analysis failed",
				zap.String("job_id", jobID.String()),
				zap.String("url", url),
				zap.Error(err),
			)
		} else {
			metrics.ObserveURL("succeeded")
			w.logger.Debug("url analyzed", zap.String("job_id", jobID.String()), zap.String("url", url))
		}

		done := analysis.Progress{Completed: i + 1, Total: total}
		if err := w.jobStore.UpdateJobProgress(ctx, jobID, done, url); err != nil {
			w.logger.Error("update job progress failed", zap.String("job_id", jobID.String()), zap.Error(err))
		}
	}

	status := analysis.JobStatusCompleted
	errText := ""
	if failures == total && total > 0 {
		status = analysis.JobStatusFailed
		errText = lastErr
	} else if failures > 0 {
		// Partial failures still complete; callers see per-URL errors in reports.
		errText = fmt.Sprintf("%d of %d urls failed", failures, total)
	}

	metrics.ObserveJob(string(status))
	if err := w.jobStore.UpdateJobStatus(ctx, jobID, status, errText); err != nil {
		w.logger.Error("final job status update failed", zap.String("job_id", jobID.String()), zap.Error(err))
	}
}

func (w *Worker) handleURL(ctx context.Context, jobID analysis.JobID, url string) error {
	start := w.clock.Now()
	resp, err := w.fetcher.Fetch(ctx, analysis.FetchRequest{JobID: jobID.String(), URL: url})
	if err != nil {
		// Record an error report so the job result names every URL.
		report := analysis.Report{
			JobID:     jobID.String(),
			URL:       url,
			FetchedAt: start,
			ErrorText: err.Error(),
		}
		if recordErr := w.jobStore.RecordReport(ctx, report); recordErr != nil {
			w.logger.Error("record error report failed", zap.String("job_id", jobID.String()), zap.Error(recordErr))
		}
		return fmt.Errorf("fetch %s: %w", url, err)
	}

	report, err := w.analyzer.Analyze(ctx, jobID.String(), resp)
	if err != nil {
		return fmt.Errorf("analyze %s: %w", url, err)
	}
	report.JobID = jobID.String()
	report.FetchedAt = start
	if report.DurationMs == 0 {
		report.DurationMs = resp.Duration.Milliseconds()
	}

	if err := w.jobStore.RecordReport(ctx, report); err != nil {
		return fmt.Errorf("record report: %w", err)
	}
	return nil
}
