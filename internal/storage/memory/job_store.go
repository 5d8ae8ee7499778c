// Package memory provides an in-memory job store for development/testing.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/searchlens/searchlens/internal/analysis"
)

// JobStore implements analysis.JobStore with a mutex-guarded map.
type JobStore struct {
	mu      sync.RWMutex
	jobs    map[string]analysis.Job
	reports map[string][]analysis.Report
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:    make(map[string]analysis.Job),
		reports: make(map[string][]analysis.Report),
	}
}

// CreateJob stores a new job in pending status.
func (s *JobStore) CreateJob(_ context.Context, job analysis.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID.String()]; exists {
		return analysis.ErrJobExists
	}
	s.jobs[job.ID.String()] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, id analysis.JobID) (analysis.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id.String()]
	if !ok {
		return analysis.Job{}, analysis.ErrJobNotFound
	}
	return job, nil
}

// UpdateJobStatus moves a job through its lifecycle, stamping start and
// finish times on the corresponding transitions.
func (s *JobStore) UpdateJobStatus(
	_ context.Context,
	id analysis.JobID,
	status analysis.JobStatus,
	errText string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id.String()]
	if !ok {
		return analysis.ErrJobNotFound
	}
	job.Status = status
	job.ErrorText = errText
	now := time.Now().UTC()
	if status == analysis.JobStatusRunning && job.Started == nil {
		job.Started = pointerTime(now)
	}
	if status.IsTerminal() {
		job.Finished = pointerTime(now)
		job.CurrentURL = ""
	}
	s.jobs[id.String()] = job
	return nil
}

// UpdateJobProgress records how far the worker has gotten through the batch.
func (s *JobStore) UpdateJobProgress(
	_ context.Context,
	id analysis.JobID,
	progress analysis.Progress,
	currentURL string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id.String()]
	if !ok {
		return analysis.ErrJobNotFound
	}
	job.Progress = progress
	job.CurrentURL = currentURL
	s.jobs[id.String()] = job
	return nil
}

// RecordReport appends a per-URL report for a job.
func (s *JobStore) RecordReport(_ context.Context, report analysis.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[report.JobID] = append(s.reports[report.JobID], report)
	return nil
}

// ListReports returns all recorded reports for a job.
func (s *JobStore) ListReports(_ context.Context, id analysis.JobID) ([]analysis.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reports := s.reports[id.String()]
	out := make([]analysis.Report, len(reports))
	copy(out, reports)
	return out, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
