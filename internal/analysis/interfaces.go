package analysis

import (
	"context"
	"errors"
	"time"
)

// Store-level sentinel errors surfaced through the JobStore interface.
var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobExists   = errors.New("job already exists")
)

// JobStore persists job and report metadata.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, id JobID) (Job, error)
	UpdateJobStatus(ctx context.Context, id JobID, status JobStatus, errText string) error
	UpdateJobProgress(ctx context.Context, id JobID, progress Progress, currentURL string) error
	RecordReport(ctx context.Context, report Report) error
	ListReports(ctx context.Context, id JobID) ([]Report, error)
}

// Queue provides enqueue/dequeue semantics for analysis jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Analyzer scores a fetched page.
type Analyzer interface {
	Analyze(ctx context.Context, jobID string, resp FetchResponse) (Report, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
