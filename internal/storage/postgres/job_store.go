// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/searchlens/searchlens/internal/analysis"
)

const uniqueViolation = "23505"

// JobStoreConfig controls the Postgres connection pool used for job rows.
type JobStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// JobStore implements analysis.JobStore on top of Postgres.
//
// Expected schema:
//
//	CREATE TABLE jobs (
//		id UUID PRIMARY KEY,
//		status TEXT NOT NULL,
//		urls TEXT[] NOT NULL,
//		created_at TIMESTAMPTZ NOT NULL,
//		started_at TIMESTAMPTZ,
//		finished_at TIMESTAMPTZ,
//		error_text TEXT NOT NULL DEFAULT '',
//		progress_completed INT NOT NULL DEFAULT 0,
//		progress_total INT NOT NULL DEFAULT 0,
//		current_url TEXT NOT NULL DEFAULT ''
//	);
//	CREATE TABLE reports (
//		job_id UUID NOT NULL REFERENCES jobs(id),
//		url TEXT NOT NULL,
//		fetched_at TIMESTAMPTZ NOT NULL,
//		status_code INT NOT NULL,
//		duration_ms BIGINT NOT NULL,
//		seo JSONB NOT NULL,
//		geo JSONB NOT NULL,
//		overall_score INT NOT NULL,
//		error_text TEXT NOT NULL DEFAULT ''
//	);
type JobStore struct {
	pool pgxPool
}

// NewJobStore creates a Postgres-backed JobStore using the provided config.
func NewJobStore(ctx context.Context, cfg JobStoreConfig) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &JobStore{pool: pool}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewJobStoreWithPool(pool pgxPool) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{pool: pool}, nil
}

// Close closes the underlying connection pool.
func (s *JobStore) Close() {
	s.pool.Close()
}

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, job analysis.Job) error {
	query := `
		INSERT INTO jobs (id, status, urls, created_at, progress_completed, progress_total)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.pool.Exec(ctx, query,
		job.ID.String(),
		string(job.Status),
		job.URLs,
		job.CreatedAt,
		job.Progress.Completed,
		job.Progress.Total,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return analysis.ErrJobExists
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, id analysis.JobID) (analysis.Job, error) {
	query := `
		SELECT id, status, urls, created_at, started_at, finished_at,
		       error_text, progress_completed, progress_total, current_url
		FROM jobs WHERE id = $1
	`
	var (
		job    analysis.Job
		rawID  string
		status string
	)
	err := s.pool.QueryRow(ctx, query, id.String()).Scan(
		&rawID,
		&status,
		&job.URLs,
		&job.CreatedAt,
		&job.Started,
		&job.Finished,
		&job.ErrorText,
		&job.Progress.Completed,
		&job.Progress.Total,
		&job.CurrentURL,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return analysis.Job{}, analysis.ErrJobNotFound
		}
		return analysis.Job{}, fmt.Errorf("select job: %w", err)
	}
	parsed, err := analysis.ParseJobID(rawID)
	if err != nil {
		return analysis.Job{}, fmt.Errorf("stored job id %q: %w", rawID, err)
	}
	job.ID = parsed
	job.Status = analysis.JobStatus(status)
	return job, nil
}

// UpdateJobStatus moves a job through its lifecycle, stamping start and
// finish times on the corresponding transitions.
func (s *JobStore) UpdateJobStatus(
	ctx context.Context,
	id analysis.JobID,
	status analysis.JobStatus,
	errText string,
) error {
	now := time.Now().UTC()
	query := `
		UPDATE jobs
		SET status = $1,
		    error_text = $2,
		    started_at = CASE WHEN $1 = 'running' AND started_at IS NULL THEN $3 ELSE started_at END,
		    finished_at = CASE WHEN $4 THEN $3 ELSE finished_at END,
		    current_url = CASE WHEN $4 THEN '' ELSE current_url END
		WHERE id = $5
	`
	tag, err := s.pool.Exec(ctx, query, string(status), errText, now, status.IsTerminal(), id.String())
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return analysis.ErrJobNotFound
	}
	return nil
}

// UpdateJobProgress records how far the worker has gotten through the batch.
func (s *JobStore) UpdateJobProgress(
	ctx context.Context,
	id analysis.JobID,
	progress analysis.Progress,
	currentURL string,
) error {
	query := `
		UPDATE jobs
		SET progress_completed = $1, progress_total = $2, current_url = $3
		WHERE id = $4
	`
	tag, err := s.pool.Exec(ctx, query, progress.Completed, progress.Total, currentURL, id.String())
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return analysis.ErrJobNotFound
	}
	return nil
}

// RecordReport appends a per-URL report row for a job.
func (s *JobStore) RecordReport(ctx context.Context, report analysis.Report) error {
	seoBytes, err := json.Marshal(report.SEO)
	if err != nil {
		return fmt.Errorf("marshal seo signals: %w", err)
	}
	geoBytes, err := json.Marshal(report.GEO)
	if err != nil {
		return fmt.Errorf("marshal geo signals: %w", err)
	}
	query := `
		INSERT INTO reports (job_id, url, fetched_at, status_code, duration_ms, seo, geo, overall_score, error_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = s.pool.Exec(ctx, query,
		report.JobID,
		report.URL,
		report.FetchedAt,
		report.StatusCode,
		report.DurationMs,
		seoBytes,
		geoBytes,
		report.Overall,
		report.ErrorText,
	)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

// ListReports returns all recorded reports for a job in insertion order.
func (s *JobStore) ListReports(ctx context.Context, id analysis.JobID) ([]analysis.Report, error) {
	query := `
		SELECT job_id, url, fetched_at, status_code, duration_ms, seo, geo, overall_score, error_text
		FROM reports WHERE job_id = $1 ORDER BY fetched_at
	`
	rows, err := s.pool.Query(ctx, query, id.String())
	if err != nil {
		return nil, fmt.Errorf("select reports: %w", err)
	}
	defer rows.Close()

	var reports []analysis.Report
	for rows.Next() {
		var (
			report   analysis.Report
			seoBytes []byte
			geoBytes []byte
		)
		if err := rows.Scan(
			&report.JobID,
			&report.URL,
			&report.FetchedAt,
			&report.StatusCode,
			&report.DurationMs,
			&seoBytes,
			&geoBytes,
			&report.Overall,
			&report.ErrorText,
		); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		if err := json.Unmarshal(seoBytes, &report.SEO); err != nil {
			return nil, fmt.Errorf("unmarshal seo signals: %w", err)
		}
		if err := json.Unmarshal(geoBytes, &report.GEO); err != nil {
			return nil, fmt.Errorf("unmarshal geo signals: %w", err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reports: %w", err)
	}
	return reports, nil
}
