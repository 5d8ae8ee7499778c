// Package api exposes the HTTP interface for the analysis service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/searchlens/searchlens/internal/analysis"
	"github.com/searchlens/searchlens/internal/config"
	"github.com/searchlens/searchlens/internal/dispatcher"
	"github.com/searchlens/searchlens/internal/export"
	"github.com/searchlens/searchlens/internal/metrics"
	"github.com/searchlens/searchlens/internal/ratelimit"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// artifactStore provides read access to previously exported artifacts.
type artifactStore interface {
	Open(name string) (io.ReadCloser, error)
}

// Server wires HTTP handlers to the dispatcher, stores, and collaborators.
type Server struct {
	router     chi.Router
	jobStore   analysis.JobStore
	dispatcher *dispatcher.Dispatcher
	idGen      analysis.IDGenerator
	clock      analysis.Clock
	limiter    *ratelimit.Limiter
	exporter   *export.Exporter
	artifacts  artifactStore
	cfg        config.Config
	logger     *zap.Logger
}

// NewServer constructs a Server with the full middleware chain and routes.
func NewServer(
	jobStore analysis.JobStore,
	dispatcher *dispatcher.Dispatcher,
	idGen analysis.IDGenerator,
	clock analysis.Clock,
	limiter *ratelimit.Limiter,
	exporter *export.Exporter,
	artifacts artifactStore,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobStore:   jobStore,
		dispatcher: dispatcher,
		idGen:      idGen,
		clock:      clock,
		limiter:    limiter,
		exporter:   exporter,
		artifacts:  artifacts,
		cfg:        cfg,
		logger:     logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger, cfg.Logging.Development))
	r.Use(securityHeadersMiddleware)
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigin))
	r.Use(metrics.Middleware)

	maxBody := maxBodyMiddleware(cfg.Server.MaxBodyBytes)

	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/", s.apiIndex)
		r.With(maxBody, requireJSONMiddleware, s.rateLimitMiddleware(ratelimit.ClassValidation)).
			Post("/validation/urls", s.validateURLs)
		r.Route("/analysis", func(r chi.Router) {
			r.With(maxBody, requireJSONMiddleware, s.rateLimitMiddleware(ratelimit.ClassAnalysis)).
				Post("/start", s.startAnalysis)
			r.Get("/status/{jobID}", s.jobStatus)
		})
		r.Route("/export", func(r chi.Router) {
			r.With(maxBody, requireJSONMiddleware, s.rateLimitMiddleware(ratelimit.ClassExport)).
				Post("/", s.exportJob)
			r.Get("/download/{filename}", s.downloadExport)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found",
			fmt.Sprintf("%s %s not found", r.Method, r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed",
			fmt.Sprintf("%s not allowed on %s", r.Method, r.URL.Path))
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"timestamp": s.clock.Now().UTC().Format(time.RFC3339),
		"version":   Version,
	})
}

func (s *Server) apiIndex(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "searchlens",
		"version": Version,
		"endpoints": map[string]string{
			"health":     "GET /health",
			"metrics":    "GET /metrics",
			"validation": "POST /api/validation/urls",
			"start":      "POST /api/analysis/start",
			"status":     "GET /api/analysis/status/{jobID}",
			"export":     "POST /api/export",
			"download":   "GET /api/export/download/{filename}",
		},
	})
}

type urlsRequest struct {
	URLs []string `json:"urls"`
}

type exportRequest struct {
	Format string `json:"format"`
	JobID  string `json:"jobId"`
}

type startResponse struct {
	Success   bool               `json:"success"`
	JobID     string             `json:"jobId"`
	Status    analysis.JobStatus `json:"status"`
	URLs      []string           `json:"urls"`
	CreatedAt time.Time          `json:"createdAt"`
}

type progressPayload struct {
	Completed  int `json:"completed"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

type statusResponse struct {
	Success                bool               `json:"success"`
	JobID                  string             `json:"jobId"`
	Status                 analysis.JobStatus `json:"status"`
	Progress               progressPayload    `json:"progress"`
	CurrentURL             *string            `json:"currentUrl"`
	EstimatedTimeRemaining *int               `json:"estimatedTimeRemaining"`
	ErrorText              string             `json:"errorText,omitempty"`
	Reports                []analysis.Report  `json:"reports,omitempty"`
}

type exportResponse struct {
	Success     bool   `json:"success"`
	Filename    string `json:"filename"`
	DownloadURL string `json:"downloadUrl"`
}

// decodeJSON decodes the request body into dst. It writes the error
// response itself and reports whether the handler should continue.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "Payload too large",
				fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
			return false
		}
		writeValidationError(w, "request body must be valid JSON", nil)
		return false
	}
	return true
}

func (s *Server) validateURLs(w http.ResponseWriter, r *http.Request) {
	var req urlsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.URLs) == 0 {
		writeValidationError(w, "urls must be a non-empty array",
			[]analysis.FieldError{{Field: "urls", Message: "must be a non-empty array of strings"}})
		return
	}
	writeJSON(w, http.StatusOK, analysis.ValidateURLs(req.URLs))
}

func (s *Server) startAnalysis(w http.ResponseWriter, r *http.Request) {
	var req urlsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.URLs) == 0 {
		writeValidationError(w, "urls must be a non-empty array",
			[]analysis.FieldError{{Field: "urls", Message: "must be a non-empty array of strings"}})
		return
	}

	result := analysis.ValidateURLs(req.URLs)
	if len(result.NormalizedURLs) == 0 {
		writeValidationError(w, "no valid urls in request", result.Errors)
		return
	}

	rawID, err := s.idGen.NewID()
	if err != nil {
		s.logger.Error("generate job id failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error", "could not create job")
		return
	}
	jobID, err := analysis.ParseJobID(rawID)
	if err != nil {
		s.logger.Error("generated job id not canonical", zap.String("id", rawID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error", "could not create job")
		return
	}

	now := s.clock.Now()
	job := analysis.Job{
		ID:        jobID,
		Status:    analysis.JobStatusPending,
		URLs:      result.NormalizedURLs,
		CreatedAt: now,
		Progress:  analysis.Progress{Total: len(result.NormalizedURLs)},
	}
	if err := s.jobStore.CreateJob(r.Context(), job); err != nil {
		s.logger.Error("create job failed", zap.String("job_id", jobID.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error", "could not create job")
		return
	}

	queueCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	item := analysis.QueueItem{
		JobID:     jobID,
		URLs:      result.NormalizedURLs,
		Submitted: now.Unix(),
	}
	if err := s.dispatcher.Enqueue(queueCtx, item); err != nil {
		s.logger.Error("enqueue job failed", zap.String("job_id", jobID.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error", "could not enqueue job")
		return
	}

	writeJSON(w, http.StatusOK, startResponse{
		Success:   true,
		JobID:     jobID.String(),
		Status:    analysis.JobStatusPending,
		URLs:      result.NormalizedURLs,
		CreatedAt: now.UTC(),
	})
}

func (s *Server) jobStatus(w http.ResponseWriter, r *http.Request) {
	jobID, err := analysis.ParseJobID(chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid job ID format",
			"job ID must be a canonical UUID")
		return
	}

	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, analysis.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "Job not found",
				fmt.Sprintf("no job with ID %s", jobID))
			return
		}
		s.logger.Error("get job failed", zap.String("job_id", jobID.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error", "could not load job")
		return
	}

	resp := statusResponse{
		Success: true,
		JobID:   job.ID.String(),
		Status:  job.Status,
		Progress: progressPayload{
			Completed:  job.Progress.Completed,
			Total:      job.Progress.Total,
			Percentage: job.Progress.Percentage(),
		},
		EstimatedTimeRemaining: analysis.EstimateRemaining(job.Started, s.clock.Now(), job.Progress),
		ErrorText:              job.ErrorText,
	}
	if job.CurrentURL != "" {
		resp.CurrentURL = &job.CurrentURL
	}
	if job.Status == analysis.JobStatusCompleted {
		reports, err := s.jobStore.ListReports(r.Context(), jobID)
		if err != nil {
			s.logger.Error("list reports failed", zap.String("job_id", jobID.String()), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Internal server error", "could not load reports")
			return
		}
		resp.Reports = reports
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) exportJob(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	format, err := export.ParseFormat(req.Format)
	if err != nil {
		writeValidationError(w, err.Error(),
			[]analysis.FieldError{{Field: "format", Message: "must be json or csv"}})
		return
	}
	jobID, err := analysis.ParseJobID(req.JobID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid job ID format",
			"job ID must be a canonical UUID")
		return
	}

	filename, err := s.exporter.Export(r.Context(), jobID, format)
	if err != nil {
		if errors.Is(err, analysis.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "Job not found",
				fmt.Sprintf("no job with ID %s", jobID))
			return
		}
		s.logger.Error("export failed", zap.String("job_id", jobID.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error", "could not export job")
		return
	}

	writeJSON(w, http.StatusOK, exportResponse{
		Success:     true,
		Filename:    filename,
		DownloadURL: "/api/export/download/" + filename,
	})
}

func (s *Server) downloadExport(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	if strings.Contains(name, "..") || strings.ContainsAny(name, "/\\") {
		writeValidationError(w, "invalid export filename", nil)
		return
	}
	// Artifact names are generated; anything else cannot exist.
	if !export.ValidFilename(name) {
		writeError(w, http.StatusNotFound, "Not found",
			fmt.Sprintf("no export named %s", name))
		return
	}

	rc, err := s.artifacts.Open(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, "Not found",
				fmt.Sprintf("no export named %s", name))
			return
		}
		s.logger.Error("open export failed", zap.String("filename", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error", "could not open export")
		return
	}
	defer func() {
		if cerr := rc.Close(); cerr != nil {
			s.logger.Warn("close export failed", zap.String("filename", name), zap.Error(cerr))
		}
	}()

	w.Header().Set("Content-Type", export.ContentType(name))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Warn("stream export failed", zap.String("filename", name), zap.Error(err))
	}
}
