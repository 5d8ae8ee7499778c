// Package analysis defines core types shared across subsystems.
package analysis

import (
	"math"
	"time"
)

// JobStatus represents the lifecycle state of an analysis job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether the status admits no further transitions.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job represents the metadata persisted for each submitted analysis request.
type Job struct {
	ID         JobID      `json:"id"`
	Status     JobStatus  `json:"status"`
	URLs       []string   `json:"urls"`
	CreatedAt  time.Time  `json:"created_at"`
	Started    *time.Time `json:"started_at,omitempty"`
	Finished   *time.Time `json:"finished_at,omitempty"`
	ErrorText  string     `json:"error_text,omitempty"`
	Progress   Progress   `json:"progress"`
	CurrentURL string     `json:"current_url,omitempty"`
}

// Progress tracks how many URLs of a job have been analyzed.
// Completed never exceeds Total.
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// Percentage returns round(100*completed/total), or 0 when total is 0.
func (p Progress) Percentage() int {
	if p.Total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(p.Completed) / float64(p.Total)))
}

// SEOSignals captures the classic on-page signals extracted from a document.
type SEOSignals struct {
	Score              int            `json:"score"`
	Title              string         `json:"title"`
	TitleLength        int            `json:"title_length"`
	HasMetaDescription bool           `json:"has_meta_description"`
	Headings           map[string]int `json:"headings"`
	InternalLinks      int            `json:"internal_links"`
	ExternalLinks      int            `json:"external_links"`
	ImagesMissingAlt   int            `json:"images_missing_alt"`
	HasCanonical       bool           `json:"has_canonical"`
}

// GEOSignals captures signals relevant to generative-engine surfaces:
// machine-readable structure and answer-shaped content.
type GEOSignals struct {
	Score             int  `json:"score"`
	WordCount         int  `json:"word_count"`
	HasStructuredData bool `json:"has_structured_data"`
	FAQBlocks         int  `json:"faq_blocks"`
	AvgSentenceLength int  `json:"avg_sentence_length"`
}

// Report is the scored analysis result persisted for each URL of a job.
type Report struct {
	JobID      string     `json:"job_id"`
	URL        string     `json:"url"`
	FetchedAt  time.Time  `json:"fetched_at"`
	StatusCode int        `json:"status_code"`
	DurationMs int64      `json:"duration_ms"`
	SEO        SEOSignals `json:"seo"`
	GEO        GEOSignals `json:"geo"`
	Overall    int        `json:"overall_score"`
	ErrorText  string     `json:"error_text,omitempty"`
}

// FetchRequest captures everything needed to fetch a URL for analysis.
type FetchRequest struct {
	JobID string
	URL   string
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     JobID
	URLs      []string
	Submitted int64
}

// FieldError names a request field together with a human-readable message.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult is the outcome of validating a batch of candidate URLs.
// Per-element invalidity is data, not a request error: Success stays true
// as long as the request itself was well-formed.
type ValidationResult struct {
	Success        bool         `json:"success"`
	Valid          bool         `json:"valid"`
	NormalizedURLs []string     `json:"normalizedUrls"`
	Errors         []FieldError `json:"errors"`
}
