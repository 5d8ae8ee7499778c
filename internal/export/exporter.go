// Package export renders job reports into downloadable artifacts.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	"github.com/searchlens/searchlens/internal/analysis"
)

// Format selects the export encoding.
type Format string

// Supported export formats.
const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ParseFormat validates a raw format string.
func ParseFormat(raw string) (Format, error) {
	switch Format(raw) {
	case FormatJSON, FormatCSV:
		return Format(raw), nil
	default:
		return "", fmt.Errorf("unsupported export format %q", raw)
	}
}

// Filenames are generated, never caller-controlled: job id, timestamp,
// extension.
var filenamePattern = regexp.MustCompile(`^[0-9a-f-]{36}-[0-9]+\.(json|csv)$`)

// ValidFilename reports whether name matches the generated artifact shape.
func ValidFilename(name string) bool {
	return filenamePattern.MatchString(name)
}

// ContentType returns the MIME type served for an artifact name.
func ContentType(name string) string {
	if len(name) > 4 && name[len(name)-4:] == ".csv" {
		return "text/csv"
	}
	return "application/json"
}

// BlobStore is the artifact sink the exporter writes to.
type BlobStore interface {
	Put(name string, data []byte) (string, error)
}

// Exporter renders a job's reports and persists the artifact.
type Exporter struct {
	jobStore analysis.JobStore
	blobs    BlobStore
	clock    analysis.Clock
}

// New constructs an Exporter.
func New(jobStore analysis.JobStore, blobs BlobStore, clock analysis.Clock) *Exporter {
	return &Exporter{
		jobStore: jobStore,
		blobs:    blobs,
		clock:    clock,
	}
}

type jsonArtifact struct {
	JobID     string            `json:"jobId"`
	Status    string            `json:"status"`
	CreatedAt string            `json:"createdAt"`
	URLs      []string          `json:"urls"`
	Reports   []analysis.Report `json:"reports"`
}

// Export renders the reports of id in the given format, writes the artifact,
// and returns its filename. Unknown jobs surface analysis.ErrJobNotFound.
func (e *Exporter) Export(ctx context.Context, id analysis.JobID, format Format) (string, error) {
	job, err := e.jobStore.GetJob(ctx, id)
	if err != nil {
		return "", fmt.Errorf("load job: %w", err)
	}
	reports, err := e.jobStore.ListReports(ctx, id)
	if err != nil {
		return "", fmt.Errorf("load reports: %w", err)
	}

	var data []byte
	switch format {
	case FormatJSON:
		data, err = renderJSON(job, reports)
	case FormatCSV:
		data, err = renderCSV(reports)
	default:
		return "", fmt.Errorf("unsupported export format %q", format)
	}
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("%s-%d.%s", job.ID.String(), e.clock.Now().Unix(), format)
	if _, err := e.blobs.Put(name, data); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return name, nil
}

func renderJSON(job analysis.Job, reports []analysis.Report) ([]byte, error) {
	artifact := jsonArtifact{
		JobID:     job.ID.String(),
		Status:    string(job.Status),
		CreatedAt: job.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		URLs:      job.URLs,
		Reports:   reports,
	}
	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal artifact: %w", err)
	}
	return data, nil
}

func renderCSV(reports []analysis.Report) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := []string{"url", "status_code", "seo_score", "geo_score", "overall_score", "error"}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range reports {
		row := []string{
			r.URL,
			strconv.Itoa(r.StatusCode),
			strconv.Itoa(r.SEO.Score),
			strconv.Itoa(r.GEO.Score),
			strconv.Itoa(r.Overall),
			r.ErrorText,
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
