package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/searchlens/searchlens/internal/analysis"
	"github.com/searchlens/searchlens/internal/config"
	"github.com/searchlens/searchlens/internal/dispatcher"
	"github.com/searchlens/searchlens/internal/export"
	queueMemory "github.com/searchlens/searchlens/internal/queue/memory"
	"github.com/searchlens/searchlens/internal/ratelimit"
	storeMemory "github.com/searchlens/searchlens/internal/storage/memory"
)

const testJobID = "5f44cb12-3d9a-4a6f-9c2d-8f31b26cd001"

type fakeIDGen struct {
	ids []string
	n   int
}

func (g *fakeIDGen) NewID() (string, error) {
	if g.n >= len(g.ids) {
		return "", fmt.Errorf("out of ids")
	}
	id := g.ids[g.n]
	g.n++
	return id, nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type fakeBlobs struct {
	files map[string][]byte
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{files: map[string][]byte{}}
}

func (b *fakeBlobs) Put(name string, data []byte) (string, error) {
	b.files[name] = data
	return name, nil
}

func (b *fakeBlobs) Open(name string) (io.ReadCloser, error) {
	data, ok := b.files[name]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type spyStore struct {
	*storeMemory.JobStore
	getCalls int
}

func (s *spyStore) GetJob(ctx context.Context, id analysis.JobID) (analysis.Job, error) {
	s.getCalls++
	return s.JobStore.GetJob(ctx, id)
}

type testEnv struct {
	server *Server
	store  *spyStore
	queue  *queueMemory.Queue
	blobs  *fakeBlobs
	clock  *fakeClock
}

type envOption func(*config.Config, *ratelimit.Config)

func withMaxBody(n int64) envOption {
	return func(cfg *config.Config, _ *ratelimit.Config) {
		cfg.Server.MaxBodyBytes = n
	}
}

func withAnalysisLimit(rps float64, burst int) envOption {
	return func(_ *config.Config, rl *ratelimit.Config) {
		rl.Analysis = ratelimit.ClassConfig{RPS: rps, Burst: burst}
	}
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	cfg := config.Config{
		Server:  config.ServerConfig{Port: 8080, MaxBodyBytes: 10 << 20},
		Logging: config.LoggingConfig{Development: true},
		CORS:    config.CORSConfig{AllowedOrigin: "*"},
	}
	rlCfg := ratelimit.Config{
		Analysis:   ratelimit.ClassConfig{RPS: 1000, Burst: 1000},
		Validation: ratelimit.ClassConfig{RPS: 1000, Burst: 1000},
		Export:     ratelimit.ClassConfig{RPS: 1000, Burst: 1000},
	}
	for _, opt := range opts {
		opt(&cfg, &rlCfg)
	}

	store := &spyStore{JobStore: storeMemory.NewJobStore()}
	q := queueMemory.NewQueue(16)
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0).UTC()}
	blobs := newFakeBlobs()
	server := NewServer(
		store,
		dispatcher.New(q, nil),
		&fakeIDGen{ids: []string{testJobID}},
		clock,
		ratelimit.New(rlCfg),
		export.New(store, blobs, clock),
		blobs,
		cfg,
		zap.NewNop(),
	)
	return &testEnv{server: server, store: store, queue: q, blobs: blobs, clock: clock}
}

func postJSON(target, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func mustJobID(t *testing.T, raw string) analysis.JobID {
	t.Helper()
	id, err := analysis.ParseJobID(raw)
	require.NoError(t, err)
	return id
}

func TestServer_Health(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "OK", body["status"])
	require.Equal(t, Version, body["version"])
	require.NotEmpty(t, body["timestamp"])
}

func TestServer_APIIndex(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "endpoints")
	require.Contains(t, rec.Body.String(), "/api/analysis/start")
}

func TestServer_ValidateURLs_NormalizesSchemeless(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec,
		postJSON("/api/validation/urls", `{"urls":["https://example.com","example.com/about"]}`))

	require.Equal(t, http.StatusOK, rec.Code)
	var result analysis.ValidationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.True(t, result.Success)
	require.Equal(t,
		[]string{"https://example.com", "https://example.com/about"},
		result.NormalizedURLs,
	)
}

func TestServer_ValidateURLs_EmptyBatch(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, postJSON("/api/validation/urls", `{"urls":[]}`))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "Validation failed")
	require.Contains(t, rec.Body.String(), `"field":"urls"`)
}

func TestServer_ValidateURLs_MalformedJSON(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, postJSON("/api/validation/urls", `{invalid`))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "Validation failed")
}

func TestServer_ValidateURLs_WrongContentType(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/api/validation/urls",
		bytes.NewBufferString(`{"urls":["https://example.com"]}`))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ValidateURLs_AdversarialKeysNeverEchoed(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, postJSON("/api/validation/urls",
		`{"urls":["https://example.com"],"__proto__":{"polluted":true},"constructor":"evil"}`))

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "__proto__")
	require.NotContains(t, rec.Body.String(), "constructor")
	require.NotContains(t, rec.Body.String(), "polluted")
}

func TestServer_StartAnalysis_CreatesPendingJob(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec,
		postJSON("/api/analysis/start", `{"urls":["example.com","https://other.example/page"]}`))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp startResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Equal(t, testJobID, resp.JobID)
	require.Equal(t, analysis.JobStatusPending, resp.Status)
	require.Equal(t, []string{"https://example.com", "https://other.example/page"}, resp.URLs)

	job, err := env.store.GetJob(context.Background(), mustJobID(t, testJobID))
	require.NoError(t, err)
	require.Equal(t, analysis.JobStatusPending, job.Status)
	require.Equal(t, 2, job.Progress.Total)
	require.Zero(t, job.Progress.Completed)

	item, err := env.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, testJobID, item.JobID.String())
	require.Equal(t, job.URLs, item.URLs)
}

func TestServer_StartAnalysis_AllURLsInvalid(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec,
		postJSON("/api/analysis/start", `{"urls":["<script>alert(1)</script>","not a url"]}`))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "Validation failed")
}

func TestServer_JobStatus_InvalidIDNeverConsultsStore(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/api/analysis/status/not-a-uuid", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "Invalid job ID format")
	require.Zero(t, env.store.getCalls)
}

func TestServer_JobStatus_NotFound(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/api/analysis/status/"+testJobID, nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "Job not found")
}

func TestServer_JobStatus_RunningJobReportsProgressAndEstimate(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	started := env.clock.now.Add(-20 * time.Second)
	job := analysis.Job{
		ID:         mustJobID(t, testJobID),
		Status:     analysis.JobStatusRunning,
		URLs:       []string{"https://a.example", "https://b.example", "https://c.example", "https://d.example"},
		CreatedAt:  started,
		Started:    &started,
		Progress:   analysis.Progress{Completed: 1, Total: 4},
		CurrentURL: "https://b.example",
	}
	require.NoError(t, env.store.CreateJob(context.Background(), job))

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/api/analysis/status/"+testJobID, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, analysis.JobStatusRunning, resp.Status)
	require.Equal(t, progressPayload{Completed: 1, Total: 4, Percentage: 25}, resp.Progress)
	require.NotNil(t, resp.CurrentURL)
	require.Equal(t, "https://b.example", *resp.CurrentURL)
	// 1 URL in 20s, 3 remaining.
	require.NotNil(t, resp.EstimatedTimeRemaining)
	require.Equal(t, 60, *resp.EstimatedTimeRemaining)
}

func TestServer_JobStatus_CompletedIncludesReports(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	id := mustJobID(t, testJobID)
	require.NoError(t, env.store.CreateJob(ctx, analysis.Job{
		ID:        id,
		Status:    analysis.JobStatusPending,
		URLs:      []string{"https://example.com"},
		CreatedAt: env.clock.now,
		Progress:  analysis.Progress{Total: 1},
	}))
	require.NoError(t, env.store.RecordReport(ctx, analysis.Report{
		JobID:   testJobID,
		URL:     "https://example.com",
		Overall: 80,
	}))
	require.NoError(t, env.store.UpdateJobProgress(ctx, id, analysis.Progress{Completed: 1, Total: 1}, ""))
	require.NoError(t, env.store.UpdateJobStatus(ctx, id, analysis.JobStatusCompleted, ""))

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/api/analysis/status/"+testJobID, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, analysis.JobStatusCompleted, resp.Status)
	require.Nil(t, resp.EstimatedTimeRemaining)
	require.Nil(t, resp.CurrentURL)
	require.Len(t, resp.Reports, 1)
	require.Equal(t, 80, resp.Reports[0].Overall)
}

func TestServer_JobStatus_PartialFailureKeepsEnvelopeErrorFree(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	id := mustJobID(t, testJobID)
	require.NoError(t, env.store.CreateJob(ctx, analysis.Job{
		ID:        id,
		Status:    analysis.JobStatusPending,
		URLs:      []string{"https://a.example", "https://b.example"},
		CreatedAt: env.clock.now,
		Progress:  analysis.Progress{Total: 2},
	}))
	require.NoError(t, env.store.UpdateJobProgress(ctx, id, analysis.Progress{Completed: 2, Total: 2}, ""))
	require.NoError(t, env.store.UpdateJobStatus(ctx, id, analysis.JobStatusCompleted, "1 of 2 urls failed"))

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/api/analysis/status/"+testJobID, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	// The job's error text must not reuse the failure-envelope "error" key.
	require.Equal(t, true, body["success"])
	require.Equal(t, "1 of 2 urls failed", body["errorText"])
	require.NotContains(t, body, "error")
}

func TestServer_Export_ThenDownload(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	id := mustJobID(t, testJobID)
	require.NoError(t, env.store.CreateJob(ctx, analysis.Job{
		ID:        id,
		Status:    analysis.JobStatusCompleted,
		URLs:      []string{"https://example.com"},
		CreatedAt: env.clock.now,
		Progress:  analysis.Progress{Completed: 1, Total: 1},
	}))
	require.NoError(t, env.store.RecordReport(ctx, analysis.Report{
		JobID:   testJobID,
		URL:     "https://example.com",
		Overall: 75,
	}))

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec,
		postJSON("/api/export", fmt.Sprintf(`{"format":"json","jobId":%q}`, testJobID)))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp exportResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.True(t, export.ValidFilename(resp.Filename))
	require.Equal(t, "/api/export/download/"+resp.Filename, resp.DownloadURL)

	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, resp.DownloadURL, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Body.String(), "https://example.com")
}

func TestServer_Export_RejectsUnknownFormat(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec,
		postJSON("/api/export", fmt.Sprintf(`{"format":"xml","jobId":%q}`, testJobID)))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "Validation failed")
}

func TestServer_Export_UnknownJob(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec,
		postJSON("/api/export", fmt.Sprintf(`{"format":"csv","jobId":%q}`, testJobID)))

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "Job not found")
}

func TestServer_Download_RejectsTraversal(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	for _, name := range []string{
		"..%2F..%2Fetc%2Fpasswd",
		"..%5Cwindows",
	} {
		rec := httptest.NewRecorder()
		env.server.Handler().ServeHTTP(rec,
			httptest.NewRequest(http.MethodGet, "/api/export/download/"+name, nil))

		require.Equal(t, http.StatusBadRequest, rec.Code, "filename %q", name)
		require.Contains(t, rec.Body.String(), "Validation failed")
	}
}

func TestServer_Download_UnknownFile(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	// Well-formed artifact name that was never exported, and a traversal-free
	// name that does not match the generated shape: both are 404, not 400.
	for _, name := range []string{
		testJobID + "-1700000000.json",
		"notes.txt",
	} {
		rec := httptest.NewRecorder()
		env.server.Handler().ServeHTTP(rec,
			httptest.NewRequest(http.MethodGet, "/api/export/download/"+name, nil))

		require.Equal(t, http.StatusNotFound, rec.Code, "filename %q", name)
		require.Contains(t, rec.Body.String(), "Not found")
	}
}

func TestServer_UnmatchedRoute(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	var body errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.False(t, body.Success)
	require.Equal(t, "Not found", body.Error)
	require.Equal(t, "GET /nope not found", body.Message)
}

func TestServer_OversizedBodyRejected(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, withMaxBody(2048))
	big := bytes.Repeat([]byte("a"), 4096)
	req := httptest.NewRequest(http.MethodPost, "/api/validation/urls", bytes.NewReader(big))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	require.Contains(t, rec.Body.String(), "Payload too large")
}

func TestServer_AnalysisRateLimited(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, withAnalysisLimit(0.01, 1))

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec,
		postJSON("/api/analysis/start", `{"urls":["https://example.com"]}`))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec,
		postJSON("/api/analysis/start", `{"urls":["https://example.com"]}`))

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-RateLimit-Limit"))
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
	var body errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.False(t, body.Success)
	require.Equal(t, "Rate limit exceeded", body.Error)
	require.NotNil(t, body.RetryAfter)
	require.GreaterOrEqual(t, *body.RetryAfter, 1)
}
