package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knoguchi/rag/internal/apperr"
	"github.com/knoguchi/rag/internal/ask"
	"github.com/knoguchi/rag/internal/ingest"
	"github.com/knoguchi/rag/internal/job"
	"github.com/knoguchi/rag/internal/vectorstore"
)

type fakeIngest struct {
	result ingest.Result
	err    error
}

func (f *fakeIngest) IngestURL(_ context.Context, _, _, _ string, progress ingest.ProgressFunc) (ingest.Result, error) {
	if f.err != nil {
		return ingest.Result{}, f.err
	}
	if progress != nil {
		progress(50, "Analyzing chunks...")
		progress(95, "Storing in vector database...")
		progress(100, "Done!")
	}
	return f.result, nil
}

func (f *fakeIngest) IngestPDF(_ context.Context, _ io.ReaderAt, _ int64, _, _, _ string, progress ingest.ProgressFunc) (ingest.Result, error) {
	if f.err != nil {
		return ingest.Result{}, f.err
	}
	if progress != nil {
		progress(10, "Extracting text from PDF")
	}
	return f.result, nil
}

type fakeAsk struct {
	points   []vectorstore.ScoredPoint
	response ask.QueryResponse
	events   []ask.Event
}

func (f *fakeAsk) Retrieve(context.Context, string, string, string) ([]vectorstore.ScoredPoint, error) {
	return f.points, nil
}

func (f *fakeAsk) Ask(context.Context, string, string, string, string) (ask.QueryResponse, error) {
	return f.response, nil
}

func (f *fakeAsk) ChatStream(context.Context, string, string, string, string) (<-chan ask.Event, error) {
	out := make(chan ask.Event)
	go func() {
		defer close(out)
		for _, ev := range f.events {
			out <- ev
		}
	}()
	return out, nil
}

type fakeJobs struct {
	states  map[string]job.State
	created []string
}

func (f *fakeJobs) Create(context.Context) (string, error) {
	id := "job-1"
	f.created = append(f.created, id)
	return id, nil
}

func (f *fakeJobs) Get(_ context.Context, jobID string) (job.State, error) {
	s, ok := f.states[jobID]
	if !ok {
		return job.State{}, apperr.New(apperr.KindJobNotFound, "job "+jobID+" not found")
	}
	return s, nil
}

type fakeQueue struct {
	tasks []job.Task
}

func (f *fakeQueue) Enqueue(_ context.Context, task job.Task) error {
	f.tasks = append(f.tasks, task)
	return nil
}

func newTestServer(t *testing.T, deps Services) *HTTPServer {
	t.Helper()
	if deps.Ingest == nil {
		deps.Ingest = &fakeIngest{}
	}
	if deps.Ask == nil {
		deps.Ask = &fakeAsk{}
	}
	if deps.Jobs == nil {
		deps.Jobs = &fakeJobs{states: map[string]job.State{}}
	}
	if deps.Queue == nil {
		deps.Queue = &fakeQueue{}
	}
	srv, err := NewHTTPServer(HTTPServerConfig{Port: 0, UploadDir: t.TempDir()}, deps)
	require.NoError(t, err)
	return srv
}

func postJSON(t *testing.T, srv *HTTPServer, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestIngestEndpoint(t *testing.T) {
	ing := &fakeIngest{result: ingest.Result{ChunksProcessed: 4, New: 4}}
	srv := newTestServer(t, Services{Ingest: ing})

	rec := postJSON(t, srv, "/rag/ingest", map[string]string{
		"url": "https://example.com/doc.md", "domain": "Docs", "topic": "Setup",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ingested", resp["status"])
	assert.Equal(t, "https://example.com/doc.md", resp["url"])
}

func TestIngestValidation(t *testing.T) {
	srv := newTestServer(t, Services{})

	rec := postJSON(t, srv, "/rag/ingest", map[string]string{"domain": "d"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "url")
}

func TestAskValidationTextLength(t *testing.T) {
	srv := newTestServer(t, Services{})

	rec := postJSON(t, srv, "/rag/ask", map[string]string{"text": "hi"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "between 5 and 1000")
}

func TestJobStatusNotFound(t *testing.T) {
	srv := newTestServer(t, Services{})

	req := httptest.NewRequest(http.MethodGet, "/rag/job/unknown-id", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIngestJobEnqueues(t *testing.T) {
	queue := &fakeQueue{}
	jobs := &fakeJobs{states: map[string]job.State{}}
	srv := newTestServer(t, Services{Jobs: jobs, Queue: queue})

	rec := postJSON(t, srv, "/rag/ingest/job", map[string]string{
		"url": "https://example.com/doc", "domain": "d", "topic": "t",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "queued", resp["status"])
	assert.Equal(t, "job-1", resp["job_id"])

	require.Len(t, queue.tasks, 1)
	assert.Equal(t, job.KindURL, queue.tasks[0].Kind)
	assert.Equal(t, "https://example.com/doc", queue.tasks[0].URL)
}

func TestIngestStreamEmitsProgressAndFinalCounts(t *testing.T) {
	ing := &fakeIngest{result: ingest.Result{ChunksProcessed: 7, New: 2, Updated: 5}}
	srv := newTestServer(t, Services{Ingest: ing})

	rec := postJSON(t, srv, "/rag/ingest-stream", map[string]string{
		"url": "https://example.com/doc", "domain": "d", "topic": "t",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	frames := parseSSE(t, rec.Body.String())
	require.NotEmpty(t, frames)

	last := frames[len(frames)-1]
	assert.Equal(t, float64(100), last["progress"])
	assert.Equal(t, float64(7), last["chunks_processed"])
	assert.Equal(t, float64(2), last["new"])
	assert.Equal(t, float64(5), last["updated"])
}

func TestAskStreamEventOrder(t *testing.T) {
	askSvc := &fakeAsk{events: []ask.Event{
		{Type: "content", Content: "Hel"},
		{Type: "content", Content: "lo"},
		{Type: "citations", Citations: []ask.Citation{{Source: "doc.md", ChunkIndex: 0}}},
		{Type: "metadata", Tokens: 12, Cost: 0.0001, Model: "claude-3-5-haiku-latest"},
		{Type: "done"},
	}}
	srv := newTestServer(t, Services{Ask: askSvc})

	rec := postJSON(t, srv, "/rag/ask-stream", map[string]string{"text": "question long enough"})
	require.Equal(t, http.StatusOK, rec.Code)

	frames := parseSSE(t, rec.Body.String())
	var types []string
	for _, f := range frames {
		types = append(types, f["type"].(string))
	}
	assert.Equal(t, []string{"content", "content", "citations", "metadata", "done"}, types)
}

func TestSessionIDAssigned(t *testing.T) {
	srv := newTestServer(t, Services{})

	rec := postJSON(t, srv, "/rag/ask", map[string]string{"text": "question long enough"})
	assert.NotEmpty(t, rec.Header().Get("X-Session-ID"))
}

func parseSSE(t *testing.T, body string) []map[string]any {
	t.Helper()
	var frames []map[string]any
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var frame map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame))
		frames = append(frames, frame)
	}
	return frames
}
