package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/knoguchi/rag/internal/apperr"
	"github.com/knoguchi/rag/internal/ask"
	"github.com/knoguchi/rag/internal/ingest"
	"github.com/knoguchi/rag/internal/job"
	"github.com/knoguchi/rag/internal/vectorstore"
)

// maxUploadBytes bounds how large an uploaded PDF may be.
const maxUploadBytes = 50 << 20

// IngestService is the slice of the ingest pipeline the edge calls.
type IngestService interface {
	IngestURL(ctx context.Context, url, domain, topic string, progress ingest.ProgressFunc) (ingest.Result, error)
	IngestPDF(ctx context.Context, r io.ReaderAt, size int64, source, domain, topic string, progress ingest.ProgressFunc) (ingest.Result, error)
}

// AskService is the slice of the ask orchestrator the edge calls.
type AskService interface {
	Retrieve(ctx context.Context, text, domain, topic string) ([]vectorstore.ScoredPoint, error)
	Ask(ctx context.Context, sessionID, question, domain, topic string) (ask.QueryResponse, error)
	ChatStream(ctx context.Context, sessionID, question, domain, topic string) (<-chan ask.Event, error)
}

// JobAPI is the slice of the job service the edge calls.
type JobAPI interface {
	Create(ctx context.Context) (string, error)
	Get(ctx context.Context, jobID string) (job.State, error)
}

// TaskEnqueuer dispatches queued tasks to the worker process.
type TaskEnqueuer interface {
	Enqueue(ctx context.Context, task job.Task) error
}

// Services bundles the dependencies the HTTP edge fronts.
type Services struct {
	Ingest IngestService
	Ask    AskService
	Jobs   JobAPI
	Queue  TaskEnqueuer
}

type handlers struct {
	ingest    IngestService
	ask       AskService
	jobs      JobAPI
	queue     TaskEnqueuer
	uploadDir string
}

func (h *handlers) routes(r chi.Router) {
	r.Post("/ingest", h.ingestURL)
	r.Post("/ingest-stream", h.ingestURLStream)
	r.Post("/ingest-pdf", h.ingestPDF)
	r.Post("/ingest-pdf-stream", h.ingestPDFStream)
	r.Post("/ingest/job", h.ingestURLJob)
	r.Post("/ingest-file/job", h.ingestFileJob)
	r.Get("/job/{job_id}", h.jobStatus)
	r.Post("/retrieve", h.retrieve)
	r.Post("/ask", h.askQuestion)
	r.Post("/ask-stream", h.askStream)
}

// ---------------------------------------------------------------------------
// Request shapes and validation
// ---------------------------------------------------------------------------

type ingestRequest struct {
	URL    string `json:"url"`
	Domain string `json:"domain"`
	Topic  string `json:"topic"`
}

func (req *ingestRequest) validate() map[string]string {
	problems := make(map[string]string)
	if strings.TrimSpace(req.URL) == "" {
		problems["url"] = "url is required"
	}
	req.Domain = normalizeLabel(req.Domain, "general")
	req.Topic = normalizeLabel(req.Topic, "unknown")
	if utf8.RuneCountInString(req.Domain) > 50 {
		problems["domain"] = "must be at most 50 characters"
	}
	if utf8.RuneCountInString(req.Topic) > 50 {
		problems["topic"] = "must be at most 50 characters"
	}
	if len(problems) == 0 {
		return nil
	}
	return problems
}

type queryRequest struct {
	Text   string `json:"text"`
	Domain string `json:"domain"`
	Topic  string `json:"topic"`
}

func (req *queryRequest) validate() map[string]string {
	problems := make(map[string]string)
	n := utf8.RuneCountInString(strings.TrimSpace(req.Text))
	if n < 5 || n > 1000 {
		problems["text"] = "must be between 5 and 1000 characters"
	}
	req.Domain = normalizeLabel(req.Domain, "")
	req.Topic = normalizeLabel(req.Topic, "")
	if utf8.RuneCountInString(req.Domain) > 50 {
		problems["domain"] = "must be at most 50 characters"
	}
	if utf8.RuneCountInString(req.Topic) > 50 {
		problems["topic"] = "must be at most 50 characters"
	}
	if len(problems) == 0 {
		return nil
	}
	return problems
}

// normalizeLabel lowercases and trims a domain/topic label, falling
// back to def when the input is empty.
func normalizeLabel(v, def string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return def
	}
	return v
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Wrap(apperr.KindValidation, "invalid request body", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Ingest endpoints
// ---------------------------------------------------------------------------

func (h *handlers) ingestURL(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if problems := req.validate(); problems != nil {
		writeValidationError(w, problems)
		return
	}

	if _, err := h.ingest.IngestURL(r.Context(), req.URL, req.Domain, req.Topic, nil); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ingested", "url": req.URL})
}

func (h *handlers) ingestURLStream(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if problems := req.validate(); problems != nil {
		writeValidationError(w, problems)
		return
	}

	h.streamIngest(w, r, func(ctx context.Context, progress ingest.ProgressFunc) (ingest.Result, error) {
		return h.ingest.IngestURL(ctx, req.URL, req.Domain, req.Topic, progress)
	})
}

func (h *handlers) ingestPDF(w http.ResponseWriter, r *http.Request) {
	upload, err := h.readPDFUpload(r)
	if err != nil {
		writeError(w, err)
		return
	}

	reader := bytes.NewReader(upload.data)
	if _, err := h.ingest.IngestPDF(r.Context(), reader, int64(len(upload.data)), upload.source, upload.domain, upload.topic, nil); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ingested",
		"filename": upload.filename,
		"source":   upload.source,
	})
}

func (h *handlers) ingestPDFStream(w http.ResponseWriter, r *http.Request) {
	upload, err := h.readPDFUpload(r)
	if err != nil {
		writeError(w, err)
		return
	}

	h.streamIngest(w, r, func(ctx context.Context, progress ingest.ProgressFunc) (ingest.Result, error) {
		reader := bytes.NewReader(upload.data)
		return h.ingest.IngestPDF(ctx, reader, int64(len(upload.data)), upload.source, upload.domain, upload.topic, progress)
	})
}

// progressEvent is one SSE frame of a streaming ingest.
type progressEvent struct {
	Progress        int    `json:"progress"`
	Step            string `json:"step"`
	ChunksProcessed *int   `json:"chunks_processed,omitempty"`
	New             *int   `json:"new,omitempty"`
	Updated         *int   `json:"updated,omitempty"`
}

// streamIngest runs an ingest function while forwarding its progress
// milestones as SSE frames. The progress callback feeds a bounded
// channel, so a slow SSE consumer applies backpressure to the
// pipeline instead of queueing unbounded events.
func (h *handlers) streamIngest(w http.ResponseWriter, r *http.Request, run func(context.Context, ingest.ProgressFunc) (ingest.Result, error)) {
	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events := make(chan progressEvent, 16)
	type outcome struct {
		result ingest.Result
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer close(events)
		result, err := run(ctx, func(progress int, step string) {
			select {
			case events <- progressEvent{Progress: progress, Step: step}:
			case <-ctx.Done():
			}
		})
		done <- outcome{result: result, err: err}
	}()

	for ev := range events {
		// The final milestone is replaced below by a frame carrying counts.
		if ev.Progress >= 100 {
			continue
		}
		if err := sse.send(ev); err != nil {
			return
		}
	}

	out := <-done
	if out.err != nil {
		kind := apperr.KindOf(out.err)
		_ = sse.send(sseError{Type: "error", Message: out.err.Error(), Recoverable: apperr.Recoverable(kind)})
		return
	}

	_ = sse.send(progressEvent{
		Progress:        100,
		Step:            "Done!",
		ChunksProcessed: &out.result.ChunksProcessed,
		New:             &out.result.New,
		Updated:         &out.result.Updated,
	})
}

// ---------------------------------------------------------------------------
// Job endpoints
// ---------------------------------------------------------------------------

func (h *handlers) ingestURLJob(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if problems := req.validate(); problems != nil {
		writeValidationError(w, problems)
		return
	}

	jobID, err := h.jobs.Create(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	task := job.Task{
		JobID:  jobID,
		Kind:   job.KindURL,
		URL:    req.URL,
		Source: req.URL,
		Domain: req.Domain,
		Topic:  req.Topic,
	}
	if err := h.queue.Enqueue(r.Context(), task); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "queued", "url": req.URL, "job_id": jobID})
}

func (h *handlers) ingestFileJob(w http.ResponseWriter, r *http.Request) {
	upload, err := h.readPDFUpload(r)
	if err != nil {
		writeError(w, err)
		return
	}

	jobID, err := h.jobs.Create(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	// Persist to the shared volume under the job's ID; the worker
	// deletes it when the task finishes.
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		writeError(w, err)
		return
	}
	path := filepath.Join(h.uploadDir, jobID+".pdf")
	if err := os.WriteFile(path, upload.data, 0o600); err != nil {
		writeError(w, err)
		return
	}

	task := job.Task{
		JobID:  jobID,
		Kind:   job.KindFile,
		Path:   path,
		Source: upload.filename,
		Domain: upload.domain,
		Topic:  upload.topic,
	}
	if err := h.queue.Enqueue(r.Context(), task); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "queued", "job_id": jobID})
}

func (h *handlers) jobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")

	state, err := h.jobs.Get(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// ---------------------------------------------------------------------------
// Retrieval and ask endpoints
// ---------------------------------------------------------------------------

// retrievedPoint is the wire shape of one retrieved chunk.
type retrievedPoint struct {
	ID          string         `json:"id"`
	Score       float32        `json:"score"`
	RerankScore *float32       `json:"rerank_score,omitempty"`
	Payload     map[string]any `json:"payload"`
}

func toRetrievedPoints(points []vectorstore.ScoredPoint) []retrievedPoint {
	out := make([]retrievedPoint, len(points))
	for i, p := range points {
		out[i] = retrievedPoint{
			ID:          p.ID.String(),
			Score:       p.Score,
			RerankScore: p.RerankScore,
			Payload: map[string]any{
				"text":        p.Metadata.Text,
				"source":      p.Metadata.Source,
				"domain":      p.Metadata.Domain,
				"topic":       p.Metadata.Topic,
				"chunk_index": p.Metadata.ChunkIndex,
				"ingested_at": p.Metadata.IngestedAt,
			},
		}
	}
	return out
}

func (h *handlers) retrieve(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if problems := req.validate(); problems != nil {
		writeValidationError(w, problems)
		return
	}

	points, err := h.ask.Retrieve(r.Context(), req.Text, req.Domain, req.Topic)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "query",
		"Points": toRetrievedPoints(points),
	})
}

func (h *handlers) askQuestion(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if problems := req.validate(); problems != nil {
		writeValidationError(w, problems)
		return
	}

	resp, err := h.ask.Ask(r.Context(), sessionID(r), req.Text, req.Domain, req.Topic)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) askStream(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if problems := req.validate(); problems != nil {
		writeValidationError(w, problems)
		return
	}

	stream, err := h.ask.ChatStream(r.Context(), sessionID(r), req.Text, req.Domain, req.Topic)
	if err != nil {
		writeError(w, err)
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, err)
		return
	}

	for ev := range stream {
		if err := sse.send(ev); err != nil {
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Multipart upload handling
// ---------------------------------------------------------------------------

type pdfUpload struct {
	data     []byte
	filename string
	source   string
	domain   string
	topic    string
}

func (h *handlers) readPDFUpload(r *http.Request) (*pdfUpload, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "invalid multipart form", err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "file field is required", err)
	}
	defer file.Close()

	if !strings.HasSuffix(strings.ToLower(header.Filename), ".pdf") {
		return nil, apperr.New(apperr.KindValidation, "file must be a PDF")
	}

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "reading upload", err)
	}
	if len(data) > maxUploadBytes {
		return nil, apperr.New(apperr.KindValidation, fmt.Sprintf("upload exceeds %d bytes", maxUploadBytes))
	}

	source := strings.TrimSpace(r.FormValue("source"))
	if source == "" {
		source = header.Filename
	}

	domain := normalizeLabel(r.FormValue("domain"), "general")
	topic := normalizeLabel(r.FormValue("topic"), "unknown")
	if utf8.RuneCountInString(domain) > 50 || utf8.RuneCountInString(topic) > 50 {
		return nil, apperr.New(apperr.KindValidation, "domain and topic must be at most 50 characters")
	}

	return &pdfUpload{
		data:     data,
		filename: header.Filename,
		source:   source,
		domain:   domain,
		topic:    topic,
	}, nil
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		writeJSON(w, apperr.HTTPStatus(ae.Kind), map[string]string{
			"detail": ae.Message,
			"code":   string(ae.Kind),
		})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Internal Server Error"})
}

func writeValidationError(w http.ResponseWriter, problems map[string]string) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"detail": problems,
		"code":   string(apperr.KindValidation),
	})
}
