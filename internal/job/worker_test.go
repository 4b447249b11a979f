package job

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knoguchi/rag/internal/ingest"
)

// memQueue hands out tasks from a slice, then reports empty.
type memQueue struct {
	tasks []Task
}

func (q *memQueue) Dequeue(context.Context, time.Duration) (*Task, error) {
	if len(q.tasks) == 0 {
		return nil, nil
	}
	task := q.tasks[0]
	q.tasks = q.tasks[1:]
	return &task, nil
}

type fakeIngestor struct {
	urlCalls  []string
	fileCalls []string
	err       error
}

func (f *fakeIngestor) IngestURL(_ context.Context, url, _, _ string, progress ingest.ProgressFunc) (ingest.Result, error) {
	f.urlCalls = append(f.urlCalls, url)
	if f.err != nil {
		return ingest.Result{}, f.err
	}
	if progress != nil {
		progress(50, "Analyzing chunks...")
		progress(95, "Storing in vector database...")
	}
	return ingest.Result{ChunksProcessed: 3, New: 3}, nil
}

func (f *fakeIngestor) IngestPDFFile(_ context.Context, path, _, _, _ string, _ ingest.ProgressFunc) (ingest.Result, error) {
	f.fileCalls = append(f.fileCalls, path)
	return ingest.Result{ChunksProcessed: 1, New: 1}, f.err
}

func TestRunOnceEmptyQueue(t *testing.T) {
	svc := NewService(newMemStateStore(), nil)
	w := NewWorker(svc, &memQueue{}, &fakeIngestor{}, time.Millisecond)

	processed, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestRunOnceURLTaskCompletes(t *testing.T) {
	store := newMemStateStore()
	svc := NewService(store, nil)

	jobID, err := svc.Create(context.Background())
	require.NoError(t, err)

	queue := &memQueue{tasks: []Task{{
		JobID: jobID, Kind: KindURL,
		URL: "https://example.com/doc", Source: "https://example.com/doc",
		Domain: "d", Topic: "t",
	}}}
	ingestor := &fakeIngestor{}
	w := NewWorker(svc, queue, ingestor, time.Millisecond)

	processed, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, []string{"https://example.com/doc"}, ingestor.urlCalls)

	state, err := svc.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, state.Status)
	assert.Equal(t, 100, state.Progress)
}

func TestRunOnceFailureMarksJobFailed(t *testing.T) {
	store := newMemStateStore()
	svc := NewService(store, nil)

	jobID, err := svc.Create(context.Background())
	require.NoError(t, err)

	queue := &memQueue{tasks: []Task{{JobID: jobID, Kind: KindURL, URL: "https://example.com"}}}
	ingestor := &fakeIngestor{err: errors.New("fetch exploded")}
	w := NewWorker(svc, queue, ingestor, time.Millisecond)

	processed, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	state, err := svc.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, state.Status)
	assert.Equal(t, "fetch exploded", state.Error)
}

func TestRunOnceFileTaskRemovesUpload(t *testing.T) {
	store := newMemStateStore()
	svc := NewService(store, nil)

	jobID, err := svc.Create(context.Background())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), jobID+".pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o600))

	queue := &memQueue{tasks: []Task{{
		JobID: jobID, Kind: KindFile,
		Path: path, Source: "report.pdf", Domain: "d", Topic: "t",
	}}}
	ingestor := &fakeIngestor{}
	w := NewWorker(svc, queue, ingestor, time.Millisecond)

	processed, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, []string{path}, ingestor.fileCalls)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "upload should be deleted after the task")
}

func TestRunOnceFileTaskRemovesUploadOnFailure(t *testing.T) {
	store := newMemStateStore()
	svc := NewService(store, nil)

	jobID, err := svc.Create(context.Background())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), jobID+".pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o600))

	queue := &memQueue{tasks: []Task{{JobID: jobID, Kind: KindFile, Path: path}}}
	ingestor := &fakeIngestor{err: errors.New("bad pdf")}
	w := NewWorker(svc, queue, ingestor, time.Millisecond)

	_, err = w.RunOnce(context.Background())
	require.NoError(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "upload should be deleted even when the task fails")

	state, err := svc.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, state.Status)
}
