package job

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/knoguchi/rag/internal/ingest"
)

// TaskQueue abstracts the dispatch queue the worker drains.
type TaskQueue interface {
	Dequeue(ctx context.Context, wait time.Duration) (*Task, error)
}

// Ingestor is the slice of the ingest service the worker drives.
type Ingestor interface {
	IngestURL(ctx context.Context, url, domain, topic string, progress ingest.ProgressFunc) (ingest.Result, error)
	IngestPDFFile(ctx context.Context, path, source, domain, topic string, progress ingest.ProgressFunc) (ingest.Result, error)
}

// Worker polls the queue and runs ingest tasks, reporting progress
// through the job Service and task metrics through OpenTelemetry.
type Worker struct {
	jobs     *Service
	queue    TaskQueue
	ingestor Ingestor
	poll     time.Duration
	logger   *slog.Logger

	duration metric.Float64Histogram
	outcomes metric.Int64Counter
}

// NewWorker creates a Worker. If pollInterval <= 0, it defaults to 2s.
func NewWorker(jobs *Service, queue TaskQueue, ingestor Ingestor, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	meter := otel.Meter("rag_jobs")
	duration, _ := meter.Float64Histogram("rag_job_task_duration_seconds")
	outcomes, _ := meter.Int64Counter("rag_job_tasks_total")

	return &Worker{
		jobs:     jobs,
		queue:    queue,
		ingestor: ingestor,
		poll:     pollInterval,
		logger:   slog.Default(),
		duration: duration,
		outcomes: outcomes,
	}
}

// Run polls for tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		processed, err := w.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if processed {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single task. Returns true if a task
// was processed, regardless of its success or failure.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	task, err := w.queue.Dequeue(ctx, w.poll)
	if err != nil {
		return false, fmt.Errorf("claiming task: %w", err)
	}
	if task == nil {
		return false, nil
	}

	start := time.Now()
	taskName := string(task.Kind)
	err = w.processTask(ctx, task)

	elapsed := time.Since(start).Seconds()
	w.duration.Record(ctx, elapsed, metric.WithAttributes(attribute.String("task", taskName)))

	outcome := "success"
	if err != nil {
		outcome = "error"
		w.logger.Error("ingest_job_failed", "job_id", task.JobID, "error", err)
		if failErr := w.jobs.Fail(ctx, task.JobID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", task.JobID, "error", failErr)
		}
	}
	w.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("task", taskName),
		attribute.String("outcome", outcome),
	))
	return true, nil
}

func (w *Worker) processTask(ctx context.Context, task *Task) error {
	w.logger.Info("ingest_job_started", "job_id", task.JobID, "kind", task.Kind)

	if err := w.jobs.UpdateStatus(ctx, task.JobID, StatusRunning); err != nil {
		return err
	}
	if err := w.jobs.UpdateProgress(ctx, task.JobID, 10, "starting"); err != nil {
		return err
	}

	tracker := func(progress int, step string) {
		w.logger.Info("ingest_job_progress", "job_id", task.JobID, "progress", progress, "step", step)
		if err := w.jobs.UpdateProgress(ctx, task.JobID, progress, step); err != nil {
			w.logger.Warn("failed to record progress", "job_id", task.JobID, "error", err)
		}
	}

	var err error
	switch task.Kind {
	case KindURL:
		_, err = w.ingestor.IngestURL(ctx, task.URL, task.Domain, task.Topic, tracker)
	case KindFile:
		// The upload lives on the shared volume only for this task's
		// lifetime, success or not.
		defer func() {
			if rmErr := os.Remove(task.Path); rmErr != nil && !os.IsNotExist(rmErr) {
				w.logger.Warn("failed to remove upload", "path", task.Path, "error", rmErr)
			}
		}()
		_, err = w.ingestor.IngestPDFFile(ctx, task.Path, task.Source, task.Domain, task.Topic, tracker)
	default:
		err = fmt.Errorf("unknown task kind %q", task.Kind)
	}
	if err != nil {
		return err
	}

	if err := w.jobs.UpdateProgress(ctx, task.JobID, 100, "completed"); err != nil {
		return err
	}
	if err := w.jobs.UpdateStatus(ctx, task.JobID, StatusCompleted); err != nil {
		return err
	}

	w.logger.Info("ingest_job_success", "job_id", task.JobID)
	return nil
}
