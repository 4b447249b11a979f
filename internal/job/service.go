package job

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// StateStore is the persistence contract the Service mutates through.
// RedisStore is the production implementation.
type StateStore interface {
	Get(ctx context.Context, jobID string) (State, error)
	Set(ctx context.Context, state State) error
}

// Auditor receives every state transition as an append-only event.
// The *Audit implementation is nil-safe, so a Service may carry a nil
// auditor when no database is configured.
type Auditor interface {
	Record(ctx context.Context, state State) error
}

// Service owns JobState transitions. Workers mutate job state through
// it only; all writes are whole-document read-modify-write.
type Service struct {
	store StateStore
	audit Auditor
	now   func() time.Time
}

// NewService creates a Service over the given store. audit may be nil.
func NewService(store StateStore, audit Auditor) *Service {
	return &Service{store: store, audit: audit, now: time.Now}
}

// Create allocates a job ID and persists the initial queued state.
func (s *Service) Create(ctx context.Context) (string, error) {
	now := s.now()
	state := State{
		JobID:     uuid.NewString(),
		Status:    StatusQueued,
		Step:      "queued",
		Progress:  0,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Set(ctx, state); err != nil {
		return "", err
	}
	s.recordAudit(ctx, state)
	return state.JobID, nil
}

// Get reads a job's current state.
func (s *Service) Get(ctx context.Context, jobID string) (State, error) {
	return s.store.Get(ctx, jobID)
}

// UpdateStatus transitions a job to the given status.
func (s *Service) UpdateStatus(ctx context.Context, jobID string, status Status) error {
	return s.mutate(ctx, jobID, func(state *State) {
		state.Status = status
	})
}

// UpdateProgress records progress and the step a job is on.
func (s *Service) UpdateProgress(ctx context.Context, jobID string, progress int, step string) error {
	return s.mutate(ctx, jobID, func(state *State) {
		state.Progress = progress
		if step != "" {
			state.Step = step
		}
	})
}

// Fail marks a job failed with the given error message.
func (s *Service) Fail(ctx context.Context, jobID string, errMsg string) error {
	return s.mutate(ctx, jobID, func(state *State) {
		state.Status = StatusFailed
		state.Error = errMsg
	})
}

func (s *Service) mutate(ctx context.Context, jobID string, apply func(*State)) error {
	state, err := s.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	apply(&state)
	state.UpdatedAt = s.now()
	if err := s.store.Set(ctx, state); err != nil {
		return err
	}
	s.recordAudit(ctx, state)
	return nil
}

func (s *Service) recordAudit(ctx context.Context, state State) {
	if s.audit == nil {
		return
	}
	// The audit trail is a secondary observer; its failures never fail
	// the job transition itself.
	_ = s.audit.Record(ctx, state)
}
