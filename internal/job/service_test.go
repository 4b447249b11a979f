package job

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knoguchi/rag/internal/apperr"
)

// memStateStore is an in-memory StateStore for tests.
type memStateStore struct {
	states map[string]State
}

func newMemStateStore() *memStateStore {
	return &memStateStore{states: make(map[string]State)}
}

func (m *memStateStore) Get(_ context.Context, jobID string) (State, error) {
	s, ok := m.states[jobID]
	if !ok {
		return State{}, apperr.New(apperr.KindJobNotFound, "job "+jobID+" not found")
	}
	return s, nil
}

func (m *memStateStore) Set(_ context.Context, state State) error {
	m.states[state.JobID] = state
	return nil
}

func TestCreateInitialState(t *testing.T) {
	store := newMemStateStore()
	svc := NewService(store, nil)

	id, err := svc.Create(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	state, err := svc.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, state.Status)
	assert.Equal(t, 0, state.Progress)
	assert.Equal(t, state.CreatedAt, state.UpdatedAt)
}

func TestLifecycleTransitions(t *testing.T) {
	store := newMemStateStore()
	svc := NewService(store, nil)
	svc.now = func() time.Time { return time.Unix(1000, 0) }

	id, err := svc.Create(context.Background())
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Unix(2000, 0) }
	require.NoError(t, svc.UpdateStatus(context.Background(), id, StatusRunning))
	require.NoError(t, svc.UpdateProgress(context.Background(), id, 60, "Generating embeddings..."))

	state, err := svc.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, state.Status)
	assert.Equal(t, 60, state.Progress)
	assert.Equal(t, "Generating embeddings...", state.Step)
	assert.Equal(t, time.Unix(2000, 0), state.UpdatedAt)
	assert.Equal(t, time.Unix(1000, 0), state.CreatedAt)

	require.NoError(t, svc.UpdateProgress(context.Background(), id, 100, "completed"))
	require.NoError(t, svc.UpdateStatus(context.Background(), id, StatusCompleted))

	state, err = svc.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, state.Status)
	assert.Equal(t, 100, state.Progress)
}

func TestFailSetsError(t *testing.T) {
	store := newMemStateStore()
	svc := NewService(store, nil)

	id, err := svc.Create(context.Background())
	require.NoError(t, err)

	require.NoError(t, svc.Fail(context.Background(), id, "embedding timed out"))

	state, err := svc.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, state.Status)
	assert.Equal(t, "embedding timed out", state.Error)
}

func TestGetUnknownJob(t *testing.T) {
	svc := NewService(newMemStateStore(), nil)

	_, err := svc.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, apperr.KindJobNotFound, apperr.KindOf(err))
}

func TestProgressKeepsStepWhenEmpty(t *testing.T) {
	store := newMemStateStore()
	svc := NewService(store, nil)

	id, err := svc.Create(context.Background())
	require.NoError(t, err)

	require.NoError(t, svc.UpdateProgress(context.Background(), id, 50, "Analyzing chunks..."))
	require.NoError(t, svc.UpdateProgress(context.Background(), id, 55, ""))

	state, err := svc.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 55, state.Progress)
	assert.Equal(t, "Analyzing chunks...", state.Step)
}
