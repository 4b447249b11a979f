package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knoguchi/rag/internal/chunk"
	"github.com/knoguchi/rag/internal/embedder"
	"github.com/knoguchi/rag/internal/vectorstore"
)

// fakeEmbedder produces a deterministic vector per text.
type fakeEmbedder struct {
	calls int
}

func (f *fakeEmbedder) Embed(_ context.Context, text string, _ bool) (embedder.HybridVector, error) {
	dense := make([]float32, embedder.Dimension)
	for i := range dense {
		dense[i] = float32(len(text)%7) / 7
	}
	return embedder.HybridVector{Dense: dense, Sparse: embedder.SparseVector{Indices: []uint32{1}, Values: []float32{1}}}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string, isQuery bool) ([]embedder.HybridVector, error) {
	f.calls++
	out := make([]embedder.HybridVector, len(texts))
	for i, t := range texts {
		v, _ := f.Embed(ctx, t, isQuery)
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int    { return embedder.Dimension }
func (f *fakeEmbedder) ModelName() string { return "fake" }

// memStore is an in-memory vectorstore.Store covering what the engine uses.
type memStore struct {
	points map[uuid.UUID]vectorstore.Point
}

func newMemStore() *memStore {
	return &memStore{points: make(map[uuid.UUID]vectorstore.Point)}
}

func (m *memStore) EnsureCollection(context.Context) error { return nil }

func (m *memStore) Query(context.Context, embedder.HybridVector, int, vectorstore.FilterContext) ([]vectorstore.ScoredPoint, error) {
	return nil, nil
}

func (m *memStore) Retrieve(_ context.Context, ids []uuid.UUID) ([]vectorstore.Point, error) {
	var out []vectorstore.Point
	for _, id := range ids {
		if p, ok := m.points[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) Insert(_ context.Context, points []vectorstore.Point) error {
	for _, p := range points {
		m.points[p.ID] = p
	}
	return nil
}

func (m *memStore) DeleteOld(_ context.Context, source string, before int64) error {
	for id, p := range m.points {
		if p.Metadata.Source == source && p.Metadata.IngestedAt < before {
			delete(m.points, id)
		}
	}
	return nil
}

func (m *memStore) Rerank(context.Context, string, []vectorstore.ScoredPoint) ([]vectorstore.ScoredPoint, error) {
	return nil, nil
}

func engineAt(store *memStore, emb embedder.Embedder, unix int64) *Engine {
	e := NewEngine(emb, store)
	e.now = func() time.Time { return time.Unix(unix, 0) }
	return e
}

func TestIngestEmptyInputIsNoOp(t *testing.T) {
	store := newMemStore()
	e := engineAt(store, &fakeEmbedder{}, 1000)

	res, err := e.Ingest(context.Background(), nil, "src", "d", "t", nil)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Empty(t, store.points)
}

func TestIngestIdempotent(t *testing.T) {
	store := newMemStore()
	texts := []string{"alpha chunk", "beta chunk", "gamma chunk"}

	first, err := engineAt(store, &fakeEmbedder{}, 1000).Ingest(context.Background(), texts, "src", "D", "T", nil)
	require.NoError(t, err)
	assert.Equal(t, Result{ChunksProcessed: 3, New: 3, Updated: 0}, first)

	second, err := engineAt(store, &fakeEmbedder{}, 2000).Ingest(context.Background(), texts, "src", "D", "T", nil)
	require.NoError(t, err)
	assert.Equal(t, Result{ChunksProcessed: 3, New: 0, Updated: 3}, second)

	require.Len(t, store.points, 3)
	for _, text := range texts {
		p, ok := store.points[chunk.ID(text, "src")]
		require.True(t, ok)
		assert.Equal(t, text, p.Metadata.Text)
		assert.Equal(t, int64(2000), p.Metadata.IngestedAt)
		assert.Equal(t, "d", p.Metadata.Domain)
		assert.Equal(t, "t", p.Metadata.Topic)
	}
}

func TestReIngestReclaimsRemovedChunks(t *testing.T) {
	store := newMemStore()
	v1 := []string{"one", "two", "three", "four"}
	v2 := []string{"one", "two", "five"}

	_, err := engineAt(store, &fakeEmbedder{}, 1000).Ingest(context.Background(), v1, "src", "d", "t", nil)
	require.NoError(t, err)
	require.Len(t, store.points, 4)

	res, err := engineAt(store, &fakeEmbedder{}, 2000).Ingest(context.Background(), v2, "src", "d", "t", nil)
	require.NoError(t, err)
	assert.Equal(t, Result{ChunksProcessed: 3, New: 1, Updated: 2}, res)

	require.Len(t, store.points, 3)
	for _, text := range v2 {
		_, ok := store.points[chunk.ID(text, "src")]
		assert.True(t, ok, "expected %q to survive", text)
	}
	_, gone := store.points[chunk.ID("three", "src")]
	assert.False(t, gone, "removed chunk should have been reclaimed")
}

func TestIngestPreservesChunkIndex(t *testing.T) {
	store := newMemStore()
	texts := []string{"zero", "one", "two", "three", "four"}

	// Pre-seed chunks "zero", "one" and "two" so the run has a new/existing mix.
	_, err := engineAt(store, &fakeEmbedder{}, 500).Ingest(context.Background(), []string{"zero", "one", "two"}, "src", "d", "t", nil)
	require.NoError(t, err)

	_, err = engineAt(store, &fakeEmbedder{}, 1000).Ingest(context.Background(), texts, "src", "d", "t", nil)
	require.NoError(t, err)

	for i, text := range texts {
		p, ok := store.points[chunk.ID(text, "src")]
		require.True(t, ok)
		assert.Equal(t, i, p.Metadata.ChunkIndex, "chunk %q", text)
		assert.Equal(t, int64(1000), p.Metadata.IngestedAt, "chunk %q", text)
	}
}

func TestIngestProgressMilestones(t *testing.T) {
	store := newMemStore()
	var milestones []int
	progress := func(pct int, _ string) { milestones = append(milestones, pct) }

	_, err := engineAt(store, &fakeEmbedder{}, 1000).Ingest(context.Background(), []string{"a chunk"}, "src", "d", "t", progress)
	require.NoError(t, err)
	assert.Equal(t, []int{50, 55, 60, 60}, milestones)
}

// mismatchEmbedder drops a vector to trigger the count check.
type mismatchEmbedder struct{ fakeEmbedder }

func (m *mismatchEmbedder) EmbedBatch(ctx context.Context, texts []string, isQuery bool) ([]embedder.HybridVector, error) {
	out, err := m.fakeEmbedder.EmbedBatch(ctx, texts, isQuery)
	if err != nil || len(out) == 0 {
		return out, err
	}
	return out[:len(out)-1], nil
}

func TestIngestEmbedMismatchAborts(t *testing.T) {
	store := newMemStore()
	e := engineAt(store, &mismatchEmbedder{}, 1000)

	_, err := e.Ingest(context.Background(), []string{"a", "b"}, "src", "d", "t", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EMBEDDING_MISMATCH")
	assert.Empty(t, store.points, "no partial upsert on mismatch")
}
