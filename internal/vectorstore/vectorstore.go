// Package vectorstore provides the hybrid (dense + sparse) vector
// store contract: collection lifecycle, fusion retrieval with
// metadata filters, point upsert/retrieve/reclaim, and reranking.
package vectorstore

import (
	"context"

	"github.com/google/uuid"
	"github.com/knoguchi/rag/internal/chunk"
	"github.com/knoguchi/rag/internal/embedder"
)

// Point is a stored unit: a deterministic ID, its hybrid vector, and
// the Chunk payload it was derived from. One-to-one with Chunk.
type Point struct {
	ID       uuid.UUID
	Vector   embedder.HybridVector
	Metadata chunk.Chunk
}

// FilterContext narrows retrieval to a domain and/or topic. An empty
// field means unfiltered on that axis — query requests that omit
// domain or topic arrive with "" for it, and stored chunks always carry
// non-empty labels, so "" unambiguously means "absent" here.
type FilterContext struct {
	Domain string
	Topic  string
}

// ScoredPoint augments a Point with a similarity score and, once
// reranked, a cross-encoder score. Callers may only set RerankScore;
// everything else is read-only once returned from the store.
type ScoredPoint struct {
	Point
	Score       float32
	RerankScore *float32
}

// Store is the hybrid vector store contract. Qdrant is the only
// concrete implementation in this repo; the interface exists so the
// ingest engine and ask orchestrator depend on a contract, not a
// client.
type Store interface {
	// EnsureCollection is idempotent; it creates the "documents"
	// collection (dense 384-dim COSINE + sparse, INT8 quantized at
	// quantile 0.99) if it does not already exist.
	EnsureCollection(ctx context.Context) error

	// Query performs hybrid fusion retrieval: dense top-limit and
	// sparse top-limit prefetches combined with Reciprocal Rank
	// Fusion, filtered by FilterContext.
	Query(ctx context.Context, vector embedder.HybridVector, limit int, filter FilterContext) ([]ScoredPoint, error)

	// Retrieve returns only the points that exist; missing IDs are
	// silently omitted from the result.
	Retrieve(ctx context.Context, ids []uuid.UUID) ([]Point, error)

	// Insert upserts points in batches of 64; idempotent per ID.
	Insert(ctx context.Context, points []Point) error

	// DeleteOld deletes all points where Metadata.Source == source and
	// Metadata.IngestedAt < before.
	DeleteOld(ctx context.Context, source string, before int64) error

	// Rerank scores (query, payload.Text) pairs and returns the top 3,
	// descending by rerank score. Implementations delegate to a
	// CrossEncoder (internal/reranker) rather than reimplementing
	// scoring themselves.
	Rerank(ctx context.Context, query string, candidates []ScoredPoint) ([]ScoredPoint, error)
}
