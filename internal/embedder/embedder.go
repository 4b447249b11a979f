// Package embedder produces the hybrid (dense + sparse) vector pair
// used for both ingestion and query-time retrieval.
package embedder

import (
	"context"
	"math"

	"github.com/knoguchi/rag/internal/apperr"
)

// Dimension is the fixed dense vector width this service stores and
// searches against. The vector store's collection is created with this
// exact size; any embedder producing a different dimension is a
// configuration error the caller must catch before ingest runs.
const Dimension = 384

// DefaultBatchSize is the default per-group size for BatchEmbed.
const DefaultBatchSize = 16

// SparseVector is a term-level lexical representation, canonicalized
// so indices are unique, strictly non-negative, and values line up
// with them positionally.
type SparseVector struct {
	Indices []uint32
	Values  []float32
}

// HybridVector pairs a dense similarity embedding with a sparse lexical one.
type HybridVector struct {
	Dense  []float32
	Sparse SparseVector
}

// Embedder produces HybridVectors for single texts and batches. The
// isQuery flag selects the asymmetric "query: " vs "passage: " prefix
// required for correct use of the underlying dense model.
type Embedder interface {
	Embed(ctx context.Context, text string, isQuery bool) (HybridVector, error)
	EmbedBatch(ctx context.Context, texts []string, isQuery bool) ([]HybridVector, error)
	Dimension() int
	ModelName() string
}

// Prefix returns the asymmetric prefix required before encoding: a
// distinct string for queries vs passages. Mixing these up silently
// degrades retrieval quality for asymmetric dense models, so every
// concrete Embedder must route single and batch calls through this.
func Prefix(isQuery bool) string {
	if isQuery {
		return "query: "
	}
	return "passage: "
}

// normalizeL2 normalizes v in place and returns it. Validates every
// component is finite first; NaN/Inf is an EMBEDDING_INVALID error.
func normalizeL2(v []float32) ([]float32, error) {
	var sumSquares float64
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, apperr.New(apperr.KindEmbeddingInvalid, "dense vector contains NaN or Inf")
		}
		sumSquares += f * f
	}
	norm := math.Sqrt(sumSquares)
	if norm == 0 {
		return v, nil
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, nil
}

// canonicalizeSparse deduplicates indices (summing colliding values) and
// sorts the result by index, so backends that return COO-style
// duplicates still satisfy the len(indices)==len(values) invariant with
// no duplicate indices.
func canonicalizeSparse(indices []uint32, values []float32) (SparseVector, error) {
	if len(indices) != len(values) {
		return SparseVector{}, apperr.New(apperr.KindEmbeddingInvalid, "sparse indices/values length mismatch")
	}
	acc := make(map[uint32]float32, len(indices))
	order := make([]uint32, 0, len(indices))
	for i, idx := range indices {
		v := values[i]
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return SparseVector{}, apperr.New(apperr.KindEmbeddingInvalid, "sparse vector contains NaN or Inf")
		}
		if _, seen := acc[idx]; !seen {
			order = append(order, idx)
		}
		acc[idx] += v
	}
	// simple insertion sort is fine here: chunk-sized vocabularies are small
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && order[j-1] > order[j]; j-- {
			order[j-1], order[j] = order[j], order[j-1]
		}
	}
	out := SparseVector{Indices: make([]uint32, len(order)), Values: make([]float32, len(order))}
	for i, idx := range order {
		out.Indices[i] = idx
		out.Values[i] = acc[idx]
	}
	return out, nil
}
