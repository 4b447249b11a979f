// Package reranker scores (query, chunk) pairs with a cross-encoder and
// reorders/truncates the candidate set to a small top-k.
//
// Re-ranking uses cross-encoder scoring to improve retrieval precision by
// evaluating query-document pairs together rather than independently.
//
// # Trade-offs
//
//   - Latency: adds a scoring pass over every retrieved candidate.
//   - Quality: significantly better relevance when top-k vector results
//     have similar scores.
//
// This repo ships one concrete CrossEncoder (a local lexical-overlap
// scorer, internal/reranker/lexical.go); the contract point an
// HTTP-based cross-encoder service would plug into is CrossEncoder
// itself, not this package's sort/truncate logic.
package reranker

import (
	"context"
	"sort"
)

// Item is the minimal (id, text) pair the reranker scores. Callers
// adapt their own domain types (e.g. vectorstore.ScoredPoint) to and
// from Item at the boundary, which keeps this package free of a
// dependency on the vector store.
type Item struct {
	ID   string
	Text string
}

// Scored pairs an Item with its cross-encoder score.
type Scored struct {
	Item
	Score float32
}

// CrossEncoder scores a query against a batch of candidate texts,
// returning one score per input text in the same order.
type CrossEncoder interface {
	Score(ctx context.Context, query string, texts []string) ([]float32, error)
}

// Reranker composes a CrossEncoder with the sort/truncate step that
// turns raw pair scores into a final top-k ordering.
type Reranker struct {
	encoder CrossEncoder
}

// New creates a Reranker backed by the given CrossEncoder.
func New(encoder CrossEncoder) *Reranker {
	return &Reranker{encoder: encoder}
}

// Rerank scores every item against query, sorts descending by score,
// and returns the top topK.
func (r *Reranker) Rerank(ctx context.Context, query string, items []Item, topK int) ([]Scored, error) {
	if len(items) == 0 {
		return nil, nil
	}

	texts := make([]string, len(items))
	for i, it := range items {
		texts[i] = it.Text
	}

	scores, err := r.encoder.Score(ctx, query, texts)
	if err != nil {
		return nil, err
	}

	scored := make([]Scored, len(items))
	for i, it := range items {
		scored[i] = Scored{Item: it, Score: scores[i]}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}
