// Package ingest implements the chunk-identity ingest engine: it
// diffs incoming chunks against the vector store by deterministic ID,
// embeds only what is new, reclaims stale versions of the same source,
// and re-stamps what survives.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/knoguchi/rag/internal/apperr"
	"github.com/knoguchi/rag/internal/chunk"
	"github.com/knoguchi/rag/internal/embedder"
	"github.com/knoguchi/rag/internal/vectorstore"
)

// EmbedBatchSize is how many new chunks are embedded per batch.
const EmbedBatchSize = 20

// Result summarizes one ingest run.
type Result struct {
	ChunksProcessed int `json:"chunks_processed"`
	New             int `json:"new"`
	Updated         int `json:"updated"`
}

// ProgressFunc receives milestone progress updates during an ingest
// run. Implementations must be fast or buffered; the engine calls it
// inline between pipeline steps.
type ProgressFunc func(progress int, step string)

// Engine diffs, embeds, and stores chunks against the vector store.
type Engine struct {
	embedder embedder.Embedder
	store    vectorstore.Store
	now      func() time.Time
}

// NewEngine creates an Engine over the given embedder and store.
func NewEngine(e embedder.Embedder, s vectorstore.Store) *Engine {
	return &Engine{embedder: e, store: s, now: time.Now}
}

// newChunk pairs a chunk's text with its deterministic ID and its
// original position in the input list.
type newChunk struct {
	id    uuid.UUID
	text  string
	index int
}

// Ingest runs the full incremental-ingest algorithm for one source:
//
//  1. compute deterministic IDs for every chunk,
//  2. classify against the store (new vs existing),
//  3. fix a single write timestamp T for the whole run,
//  4. reclaim points from prior ingests of this source (ingested_at < T),
//  5. embed new chunks in batches with a per-batch timeout,
//  6. upsert new points carrying the original chunk_index,
//  7. re-upsert existing points with ingested_at = T so the reclaim in
//     a future run never removes a chunk the caller still asserts.
//
// An empty input is a no-op returning zeros. Calling Ingest twice with
// identical inputs converges on the same stored state.
func (e *Engine) Ingest(ctx context.Context, texts []string, source, domain, topic string, progress ProgressFunc) (Result, error) {
	if len(texts) == 0 {
		return Result{}, nil
	}
	report := func(pct int, step string) {
		if progress != nil {
			progress(pct, step)
		}
	}

	report(50, "Analyzing chunks...")

	ids := make([]uuid.UUID, len(texts))
	for i, text := range texts {
		ids[i] = chunk.ID(text, source)
	}

	existing, err := e.store.Retrieve(ctx, ids)
	if err != nil {
		return Result{}, err
	}
	present := make(map[uuid.UUID]bool, len(existing))
	for _, p := range existing {
		present[p.ID] = true
	}

	var news []newChunk
	for i, text := range texts {
		if !present[ids[i]] {
			news = append(news, newChunk{id: ids[i], text: text, index: i})
		}
	}

	report(55, fmt.Sprintf("Found %d new, %d existing chunks", len(news), len(existing)))

	t := e.now().Unix()

	// Reclaim first: drop every point from prior ingests of this source
	// before anything is written, so at most one version per ID exists
	// from here on.
	if len(existing) > 0 {
		if err := e.store.DeleteOld(ctx, source, t); err != nil {
			return Result{}, err
		}
	}

	if len(news) > 0 {
		report(60, "Generating embeddings...")
		if err := e.embedNew(ctx, news, source, domain, topic, t, report); err != nil {
			return Result{}, err
		}
	}

	if len(existing) > 0 {
		report(85, "Updating existing chunks...")
		touched := make([]vectorstore.Point, len(existing))
		for i, p := range existing {
			p.Metadata.IngestedAt = t
			touched[i] = p
		}

		report(95, "Storing in vector database...")
		if err := e.store.Insert(ctx, touched); err != nil {
			return Result{}, err
		}
	}

	return Result{ChunksProcessed: len(texts), New: len(news), Updated: len(existing)}, nil
}

// embedNew embeds and upserts new chunks in batches of EmbedBatchSize,
// in input order. Each batch is awaited with its own computed timeout.
func (e *Engine) embedNew(ctx context.Context, news []newChunk, source, domain, topic string, t int64, report ProgressFunc) error {
	for start := 0; start < len(news); start += EmbedBatchSize {
		end := start + EmbedBatchSize
		if end > len(news) {
			end = len(news)
		}
		batch := news[start:end]

		vectors, err := e.embedBatch(ctx, batch)
		if err != nil {
			return err
		}
		if len(vectors) != len(batch) {
			return apperr.New(apperr.KindEmbeddingMismatch,
				fmt.Sprintf("expected %d vectors, got %d", len(batch), len(vectors)))
		}

		points := make([]vectorstore.Point, len(batch))
		for i, nc := range batch {
			points[i] = vectorstore.Point{
				ID:     nc.id,
				Vector: vectors[i],
				Metadata: chunk.Chunk{
					Text:       nc.text,
					Source:     source,
					Domain:     strings.ToLower(domain),
					Topic:      strings.ToLower(topic),
					ChunkIndex: nc.index,
					IngestedAt: t,
				},
			}
		}

		if err := e.store.Insert(ctx, points); err != nil {
			return err
		}

		report(60, fmt.Sprintf("Ingested batch %d of %d...", start/EmbedBatchSize+1, (len(news)+EmbedBatchSize-1)/EmbedBatchSize))
	}
	return nil
}

// embedBatch offloads one batch to the embedder and awaits it with the
// computed per-batch timeout: max(60s, estimated_time * 2), where
// estimated_time is half a second per chunk.
func (e *Engine) embedBatch(ctx context.Context, batch []newChunk) ([]embedder.HybridVector, error) {
	estimated := time.Duration(len(batch)) * 500 * time.Millisecond
	timeout := 2 * estimated
	if timeout < 60*time.Second {
		timeout = 60 * time.Second
	}

	texts := make([]string, len(batch))
	for i, nc := range batch {
		texts[i] = nc.text
	}

	embedCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		vectors []embedder.HybridVector
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		vectors, err := e.embedder.EmbedBatch(embedCtx, texts, false)
		done <- outcome{vectors: vectors, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, out.err
		}
		return out.vectors, nil
	case <-embedCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperr.New(apperr.KindEmbeddingTimeout,
			fmt.Sprintf("embedding timed out after %.1f minutes", timeout.Minutes()))
	}
}
