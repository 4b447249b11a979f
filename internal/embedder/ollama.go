package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/knoguchi/rag/internal/apperr"
)

const (
	// DefaultOllamaBaseURL is the default Ollama API base URL.
	DefaultOllamaBaseURL = "http://localhost:11434"

	// DefaultOllamaModel is the default embedding model.
	DefaultOllamaModel = "all-minilm"
)

// Config holds configuration for the hybrid Ollama-backed embedder.
type Config struct {
	// BaseURL is the Ollama API base URL (default: http://localhost:11434).
	BaseURL string

	// Model is the dense embedding model to use.
	Model string

	// BatchSize caps how many texts a single BatchEmbed call dispatches
	// per round-trip group. Defaults to DefaultBatchSize.
	BatchSize int

	// BatchConcurrency bounds how many embed requests are in flight at
	// once. The process-wide default is 1 so the numeric backend is
	// never oversubscribed; callers that want batch fan-out raise this
	// explicitly.
	BatchConcurrency int

	// SparseDimension sizes the term-hashing index space (internal/embedder/sparse.go).
	SparseDimension uint32

	// HTTPClient is an optional custom HTTP client.
	HTTPClient *http.Client
}

// HybridEmbedder implements Embedder: dense vectors come from an Ollama
// embeddings endpoint, sparse vectors from a deterministic term-hashing
// vectorizer (internal/embedder/sparse.go) wrapped into the same pair.
type HybridEmbedder struct {
	baseURL   string
	model     string
	batchSize int
	sem       chan struct{}
	sparse    *SparseVectorizer
	client    *http.Client
}

// NewHybridEmbedder creates a new hybrid embedder with the given configuration.
func NewHybridEmbedder(cfg Config) *HybridEmbedder {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultOllamaBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOllamaModel
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	concurrency := cfg.BatchConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	sparseDim := cfg.SparseDimension
	if sparseDim == 0 {
		sparseDim = DefaultSparseDimension
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	return &HybridEmbedder{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		model:     model,
		batchSize: batchSize,
		sem:       make(chan struct{}, concurrency),
		sparse:    NewSparseVectorizer(sparseDim),
		client:    client,
	}
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed produces the HybridVector for a single text, prefixed
// "query: " or "passage: " per the isQuery flag.
func (e *HybridEmbedder) Embed(ctx context.Context, text string, isQuery bool) (HybridVector, error) {
	dense, err := e.embedDense(ctx, Prefix(isQuery)+text)
	if err != nil {
		return HybridVector{}, err
	}
	dense, err = normalizeL2(dense)
	if err != nil {
		return HybridVector{}, err
	}
	sparse := e.sparse.Vectorize(text)
	return HybridVector{Dense: dense, Sparse: sparse}, nil
}

// EmbedBatch produces HybridVectors for texts in the same order as the
// input, internally fanning out in groups of e.batchSize with bounded
// concurrency (e.sem).
func (e *HybridEmbedder) EmbedBatch(ctx context.Context, texts []string, isQuery bool) ([]HybridVector, error) {
	if len(texts) == 0 {
		return nil, apperr.New(apperr.KindEmbeddingEmpty, "batch_embed called with no texts")
	}

	out := make([]HybridVector, len(texts))
	errs := make([]error, len(texts))

	var wg sync.WaitGroup
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				select {
				case e.sem <- struct{}{}:
					defer func() { <-e.sem }()
				case <-ctx.Done():
					errs[idx] = ctx.Err()
					return
				}
				v, err := e.Embed(ctx, texts[idx], isQuery)
				if err != nil {
					errs[idx] = err
					return
				}
				out[idx] = v
			}(i)
		}
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, apperr.Wrap(apperr.KindEmbeddingEncoding, "batch embedding failed", err)
		}
	}
	if len(out) != len(texts) {
		return nil, apperr.New(apperr.KindEmbeddingMismatch, "produced vector count differs from input count")
	}
	return out, nil
}

func (e *HybridEmbedder) embedDense(ctx context.Context, prompt string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Prompt: prompt})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindEmbeddingEncoding, "marshal embed request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindEmbeddingEncoding, "build embed request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindEmbeddingEncoding, "embed request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, apperr.New(apperr.KindEmbeddingEncoding, fmt.Sprintf("embed endpoint returned %d: %s", resp.StatusCode, string(respBody)))
	}

	var parsed ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apperr.Wrap(apperr.KindEmbeddingEncoding, "decode embed response", err)
	}
	if len(parsed.Embedding) == 0 {
		return nil, apperr.New(apperr.KindEmbeddingEncoding, "embed endpoint returned an empty vector")
	}

	dense := make([]float32, len(parsed.Embedding))
	for i, v := range parsed.Embedding {
		dense[i] = float32(v)
	}
	return dense, nil
}

// Dimension reports the dense vector width this service stores and searches.
func (e *HybridEmbedder) Dimension() int { return Dimension }

// ModelName reports the configured dense model.
func (e *HybridEmbedder) ModelName() string { return e.model }

var _ Embedder = (*HybridEmbedder)(nil)
