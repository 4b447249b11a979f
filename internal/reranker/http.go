package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// HTTPCrossEncoder scores against a cross-encoder model served behind
// HTTP, e.g. a sentence-transformers reranker deployed as its own
// process. It is not wired into any default service graph in this
// repo — operators substitute it for LexicalCrossEncoder when a
// trained reranker is available.
type HTTPCrossEncoder struct {
	baseURL string
	client  *http.Client
}

// NewHTTPCrossEncoder creates a CrossEncoder backed by a remote scoring endpoint.
func NewHTTPCrossEncoder(baseURL string, client *http.Client) *HTTPCrossEncoder {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPCrossEncoder{baseURL: baseURL, client: client}
}

type httpScoreRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

type httpScoreResponse struct {
	Scores []float32 `json:"scores"`
}

// Score POSTs {query, texts} to baseURL+"/score" and expects {scores}
// back in the same order as texts.
func (e *HTTPCrossEncoder) Score(ctx context.Context, query string, texts []string) ([]float32, error) {
	body, err := json.Marshal(httpScoreRequest{Query: query, Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/score", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank endpoint returned status %d", resp.StatusCode)
	}

	var parsed httpScoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}
	if len(parsed.Scores) != len(texts) {
		return nil, fmt.Errorf("rerank endpoint returned %d scores for %d texts", len(parsed.Scores), len(texts))
	}
	return parsed.Scores, nil
}

var _ CrossEncoder = (*HTTPCrossEncoder)(nil)
