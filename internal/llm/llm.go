// Package llm provides the LLM provider contract (chat + streaming
// chat, retry-with-jitter, token/cost accounting) that the router
// (internal/router) selects between.
package llm

import (
	"context"

	"github.com/knoguchi/rag/internal/apperr"
)

// Usage reports token counts for a single call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Cost reports the dollar cost of a single call, derived from Usage
// via the static price table (PriceFor).
type Cost struct {
	InputCost  float64
	OutputCost float64
	TotalCost  float64
}

// Response is the unified shape both streaming and non-streaming chat
// calls resolve to.
type Response struct {
	Content  string
	Usage    Usage
	Cost     Cost
	Model    string
	Provider string
}

// StreamChunk is one element of a ChatStream sequence: a content delta
// (Final and Error nil), the terminal element (Final carries the
// aggregated Response), or a terminal failure (Error set after retries
// are exhausted). At most one of Final/Error is set, and only on the
// last element sent before the channel closes.
type StreamChunk struct {
	ContentChunk string
	Final        *Response
	Error        error
}

// Provider is the common contract both PrimaryRemote (Anthropic) and
// LocalFallback (Ollama) implement.
type Provider interface {
	// Chat performs a single blocking call.
	Chat(ctx context.Context, prompt string) (Response, error)

	// ChatStream emits content deltas, then a terminal element with
	// ContentChunk == "" carrying the aggregated Response.
	ChatStream(ctx context.Context, prompt string) (<-chan StreamChunk, error)

	// Name identifies the provider for metric labels and citations.
	Name() string

	// Model reports the model string this provider is configured for.
	Model() string
}

// ModelPrice is a static per-million-token price entry.
type ModelPrice struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// PriceTable maps model name to its static price entry. Unknown models
// fail CostFor with PRICING_UNCONFIGURED.
var PriceTable = map[string]ModelPrice{
	"claude-3-7-sonnet-latest": {InputPerMillion: 3.00, OutputPerMillion: 15.00},
	"claude-3-5-haiku-latest":  {InputPerMillion: 0.80, OutputPerMillion: 4.00},
	"claude-opus-4-latest":     {InputPerMillion: 15.00, OutputPerMillion: 75.00},
	"llama3.2":                 {InputPerMillion: 0, OutputPerMillion: 0},
}

// CostFor derives Cost from Usage via PriceTable.
func CostFor(model string, usage Usage) (Cost, error) {
	price, ok := PriceTable[model]
	if !ok {
		return Cost{}, apperr.New(apperr.KindPricingUnconfigured, "no price entry for model "+model)
	}
	input := float64(usage.PromptTokens) / 1_000_000 * price.InputPerMillion
	output := float64(usage.CompletionTokens) / 1_000_000 * price.OutputPerMillion
	return Cost{InputCost: input, OutputCost: output, TotalCost: input + output}, nil
}

// EstimateTokens approximates token count as len(text)/4, used when a
// provider doesn't report usage itself.
func EstimateTokens(text string) int {
	return len(text) / 4
}
