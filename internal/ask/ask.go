// Package ask orchestrates the question-answering pipeline: embed the
// question, retrieve and rerank context from the vector store, render
// a prompt, call the LLM router, and assemble the answer with
// citations and cost metadata — blocking or streamed.
package ask

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/knoguchi/rag/internal/cost"
	"github.com/knoguchi/rag/internal/embedder"
	"github.com/knoguchi/rag/internal/llm"
	"github.com/knoguchi/rag/internal/vectorstore"
)

// NoInfoAnswer is returned when retrieval finds nothing to ground an
// answer on; the LLM is not called in that case.
const NoInfoAnswer = "I don't have enough information to answer that question."

// DefaultQueryLimit is how many candidates hybrid retrieval returns
// before reranking narrows them down.
const DefaultQueryLimit = 20

// Citation points back at a source document.
type Citation struct {
	Source     string `json:"source"`
	ChunkIndex int    `json:"chunk_index"`
}

// Metadata carries token/cost accounting for one answered question.
type Metadata struct {
	Tokens int     `json:"tokens"`
	Cost   float64 `json:"cost"`
}

// QueryResponse is the non-streaming answer shape.
type QueryResponse struct {
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
	Metadata  Metadata   `json:"metadata"`
}

// Event is one server-sent frame of a streamed answer. Type is one of
// content, citations, metadata, done, error; the other fields are set
// per type.
type Event struct {
	Type      string     `json:"type"`
	Content   string     `json:"content,omitempty"`
	Citations []Citation `json:"citations,omitempty"`
	Tokens    int        `json:"tokens,omitempty"`
	Cost      float64    `json:"cost,omitempty"`
	Model     string     `json:"model,omitempty"`
}

// ChatClient is the slice of the LLM router the orchestrator needs.
type ChatClient interface {
	Chat(ctx context.Context, prompt string) (llm.Response, error)
	ChatStream(ctx context.Context, prompt string) (<-chan llm.StreamChunk, error)
}

// Orchestrator runs the retrieve-rerank-generate pipeline.
type Orchestrator struct {
	embedder   embedder.Embedder
	store      vectorstore.Store
	chat       ChatClient
	costs      *cost.Tracker
	logger     *slog.Logger
	queryLimit int
}

// New creates an Orchestrator. queryLimit <= 0 uses DefaultQueryLimit.
func New(e embedder.Embedder, s vectorstore.Store, chat ChatClient, costs *cost.Tracker, logger *slog.Logger, queryLimit int) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if queryLimit <= 0 {
		queryLimit = DefaultQueryLimit
	}
	return &Orchestrator{
		embedder:   e,
		store:      s,
		chat:       chat,
		costs:      costs,
		logger:     logger,
		queryLimit: queryLimit,
	}
}

// Retrieve embeds text as a query and runs hybrid retrieval with the
// given domain/topic filter. This backs both the pipeline below and
// the raw /retrieve endpoint.
func (o *Orchestrator) Retrieve(ctx context.Context, text, domain, topic string) ([]vectorstore.ScoredPoint, error) {
	vector, err := o.embedder.Embed(ctx, text, true)
	if err != nil {
		return nil, err
	}
	filter := vectorstore.FilterContext{
		Domain: strings.ToLower(domain),
		Topic:  strings.ToLower(topic),
	}
	return o.store.Query(ctx, vector, o.queryLimit, filter)
}

// Ask answers a question in one blocking call.
func (o *Orchestrator) Ask(ctx context.Context, sessionID, question, domain, topic string) (QueryResponse, error) {
	hits, err := o.Retrieve(ctx, question, domain, topic)
	if err != nil {
		return QueryResponse{}, err
	}
	if len(hits) == 0 {
		o.logger.Info("no_rag_results", "domain", domain, "topic", topic, "question", question)
		return QueryResponse{
			Answer:    NoInfoAnswer,
			Citations: []Citation{},
			Metadata:  Metadata{},
		}, nil
	}

	reranked, err := o.store.Rerank(ctx, question, hits)
	if err != nil {
		return QueryResponse{}, err
	}

	resp, err := o.chat.Chat(ctx, renderJSONPrompt(reranked, question))
	if err != nil {
		return QueryResponse{}, err
	}

	// Degrade silently when the model didn't produce the JSON envelope.
	answer := resp.Content
	var parsed struct {
		Answer string `json:"answer"`
	}
	if err := json.Unmarshal([]byte(resp.Content), &parsed); err == nil && parsed.Answer != "" {
		answer = parsed.Answer
	}

	o.logLLMUsage(resp, false)
	if o.costs != nil && sessionID != "" {
		o.costs.Add(sessionID, resp.Usage.TotalTokens, resp.Cost.TotalCost)
	}

	return QueryResponse{
		Answer:    answer,
		Citations: buildCitations(hits),
		Metadata:  Metadata{Tokens: resp.Usage.TotalTokens, Cost: resp.Cost.TotalCost},
	}, nil
}

// ChatStream answers a question as a stream of events:
// content* -> citations -> metadata -> done, or a single error event
// when retrieval comes back empty or the stream fails.
func (o *Orchestrator) ChatStream(ctx context.Context, sessionID, question, domain, topic string) (<-chan Event, error) {
	hits, err := o.Retrieve(ctx, question, domain, topic)
	if err != nil {
		return nil, err
	}

	out := make(chan Event)
	go func() {
		defer close(out)

		emit := func(ev Event) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if len(hits) == 0 {
			emit(Event{Type: "error", Content: "No results found"})
			return
		}

		reranked, err := o.store.Rerank(ctx, question, hits)
		if err != nil {
			emit(Event{Type: "error", Content: err.Error()})
			return
		}

		stream, err := o.chat.ChatStream(ctx, renderStreamPrompt(reranked, question))
		if err != nil {
			emit(Event{Type: "error", Content: err.Error()})
			return
		}

		var final *llm.Response
		for chunk := range stream {
			switch {
			case chunk.Error != nil:
				emit(Event{Type: "error", Content: chunk.Error.Error()})
				return
			case chunk.Final != nil:
				final = chunk.Final
			default:
				if !emit(Event{Type: "content", Content: chunk.ContentChunk}) {
					return
				}
			}
		}

		if !emit(Event{Type: "citations", Citations: buildCitations(hits)}) {
			return
		}

		if final != nil {
			o.logLLMUsage(*final, true)
			if !emit(Event{
				Type:   "metadata",
				Tokens: final.Usage.TotalTokens,
				Cost:   final.Cost.TotalCost,
				Model:  final.Model,
			}) {
				return
			}
			if o.costs != nil && sessionID != "" {
				o.costs.Add(sessionID, final.Usage.TotalTokens, final.Cost.TotalCost)
			}
		}

		emit(Event{Type: "done"})
	}()

	return out, nil
}

// buildCitations deduplicates by source, preserving first-seen order
// from the pre-rerank result list.
func buildCitations(hits []vectorstore.ScoredPoint) []Citation {
	seen := make(map[string]bool, len(hits))
	citations := make([]Citation, 0, len(hits))
	for _, h := range hits {
		src := h.Metadata.Source
		if seen[src] {
			continue
		}
		seen[src] = true
		citations = append(citations, Citation{Source: src, ChunkIndex: h.Metadata.ChunkIndex})
	}
	return citations
}

func (o *Orchestrator) logLLMUsage(resp llm.Response, stream bool) {
	event := "llm_call"
	if stream {
		event = "llm_call_stream"
	}
	o.logger.Info(event,
		"provider", resp.Provider,
		"model", resp.Model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"total_tokens", resp.Usage.TotalTokens,
		"total_cost", resp.Cost.TotalCost,
	)
}
