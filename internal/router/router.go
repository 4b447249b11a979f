package router

import (
	"context"

	"github.com/knoguchi/rag/internal/llm"
)

const (
	metricRequests = "rag_router_requests_total"
)

// Router routes chat calls between a primary and a fallback
// llm.Provider behind a Breaker.
type Router struct {
	primary  llm.Provider
	fallback llm.Provider
	breaker  *Breaker
	metrics  *Metrics
}

// New constructs a Router with the default breaker parameters.
func New(primary, fallback llm.Provider, metrics *Metrics) *Router {
	return &Router{
		primary:  primary,
		fallback: fallback,
		breaker:  NewDefaultBreaker(),
		metrics:  metrics,
	}
}

func (r *Router) labels(p llm.Provider, status string) map[string]string {
	return map[string]string{"provider": p.Name(), "model": p.Model(), "status": status}
}

func (r *Router) record(p llm.Provider, status string) {
	r.metrics.SetState(r.breaker.GetState())
	r.metrics.IncCounter(metricRequests, r.labels(p, status))
}

// Chat routes a single blocking call: primary while the breaker is
// closed (or probing half-open), falling back to LocalFallback when
// the breaker is open or primary fails.
func (r *Router) Chat(ctx context.Context, prompt string) (llm.Response, error) {
	if r.breaker.Allow() {
		resp, err := r.primary.Chat(ctx, prompt)
		if err == nil {
			r.breaker.RecordSuccess()
			r.record(r.primary, StatusSuccess)
			return resp, nil
		}
		r.breaker.RecordFailure()
		r.record(r.primary, StatusError)
	} else {
		r.record(r.primary, StatusFallback)
	}

	resp, err := r.fallback.Chat(ctx, prompt)
	if err != nil {
		r.record(r.fallback, StatusError)
		return llm.Response{}, err
	}
	r.record(r.fallback, StatusSuccess)
	return resp, nil
}

// ChatStream routes a streaming call. The fallback decision is made
// before any content chunk is yielded: once primary emits a content
// chunk, the router commits to it for the remainder of the stream.
func (r *Router) ChatStream(ctx context.Context, prompt string) (<-chan llm.StreamChunk, error) {
	if !r.breaker.Allow() {
		r.record(r.primary, StatusFallback)
		return r.fallback.ChatStream(ctx, prompt)
	}

	primaryStream, err := r.primary.ChatStream(ctx, prompt)
	if err != nil {
		r.breaker.RecordFailure()
		r.record(r.primary, StatusError)
		return r.fallback.ChatStream(ctx, prompt)
	}

	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)

		committed := false
		for chunk := range primaryStream {
			if !committed {
				if chunk.Error != nil {
					// Nothing yielded yet: fall back instead of surfacing the error.
					r.breaker.RecordFailure()
					r.record(r.primary, StatusError)
					r.forwardFallback(ctx, prompt, out)
					return
				}
				committed = true
			}

			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}

			if chunk.Final != nil {
				r.breaker.RecordSuccess()
				r.record(r.primary, StatusSuccess)
			}
		}
	}()

	return out, nil
}

func (r *Router) forwardFallback(ctx context.Context, prompt string, out chan<- llm.StreamChunk) {
	r.record(r.fallback, StatusFallback)
	fallbackStream, err := r.fallback.ChatStream(ctx, prompt)
	if err != nil {
		select {
		case out <- llm.StreamChunk{Error: err}:
		case <-ctx.Done():
		}
		return
	}
	for chunk := range fallbackStream {
		select {
		case out <- chunk:
		case <-ctx.Done():
			return
		}
	}
}

// State exposes the breaker's current state, e.g. for a health endpoint.
func (r *Router) State() State { return r.breaker.GetState() }
