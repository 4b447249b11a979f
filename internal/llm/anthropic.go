package llm

import (
	"context"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultMaxTokens = 1024

// AnthropicConfig configures the PrimaryRemote provider.
type AnthropicConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// AnthropicProvider is the PrimaryRemote LLM provider, wrapping the
// hosted Anthropic Messages API.
type AnthropicProvider struct {
	sdk   anthropic.Client
	model string
}

// NewAnthropicProvider constructs the PrimaryRemote provider.
func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(strings.TrimSpace(cfg.APIKey))}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = string(anthropic.ModelClaude3_7SonnetLatest)
	}

	return &AnthropicProvider{
		sdk:   anthropic.NewClient(opts...),
		model: model,
	}
}

// Name implements Provider.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Model implements Provider.
func (p *AnthropicProvider) Model() string { return p.model }

func (p *AnthropicProvider) params(prompt string) anthropic.MessageNewParams {
	return anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: defaultMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
}

// Chat implements Provider, retrying transient network/timeout errors
// with exponential backoff + jitter (internal/llm/retry.go).
func (p *AnthropicProvider) Chat(ctx context.Context, prompt string) (Response, error) {
	var result Response
	err := WithRetry(ctx, func(int) error {
		resp, err := p.sdk.Messages.New(ctx, p.params(prompt))
		if err != nil {
			return err
		}

		var content strings.Builder
		for _, block := range resp.Content {
			if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
				content.WriteString(tb.Text)
			}
		}

		usage := Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		}
		cost, costErr := CostFor(p.model, usage)
		if costErr != nil {
			return costErr
		}

		result = Response{
			Content:  content.String(),
			Usage:    usage,
			Cost:     cost,
			Model:    p.model,
			Provider: p.Name(),
		}
		return nil
	})
	return result, err
}

// ChatStream implements Provider, emitting text deltas as they arrive
// and a terminal element carrying the aggregated Response. A failed
// attempt is retried only if no bytes were yielded to the caller yet;
// once content is flowing, a failure is surfaced immediately instead
// of silently restarting.
func (p *AnthropicProvider) ChatStream(ctx context.Context, prompt string) (<-chan StreamChunk, error) {
	out := make(chan StreamChunk)

	go func() {
		defer close(out)

		state := &StreamRetryState{}
		var lastErr error
		for attempt := 0; attempt < MaxRetries; attempt++ {
			lastErr = p.streamOnce(ctx, prompt, out, state)
			if lastErr == nil {
				return
			}
			if !state.CanRetry(lastErr) {
				break
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff(attempt)):
			}
		}
		select {
		case out <- StreamChunk{Error: lastErr}:
		case <-ctx.Done():
		}
	}()

	return out, nil
}

func (p *AnthropicProvider) streamOnce(ctx context.Context, prompt string, out chan<- StreamChunk, state *StreamRetryState) error {
	stream := p.sdk.Messages.NewStreaming(ctx, p.params(prompt))
	defer func() { _ = stream.Close() }()

	var acc anthropic.Message
	var content strings.Builder

	for stream.Next() {
		event := stream.Current()
		_ = acc.Accumulate(event)

		if ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				content.WriteString(delta.Text)
				state.MarkYielded()
				select {
				case out <- StreamChunk{ContentChunk: delta.Text}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return err
	}

	usage := Usage{
		PromptTokens:     int(acc.Usage.InputTokens),
		CompletionTokens: int(acc.Usage.OutputTokens),
		TotalTokens:      int(acc.Usage.InputTokens + acc.Usage.OutputTokens),
	}
	cost, err := CostFor(p.model, usage)
	if err != nil {
		return err
	}

	final := Response{
		Content:  content.String(),
		Usage:    usage,
		Cost:     cost,
		Model:    p.model,
		Provider: p.Name(),
	}
	select {
	case out <- StreamChunk{Final: &final}:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

var _ Provider = (*AnthropicProvider)(nil)
