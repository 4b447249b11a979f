package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/knoguchi/rag/internal/apperr"
)

const (
	// DefaultOllamaBaseURL is the default Ollama API endpoint.
	DefaultOllamaBaseURL = "http://localhost:11434"

	// DefaultOllamaModel is the LocalFallback provider's default model.
	DefaultOllamaModel = "llama3.2"
)

// OllamaConfig configures the LocalFallback provider.
type OllamaConfig struct {
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// OllamaProvider is the LocalFallback LLM provider, talking to a local
// Ollama daemon's /api/generate endpoint.
type OllamaProvider struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllamaProvider constructs the LocalFallback provider.
func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultOllamaBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultOllamaModel
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	return &OllamaProvider{baseURL: baseURL, model: model, client: client}
}

// Name implements Provider.
func (p *OllamaProvider) Name() string { return "ollama" }

// Model implements Provider.
func (p *OllamaProvider) Model() string { return p.model }

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (p *OllamaProvider) newRequest(ctx context.Context, prompt string, stream bool) (*http.Request, error) {
	body, err := json.Marshal(ollamaGenerateRequest{Model: p.model, Prompt: prompt, Stream: stream})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "encoding ollama request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "building ollama request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (p *OllamaProvider) usageAndCost(prompt, response string) (Usage, Cost, error) {
	usage := Usage{
		PromptTokens:     EstimateTokens(prompt),
		CompletionTokens: EstimateTokens(response),
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	cost, err := CostFor(p.model, usage)
	return usage, cost, err
}

// Chat implements Provider, retrying transient network/timeout errors
// with exponential backoff + jitter.
func (p *OllamaProvider) Chat(ctx context.Context, prompt string) (Response, error) {
	var result Response
	err := WithRetry(ctx, func(int) error {
		req, err := p.newRequest(ctx, prompt, false)
		if err != nil {
			return err
		}
		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("ollama returned status %s: %s", resp.Status, body)
		}

		var decoded ollamaGenerateResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return fmt.Errorf("decoding ollama response: %w", err)
		}

		usage, cost, costErr := p.usageAndCost(prompt, decoded.Response)
		if costErr != nil {
			return costErr
		}
		result = Response{
			Content:  decoded.Response,
			Usage:    usage,
			Cost:     cost,
			Model:    p.model,
			Provider: p.Name(),
		}
		return nil
	})
	return result, err
}

// ChatStream implements Provider, streaming newline-delimited JSON
// chunks from Ollama and retrying a failed attempt only while no
// content has reached the caller yet.
func (p *OllamaProvider) ChatStream(ctx context.Context, prompt string) (<-chan StreamChunk, error) {
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

func (p *OllamaProvider) streamOnce(ctx context.Context, prompt string, out chan<- StreamChunk, state *StreamRetryState) error {
	req, err := p.newRequest(ctx, prompt, true)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ollama returned status %s: %s", resp.Status, body)
	}

	var content strings.Builder
	reader := bufio.NewReader(resp.Body)

	for {
		line, readErr := reader.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			var decoded ollamaGenerateResponse
			if jsonErr := json.Unmarshal(line, &decoded); jsonErr != nil {
				return fmt.Errorf("parsing ollama stream chunk: %w", jsonErr)
			}
			if decoded.Response != "" {
				content.WriteString(decoded.Response)
				state.MarkYielded()
				select {
				case out <- StreamChunk{ContentChunk: decoded.Response}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if decoded.Done {
				usage, cost, costErr := p.usageAndCost(prompt, content.String())
				if costErr != nil {
					return costErr
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
		}
		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			return fmt.Errorf("reading ollama stream: %w", readErr)
		}
	}
}

var _ Provider = (*OllamaProvider)(nil)
