package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/knoguchi/rag/internal/ask"
	"github.com/knoguchi/rag/internal/chunk"
	"github.com/knoguchi/rag/internal/config"
	"github.com/knoguchi/rag/internal/cost"
	"github.com/knoguchi/rag/internal/embedder"
	"github.com/knoguchi/rag/internal/extract"
	"github.com/knoguchi/rag/internal/ingest"
	"github.com/knoguchi/rag/internal/job"
	"github.com/knoguchi/rag/internal/llm"
	"github.com/knoguchi/rag/internal/reranker"
	"github.com/knoguchi/rag/internal/router"
	"github.com/knoguchi/rag/internal/server"
	"github.com/knoguchi/rag/internal/vectorstore"
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("failed to run server", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("starting RAG service",
		"http_port", cfg.HTTPPort,
		"environment", cfg.Environment,
	)

	if cfg.PProvider == "anthropic" && cfg.PAPIKey == "" {
		return fmt.Errorf("P_API_KEY is required when P_PROVIDER=anthropic")
	}

	// Rerank model and vector store.
	rr := reranker.New(reranker.NewLexicalCrossEncoder())

	vectorStore, err := vectorstore.NewQdrantStore(ctx, cfg.QdrantGRPCURL, rr)
	if err != nil {
		return fmt.Errorf("failed to connect to Qdrant: %w", err)
	}
	defer vectorStore.Close()

	if err := ensureCollection(ctx, vectorStore); err != nil {
		return fmt.Errorf("vector store not reachable: %w", err)
	}
	slog.Info("connected to Qdrant")

	// Hybrid embedder.
	embed := embedder.NewHybridEmbedder(embedder.Config{
		BaseURL:         cfg.EmbedderURL,
		Model:           cfg.EmbedderModel,
		SparseDimension: uint32(cfg.EmbedderSparseDims),
	})
	slog.Info("initialized hybrid embedder", "model", cfg.EmbedderModel)

	// LLM providers behind the circuit-breaker router.
	primary := llm.NewAnthropicProvider(llm.AnthropicConfig{
		APIKey:  cfg.PAPIKey,
		Model:   cfg.PModel,
		BaseURL: cfg.PURL,
	})
	fallback := llm.NewOllamaProvider(llm.OllamaConfig{
		BaseURL: cfg.FURL,
		Model:   cfg.FModel,
	})
	llmRouter := router.New(primary, fallback, router.NewMetrics())
	slog.Info("initialized LLM router", "primary", primary.Model(), "fallback", fallback.Model())

	// Job state store and queue; Redis is startup-fatal.
	jobStore, err := job.NewRedisStore(ctx, cfg.RedisURL, cfg.JobTTL)
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer jobStore.Close()
	slog.Info("connected to Redis")

	audit, err := job.NewAudit(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to audit database: %w", err)
	}
	defer audit.Close()
	if audit != nil {
		slog.Info("job audit trail enabled")
	}
	jobService := job.NewService(jobStore, audit)

	// Pipeline services.
	ingestService := ingest.NewService(
		extract.NewFetcher(extract.FetcherConfig{}),
		chunk.NewSplitter(chunk.DefaultConfig()),
		ingest.NewEngine(embed, vectorStore),
		slog.Default(),
	)
	costs := cost.NewTracker(cfg.SessionTTL)
	askService := ask.New(embed, vectorStore, llmRouter, costs, slog.Default(), ask.DefaultQueryLimit)

	httpServer, err := server.NewHTTPServer(server.HTTPServerConfig{
		Port:           cfg.HTTPPort,
		Logger:         slog.Default(),
		AllowedOrigins: cfg.AllowedOrigins,
		UploadDir:      cfg.UploadDir,
	}, server.Services{
		Ingest: ingestService,
		Ask:    askService,
		Jobs:   jobService,
		Queue:  jobStore,
	})
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(httpServer.Start)
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownWait)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	slog.Info("server stopped")
	return err
}

// ensureCollection retries collection creation a few times so the
// service survives Qdrant starting up alongside it; persistent
// unreachability is a fatal startup error.
func ensureCollection(ctx context.Context, store *vectorstore.QdrantStore) error {
	const attempts = 5
	var err error
	for i := 0; i < attempts; i++ {
		if err = store.EnsureCollection(ctx); err == nil {
			return nil
		}
		slog.Warn("ensure collection failed, retrying", "attempt", i+1, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return err
}
