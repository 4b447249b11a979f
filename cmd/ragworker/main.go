package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/knoguchi/rag/internal/chunk"
	"github.com/knoguchi/rag/internal/config"
	"github.com/knoguchi/rag/internal/embedder"
	"github.com/knoguchi/rag/internal/extract"
	"github.com/knoguchi/rag/internal/ingest"
	"github.com/knoguchi/rag/internal/job"
	"github.com/knoguchi/rag/internal/reranker"
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
		slog.Error("failed to run worker", "error", err)
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

	slog.Info("starting RAG worker",
		"environment", cfg.Environment,
		"poll_interval", cfg.WorkerPollInterval,
		"concurrency", cfg.WorkerConcurrency,
	)

	// The worker never answers questions, so it needs no LLM router —
	// only the ingest half of the service graph.
	rr := reranker.New(reranker.NewLexicalCrossEncoder())

	vectorStore, err := vectorstore.NewQdrantStore(ctx, cfg.QdrantGRPCURL, rr)
	if err != nil {
		return fmt.Errorf("failed to connect to Qdrant: %w", err)
	}
	defer vectorStore.Close()

	if err := vectorStore.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("vector store not reachable: %w", err)
	}
	slog.Info("connected to Qdrant")

	embed := embedder.NewHybridEmbedder(embedder.Config{
		BaseURL:         cfg.EmbedderURL,
		Model:           cfg.EmbedderModel,
		SparseDimension: uint32(cfg.EmbedderSparseDims),
	})

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
	jobService := job.NewService(jobStore, audit)

	ingestService := ingest.NewService(
		extract.NewFetcher(extract.FetcherConfig{}),
		chunk.NewSplitter(chunk.DefaultConfig()),
		ingest.NewEngine(embed, vectorStore),
		slog.Default(),
	)

	concurrency := cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		g.Go(func() error {
			worker := job.NewWorker(jobService, jobStore, ingestService, cfg.WorkerPollInterval)
			worker.Run(gctx)
			return nil
		})
	}

	err = g.Wait()
	slog.Info("worker stopped")
	return err
}
