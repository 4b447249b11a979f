package ingest

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/knoguchi/rag/internal/apperr"
	"github.com/knoguchi/rag/internal/chunk"
	"github.com/knoguchi/rag/internal/extract"
)

// Service composes the full ingest pipeline: fetch/extract, clean,
// chunk, then hand off to the Engine for the diff-embed-store steps.
type Service struct {
	fetcher  *extract.Fetcher
	splitter *chunk.Splitter
	engine   *Engine
	logger   *slog.Logger
}

// NewService wires the ingest pipeline together.
func NewService(fetcher *extract.Fetcher, splitter *chunk.Splitter, engine *Engine, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{fetcher: fetcher, splitter: splitter, engine: engine, logger: logger}
}

// IngestURL fetches url, extracts and chunks its content, and runs the
// engine with source == url. Progress milestones 10 (extracting) and
// 30 (cleaning) precede the engine's own 50..95 range.
func (s *Service) IngestURL(ctx context.Context, url, domain, topic string, progress ProgressFunc) (Result, error) {
	report := func(pct int, step string) {
		if progress != nil {
			progress(pct, step)
		}
	}

	report(10, "Extracting content from URL")
	content, err := s.fetcher.FetchText(ctx, url)
	if err != nil {
		s.logger.Warn("source extraction failed", "url", url, "error", err)
		return Result{}, err
	}

	report(30, "Cleaning and processing content")
	texts, err := s.split(content)
	if err != nil {
		return Result{}, err
	}

	result, err := s.engine.Ingest(ctx, texts, url, domain, topic, progress)
	if err != nil {
		return Result{}, err
	}

	s.logger.Info("ingest_completed",
		"url", url,
		"domain", domain,
		"topic", topic,
		"chunks_processed", result.ChunksProcessed,
		"new", result.New,
		"updated", result.Updated,
	)
	report(100, "Done!")
	return result, nil
}

// IngestPDF extracts the text of a PDF from r, chunks it, and runs the
// engine with the caller-supplied source name.
func (s *Service) IngestPDF(ctx context.Context, r io.ReaderAt, size int64, source, domain, topic string, progress ProgressFunc) (Result, error) {
	report := func(pct int, step string) {
		if progress != nil {
			progress(pct, step)
		}
	}

	report(10, "Extracting text from PDF")
	content, err := extract.PDFText(r, size, source)
	if err != nil {
		s.logger.Warn("pdf extraction failed", "source", source, "error", err)
		return Result{}, err
	}

	report(30, "Cleaning and processing PDF content")
	texts, err := s.split(content)
	if err != nil {
		return Result{}, err
	}

	result, err := s.engine.Ingest(ctx, texts, source, domain, topic, progress)
	if err != nil {
		return Result{}, err
	}

	s.logger.Info("pdf_ingest_completed",
		"source", source,
		"domain", domain,
		"topic", topic,
		"chunks_processed", result.ChunksProcessed,
		"new", result.New,
		"updated", result.Updated,
	)
	report(100, "Done!")
	return result, nil
}

// IngestPDFFile is IngestPDF over a file on disk, used by the file
// ingest worker task which receives uploads via a shared path.
func (s *Service) IngestPDFFile(ctx context.Context, path, source, domain, topic string, progress ProgressFunc) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindSourceFetchFailed, "opening upload "+path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindSourceFetchFailed, "stat upload "+path, err)
	}
	return s.IngestPDF(ctx, f, info.Size(), source, domain, topic, progress)
}

func (s *Service) split(content string) ([]string, error) {
	if strings.TrimSpace(content) == "" {
		return nil, apperr.New(apperr.KindEmptySourceContent, "document is empty after cleaning")
	}
	pieces := s.splitter.Split(content)
	if len(pieces) == 0 {
		return nil, apperr.New(apperr.KindChunkingEmpty, "no chunks generated")
	}
	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Content
	}
	return texts, nil
}
