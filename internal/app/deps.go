package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/cliplens/backend/internal/assetstore"
	"github.com/cliplens/backend/internal/batch"
	"github.com/cliplens/backend/internal/config"
	"github.com/cliplens/backend/internal/db"
	"github.com/cliplens/backend/internal/ingest"
	"github.com/cliplens/backend/internal/library"
	"github.com/cliplens/backend/internal/llm"
	"github.com/cliplens/backend/internal/media"
	"github.com/cliplens/backend/internal/pipeline"
	"github.com/cliplens/backend/internal/repositories"
	"github.com/cliplens/backend/internal/scheduler"
	"github.com/cliplens/backend/internal/trends"
)

// dependencies wires together the concrete implementations behind the CLI
// commands.
type dependencies struct {
	videos *repositories.PostgresVideoRepository

	store    *assetstore.Store
	pipeline *pipeline.Pipeline
	batch    *batch.Analyzer
	sched    *scheduler.Scheduler
	provider *ingest.YTDLPClient
	trends   *trends.Aggregator

	close func()
}

// tesseractLanguages maps the configured transcription language hint to the
// tesseract language pack name.
var tesseractLanguages = map[string]string{
	"it": "ita",
	"en": "eng",
	"es": "spa",
	"fr": "fra",
	"de": "deu",
}

func buildDependencies(ctx context.Context, pool db.Pool, cfg config.Config, logger *slog.Logger) (*dependencies, error) {
	videos := repositories.NewPostgresVideoRepository(pool)
	analyses := repositories.NewPostgresAnalysisRepository(pool)

	storeOpts := []assetstore.Option{assetstore.WithLogger(logger)}
	if cfg.Archive.Enabled {
		mirror, err := assetstore.NewS3Mirror(ctx, cfg.Archive)
		if err != nil {
			return nil, err
		}
		storeOpts = append(storeOpts, assetstore.WithMirror(mirror))
	}
	store, err := assetstore.New(cfg.CacheRoot, storeOpts...)
	if err != nil {
		return nil, err
	}

	summarizer, closeSummarizer, err := buildSummarizer(ctx, cfg)
	if err != nil {
		return nil, err
	}

	machine := library.New(videos, logger)
	pipe := pipeline.New(cfg, pipeline.Deps{
		Assets:         store,
		Sampler:        media.NewFFmpegSampler(cfg.FFmpegPath, 2*time.Minute),
		OCR:            media.NewTesseractOCR(cfg.TesseractPath, tesseractLanguages[cfg.Language], 30*time.Second),
		Transcriber:    media.NewWhisperTranscriber(cfg.WhisperPath, "base", 5*time.Minute),
		Prober:         media.NewFFprobeProber("ffprobe", 30*time.Second),
		Summarizer:     summarizer,
		Analyses:       analyses,
		Library:        machine,
		Logger:         logger,
		EnableInsights: cfg.LLM.APIKey != "",
	})

	analyzer := batch.New(cfg.Batch, videos, store, pipe, logger)

	return &dependencies{
		videos:   videos,
		store:    store,
		pipeline: pipe,
		batch:    analyzer,
		sched:    scheduler.New(analyzer, logger),
		provider: ingest.NewYTDLPClient(cfg.YTDLPPath, 30*time.Second),
		trends:   trends.New(analyses),
		close:    closeSummarizer,
	}, nil
}

// newDownloader builds the import-side worker pool on demand; the download
// concurrency follows the batch max_concurrent knob.
func newDownloader(deps *dependencies, cfg config.Config, logger *slog.Logger) *ingest.Downloader {
	return ingest.NewDownloader(deps.provider, deps.store, deps.videos, ingest.DownloaderConfig{
		Workers: cfg.Batch.MaxConcurrent,
	}, logger)
}

// buildSummarizer returns the Gemini backend when an API key is configured,
// rate-limited to keep batches inside quota, and the null backend otherwise.
func buildSummarizer(ctx context.Context, cfg config.Config) (llm.Summarizer, func(), error) {
	if cfg.LLM.APIKey == "" {
		return llm.NullSummarizer{}, func() {}, nil
	}

	client, err := llm.NewGeminiClient(ctx, cfg.LLM.APIKey)
	if err != nil {
		return nil, nil, err
	}
	summarizer := llm.NewRateLimited(llm.NewGeminiSummarizer(client, cfg.LLM), 60)
	return summarizer, func() { _ = client.Close() }, nil
}
