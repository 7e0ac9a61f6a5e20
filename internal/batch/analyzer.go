// Package batch runs the analysis pipeline over every pending video of an
// owner, strictly one video at a time. The external model backends are the
// scarce resource, so the serial policy is deliberate; parallelism, if ever
// needed, belongs in a worker pool above this package.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cliplens/backend/internal/config"
	"github.com/cliplens/backend/internal/logging"
	"github.com/cliplens/backend/internal/models"
	"github.com/cliplens/backend/internal/pipeline"
	"github.com/cliplens/backend/internal/repositories"
)

// Runner is the slice of the pipeline the analyzer invokes per video.
type Runner interface {
	Analyze(ctx context.Context, video models.SavedVideo) pipeline.Result
}

// Assets answers whether a video's bytes are present in the local cache.
type Assets interface {
	Has(externalID string) bool
}

// ProgressFunc receives completion percentage and a human-readable message
// after every processed video.
type ProgressFunc func(percent int, message string)

// PerVideo records the outcome for one video within a batch run.
type PerVideo struct {
	VideoID    string
	ExternalID string
	Result     pipeline.Result
}

// Summary is the result of one batch run. Run never returns an error; a
// catastrophic failure is reported in Error alongside whatever partial
// progress was made.
type Summary struct {
	Total    int
	Analyzed int
	Failed   int
	Duration time.Duration
	PerVideo []PerVideo
	Error    string
}

// Analyzer walks an owner's pending videos through the pipeline.
type Analyzer struct {
	videos  repositories.VideoRepository
	assets  Assets
	runner  Runner
	delay   time.Duration
	retries int
	logger  *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a batch analyzer with the configured inter-analysis delay and
// retry budget.
func New(cfg config.BatchConfig, videos repositories.VideoRepository, assets Assets, runner Runner, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		videos:  videos,
		assets:  assets,
		runner:  runner,
		delay:   cfg.Delay(),
		retries: cfg.RetryAttempts,
		logger:  logger,
		sleep:   sleepCtx,
	}
}

// Run analyzes every new video of the owner whose asset is cached locally.
// Videos are processed sequentially with the configured pause between them.
// A cancelled context stops the run between videos and returns the partial
// summary.
func (a *Analyzer) Run(ctx context.Context, ownerID int64, progress ProgressFunc) Summary {
	ctx, span := logging.StartSpan(ctx, "batch.run")
	defer span.End()

	start := time.Now()
	summary := Summary{}

	pending, err := a.videos.ListByAnalysisState(ctx, ownerID, models.AnalysisNew)
	if err != nil {
		summary.Error = fmt.Sprintf("list pending videos: %v", err)
		summary.Duration = time.Since(start)
		return summary
	}

	var ready []models.SavedVideo
	for _, video := range pending {
		if a.assets.Has(video.ExternalID) {
			ready = append(ready, video)
		}
	}
	summary.Total = len(ready)
	a.logger.InfoContext(ctx, "batch run starting",
		"owner_id", ownerID, "pending", len(pending), "ready", len(ready))

	for i, video := range ready {
		if ctx.Err() != nil {
			summary.Error = fmt.Sprintf("run cancelled after %d of %d videos", i, summary.Total)
			break
		}
		if i > 0 && a.delay > 0 {
			if err := a.sleep(ctx, a.delay); err != nil {
				summary.Error = fmt.Sprintf("run cancelled after %d of %d videos", i, summary.Total)
				break
			}
		}

		result := a.analyzeWithRetry(ctx, video)
		summary.PerVideo = append(summary.PerVideo, PerVideo{
			VideoID:    video.ID,
			ExternalID: video.ExternalID,
			Result:     result,
		})
		if result.OK {
			summary.Analyzed++
		} else {
			summary.Failed++
		}

		if progress != nil {
			done := i + 1
			progress(done*100/summary.Total, progressMessage(video, result))
		}
	}

	summary.Duration = time.Since(start)
	a.logger.InfoContext(ctx, "batch run finished",
		"owner_id", ownerID, "total", summary.Total,
		"analyzed", summary.Analyzed, "failed", summary.Failed,
		"duration", summary.Duration)
	return summary
}

// retryableKinds are the failure kinds worth another attempt: the summarizer
// backend may recover, everything else fails the same way every time.
var retryableKinds = map[string]struct{}{
	pipeline.KindSummarizerTimeout: {},
	pipeline.KindSummarizerBackend: {},
}

// analyzeWithRetry re-runs a transiently failed video up to the configured
// retry budget. A failed run leaves the video in error, so each retry first
// resets it to new. The pipeline backs off internally; no extra pause here.
func (a *Analyzer) analyzeWithRetry(ctx context.Context, video models.SavedVideo) pipeline.Result {
	result := a.runner.Analyze(ctx, video)
	for attempt := 1; attempt <= a.retries; attempt++ {
		if result.OK || ctx.Err() != nil {
			return result
		}
		if _, ok := retryableKinds[result.Kind]; !ok {
			return result
		}
		if err := a.videos.ResetToNew(ctx, video.ID); err != nil {
			a.logger.WarnContext(ctx, "retry reset failed",
				"video_id", video.ID, "error", err)
			return result
		}
		a.logger.InfoContext(ctx, "retrying failed analysis",
			"video_id", video.ID, "attempt", attempt, "kind", result.Kind)
		result = a.runner.Analyze(ctx, video)
	}
	return result
}

func progressMessage(video models.SavedVideo, result pipeline.Result) string {
	if result.OK {
		return fmt.Sprintf("analyzed %s (score %.2f)", video.ExternalID, result.Score)
	}
	return fmt.Sprintf("failed %s: %s", video.ExternalID, result.Kind)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
