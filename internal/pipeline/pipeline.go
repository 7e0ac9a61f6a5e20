// Package pipeline runs the multi-stage analysis of one cached video:
// resolve asset, sample frames, OCR, transcribe, summarize, score, persist.
// Every stage is side-effect-free except the final persist, and no error
// escapes Analyze: failures are converted into the returned Result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cliplens/backend/internal/assetstore"
	"github.com/cliplens/backend/internal/config"
	"github.com/cliplens/backend/internal/library"
	"github.com/cliplens/backend/internal/llm"
	"github.com/cliplens/backend/internal/logging"
	"github.com/cliplens/backend/internal/media"
	"github.com/cliplens/backend/internal/models"
	"github.com/cliplens/backend/internal/repositories"
)

// Failure kinds reported in Result.Kind.
const (
	KindAssetMissing      = "asset_missing"
	KindSummarizerTimeout = "summarizer_timeout"
	KindSummarizerRefused = "summarizer_refused"
	KindSummarizerBackend = "summarizer_backend"
	KindPersist           = "persist"
	KindCanceled          = "canceled"
	KindDeadline          = "deadline_exceeded"
)

// Result is the outcome of one Analyze call. OK means an analysis row was
// written and the video reached analyzed; otherwise Kind and Detail describe
// the failure.
type Result struct {
	OK         bool
	Kind       string
	Detail     string
	AnalysisID string
	Score      float64
}

// Assets is the slice of the asset store the pipeline needs.
type Assets interface {
	Path(externalID string) (string, error)
}

// Deps wires the pipeline to its collaborators.
type Deps struct {
	Assets      Assets
	Sampler     media.FrameSampler
	OCR         media.OcrEngine
	Transcriber media.Transcriber
	Prober      media.Prober
	Summarizer  llm.Summarizer
	Prompts     *llm.Catalog
	Analyses    repositories.AnalysisRepository
	Library     *library.StateMachine
	Logger      *slog.Logger

	// EnableInsights turns on the auxiliary prompts; each successful run
	// stores one AgentInsight per role alongside the analysis.
	EnableInsights bool
}

// Pipeline analyzes downloaded videos one at a time.
type Pipeline struct {
	deps Deps
	cfg  config.Config

	// sleep is swapped out in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a pipeline. Prober, OCR, and Transcriber may be nil or null
// implementations; their stages then contribute empty text.
func New(cfg config.Config, deps Deps) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Prompts == nil {
		deps.Prompts = llm.NewCatalog()
	}
	return &Pipeline{deps: deps, cfg: cfg, sleep: sleepCtx}
}

// Analyze runs the full pipeline for one saved video. The video must be in
// analysis_state=new with its bytes present in the asset store.
func (p *Pipeline) Analyze(ctx context.Context, video models.SavedVideo) Result {
	ctx, span := logging.StartSpan(ctx, "pipeline.analyze")
	defer span.End()

	// The per-video deadline bounds the whole run. The parent context stays
	// authoritative for operator cancellation, which leaves the video in new;
	// an expired deadline instead escalates to error.
	parent := ctx
	if p.cfg.MaxVideoDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(p.cfg.MaxVideoDuration)*time.Second)
		defer cancel()
	}

	logger := p.deps.Logger.With("video_id", video.ID, "external_id", video.ExternalID)

	assetPath, err := p.deps.Assets.Path(video.ExternalID)
	if err != nil {
		if errors.Is(err, assetstore.ErrAssetMissing) {
			return p.fail(parent, logger, video, KindAssetMissing, err.Error())
		}
		return p.fail(parent, logger, video, KindAssetMissing, fmt.Sprintf("resolve asset: %v", err))
	}

	ocrText := p.runOCR(ctx, logger, assetPath)
	if res, stop := p.interrupted(parent, ctx, logger, video); stop {
		return res
	}

	transcript := p.runTranscription(ctx, logger, assetPath)
	if res, stop := p.interrupted(parent, ctx, logger, video); stop {
		return res
	}

	summary, kind, err := p.summarize(ctx, transcript, ocrText)
	if err != nil {
		if res, stop := p.interrupted(parent, ctx, logger, video); stop {
			return res
		}
		return p.fail(parent, logger, video, kind, err.Error())
	}
	if res, stop := p.interrupted(parent, ctx, logger, video); stop {
		return res
	}

	matched := MatchKeywords(summary, transcript, p.cfg.Keywords)
	score := Score(summary, transcript, ocrText, p.cfg.Keywords, p.cfg.Weights)

	analysis := models.Analysis{
		OwnerID:      video.OwnerID,
		VideoTitle:   video.Title,
		OverallScore: score,
		Summary:      summary,
		Keywords:     matched,
		ModelID:      p.deps.Summarizer.ModelID(),
	}
	if p.deps.Prober != nil {
		if info, err := p.deps.Prober.Probe(ctx, assetPath); err == nil {
			analysis.DurationSeconds = info.DurationSeconds
			analysis.Resolution = info.Resolution
			analysis.Format = info.Format
		} else {
			logger.DebugContext(ctx, "probe skipped", "error", err)
		}
	}

	analysisID, err := p.deps.Analyses.SaveAndLink(ctx, analysis, video.ID)
	if err != nil {
		if res, stop := p.interrupted(parent, ctx, logger, video); stop {
			return res
		}
		return p.fail(parent, logger, video, KindPersist, fmt.Sprintf("persist analysis: %v", err))
	}

	p.recordInsights(ctx, logger, analysisID, transcript, ocrText, score)

	logger.InfoContext(ctx, "analysis complete", "analysis_id", analysisID, "score", score)
	return Result{OK: true, AnalysisID: analysisID, Score: score}
}

// runOCR samples frames and recognizes on-screen text. Any failure yields
// empty text; the run continues with a low-but-valid score.
func (p *Pipeline) runOCR(ctx context.Context, logger *slog.Logger, assetPath string) string {
	if p.deps.Sampler == nil || p.deps.OCR == nil {
		return ""
	}

	frames, err := p.deps.Sampler.Sample(ctx, assetPath, p.cfg.FrameExtractionInterval)
	if err != nil {
		logger.WarnContext(ctx, "frame sampling failed", "error", err)
		return ""
	}
	defer frames.Cleanup()

	text, err := p.deps.OCR.Recognize(ctx, frames.Paths)
	if err != nil {
		logger.WarnContext(ctx, "ocr failed", "error", err)
		return ""
	}
	return text
}

func (p *Pipeline) runTranscription(ctx context.Context, logger *slog.Logger, assetPath string) string {
	if p.deps.Transcriber == nil {
		return ""
	}
	transcript, err := p.deps.Transcriber.Transcribe(ctx, assetPath, p.cfg.Language)
	if err != nil {
		logger.WarnContext(ctx, "transcription failed", "error", err)
		return ""
	}
	return transcript
}

// summarize builds the summary prompt and calls the summarizer, retrying
// with exponential backoff (base 1 s, cap 60 s) up to the configured number
// of retries.
func (p *Pipeline) summarize(ctx context.Context, transcript, ocrText string) (string, string, error) {
	prompt, err := p.deps.Prompts.Build("summary", llm.PromptParams{
		Transcript: transcript,
		OCRText:    ocrText,
		Language:   p.cfg.Language,
		Keywords:   p.cfg.Keywords,
	})
	if err != nil {
		return "", KindSummarizerBackend, err
	}

	var lastErr error
	for attempt := 0; attempt <= p.cfg.LLM.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := p.sleep(ctx, backoff(attempt)); err != nil {
				return "", KindCanceled, err
			}
		}

		summary, err := p.deps.Summarizer.Summarize(ctx, prompt)
		if err == nil {
			return summary, "", nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", KindCanceled, err
		}
	}
	return "", summarizerKind(lastErr), lastErr
}

// recordInsights runs the auxiliary prompts and stores one insight per role.
// Insight failures are logged and never affect the pipeline outcome.
func (p *Pipeline) recordInsights(ctx context.Context, logger *slog.Logger, analysisID, transcript, ocrText string, score float64) {
	if !p.deps.EnableInsights {
		return
	}
	for role, promptName := range map[string]string{
		models.InsightRoleAnalyst:    "engagement",
		models.InsightRoleStrategist: "viral_potential",
		models.InsightRoleCopywriter: "optimization",
	} {
		prompt, err := p.deps.Prompts.Build(promptName, llm.PromptParams{
			Transcript:  transcript,
			OCRText:     ocrText,
			Language:    p.cfg.Language,
			Keywords:    p.cfg.Keywords,
			TargetScore: score,
		})
		if err != nil {
			logger.WarnContext(ctx, "insight prompt failed", "role", role, "error", err)
			continue
		}

		message, err := p.deps.Summarizer.Summarize(ctx, prompt)
		if err != nil || message == "" {
			if err != nil {
				logger.WarnContext(ctx, "insight generation failed", "role", role, "error", err)
			}
			continue
		}

		insight := models.AgentInsight{
			AnalysisID: analysisID,
			Role:       role,
			Message:    message,
			Confidence: 0.5,
		}
		if _, err := p.deps.Analyses.SaveInsight(ctx, insight); err != nil {
			logger.WarnContext(ctx, "insight persist failed", "role", role, "error", err)
		}
	}
}

// fail moves the video to error and reports the failure in the result. A
// canceled context never reaches here: cancellation leaves the video in new.
func (p *Pipeline) fail(ctx context.Context, logger *slog.Logger, video models.SavedVideo, kind, detail string) Result {
	if err := p.deps.Library.MarkError(ctx, video.ID, detail); err != nil {
		logger.ErrorContext(ctx, "error transition failed", "kind", kind, "error", err)
	}
	return Result{OK: false, Kind: kind, Detail: detail}
}

// interrupted reports whether the run must stop early. Operator cancellation
// wins and leaves the video in new; an expired per-video deadline moves it to
// error.
func (p *Pipeline) interrupted(parent, ctx context.Context, logger *slog.Logger, video models.SavedVideo) (Result, bool) {
	if parent.Err() != nil {
		return canceled(parent), true
	}
	if ctx.Err() != nil {
		detail := fmt.Sprintf("video deadline exceeded after %ds", p.cfg.MaxVideoDuration)
		return p.fail(parent, logger, video, KindDeadline, detail), true
	}
	return Result{}, false
}

func canceled(ctx context.Context) Result {
	return Result{OK: false, Kind: KindCanceled, Detail: ctx.Err().Error()}
}

func summarizerKind(err error) string {
	switch {
	case errors.Is(err, llm.ErrTimeout):
		return KindSummarizerTimeout
	case errors.Is(err, llm.ErrRefused):
		return KindSummarizerRefused
	default:
		return KindSummarizerBackend
	}
}

// backoff returns the exponential delay before retry n (1-based), base 1 s
// capped at 60 s.
func backoff(attempt int) time.Duration {
	d := time.Second << (attempt - 1)
	if d > 60*time.Second {
		d = 60 * time.Second
	}
	return d
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
