// Package library implements the analysis lifecycle for saved videos:
// new → analyzed | error, with operator-requested returns to new. The
// machine carries no state of its own; every transition is a guarded
// update executed by the video repository.
package library

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cliplens/backend/internal/models"
	"github.com/cliplens/backend/internal/repositories"
)

// StateMachine drives analysis-state transitions for saved videos.
type StateMachine struct {
	videos repositories.VideoRepository
	logger *slog.Logger
}

// New returns a state machine over the given video repository.
func New(videos repositories.VideoRepository, logger *slog.Logger) *StateMachine {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateMachine{videos: videos, logger: logger}
}

// MarkAnalyzed moves a video from new to analyzed and records the analysis
// reference. Callers persisting a fresh analysis should prefer the analysis
// repository's SaveAndLink, which performs the write and this transition in
// one transaction.
func (m *StateMachine) MarkAnalyzed(ctx context.Context, videoID, analysisID string) error {
	if err := m.videos.MarkAnalyzed(ctx, videoID, analysisID); err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "video analyzed", "video_id", videoID, "analysis_id", analysisID)
	return nil
}

// MarkError moves a video from new to error. The failure cause is recorded
// in the log only.
func (m *StateMachine) MarkError(ctx context.Context, videoID, cause string) error {
	if err := m.videos.MarkAnalysisFailed(ctx, videoID); err != nil {
		return err
	}
	m.logger.WarnContext(ctx, "video analysis failed", "video_id", videoID, "cause", cause)
	return nil
}

// RequestReanalysis returns an analyzed video to new. The analysis pointer
// on the video is cleared; prior analysis rows are preserved as history.
func (m *StateMachine) RequestReanalysis(ctx context.Context, videoID string) error {
	return m.requestReset(ctx, videoID, models.AnalysisAnalyzed)
}

// RequestRetry returns an errored video to new so the pipeline can run again.
func (m *StateMachine) RequestRetry(ctx context.Context, videoID string) error {
	return m.requestReset(ctx, videoID, models.AnalysisError)
}

func (m *StateMachine) requestReset(ctx context.Context, videoID string, from models.AnalysisState) error {
	video, err := m.videos.FindByID(ctx, videoID)
	if err != nil {
		return err
	}
	if video.AnalysisState != from {
		return fmt.Errorf("%w: video %s is %s, want %s",
			repositories.ErrIllegalTransition, videoID, video.AnalysisState, from)
	}
	if err := m.videos.ResetToNew(ctx, videoID); err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "video returned to new", "video_id", videoID, "from", string(from))
	return nil
}
