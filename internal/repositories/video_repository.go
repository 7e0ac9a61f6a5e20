package repositories

import (
	"context"

	"github.com/cliplens/backend/internal/models"
)

// VideoRepository exposes data access for saved videos and their lifecycle.
//
// Upsert is keyed on (owner_id, external_id): the first insert sets
// analysis_state=new and download_state=pending; later calls update only the
// mutable metadata fields and never reset lifecycle state.
//
// The analysis-state transition methods are guarded updates: each succeeds
// only when the row is currently in the required source state, otherwise it
// returns ErrIllegalTransition without mutating the row. They are the only
// writers of analysis_state and are invoked through the library state machine.
type VideoRepository interface {
	Upsert(ctx context.Context, video models.SavedVideo) (models.SavedVideo, error)
	FindByID(ctx context.Context, id string) (models.SavedVideo, error)
	ListByAnalysisState(ctx context.Context, ownerID int64, state models.AnalysisState) ([]models.SavedVideo, error)
	ListWithAnalysis(ctx context.Context, ownerID int64) ([]models.SavedVideo, error)

	SetDownloadState(ctx context.Context, videoID string, state models.DownloadState, localAssetRef string, sizeBytes int64) error

	MarkAnalyzed(ctx context.Context, videoID, analysisID string) error
	MarkAnalysisFailed(ctx context.Context, videoID string) error
	ResetToNew(ctx context.Context, videoID string) error
}
