package repositories

import (
	"context"
	"time"

	"github.com/cliplens/backend/internal/models"
)

// AnalysisRepository exposes data access for analyses and their insights.
//
// Analyses are immutable after creation. SaveAndLink persists the analysis
// and advances the owning video to analyzed in a single transaction, so no
// reader ever observes analysis_state=analyzed with a null analysis_ref.
type AnalysisRepository interface {
	Save(ctx context.Context, analysis models.Analysis) (string, error)
	SaveAndLink(ctx context.Context, analysis models.Analysis, videoID string) (string, error)
	FindByID(ctx context.Context, id string) (models.Analysis, error)
	ListForOwner(ctx context.Context, ownerID int64, limit int) ([]models.Analysis, error)
	ListSince(ctx context.Context, ownerID int64, since time.Time) ([]models.Analysis, error)

	SaveInsight(ctx context.Context, insight models.AgentInsight) (string, error)
	InsightsForAnalysis(ctx context.Context, analysisID string) ([]models.AgentInsight, error)
}
