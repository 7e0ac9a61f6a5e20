package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	crdbpgxv5 "github.com/cockroachdb/cockroach-go/v2/crdb/crdbpgxv5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cliplens/backend/internal/db"
	"github.com/cliplens/backend/internal/models"
)

const analysisColumns = `
        id, owner_id, video_title, overall_score,
        engagement_rate, completion_rate, share_rate, comment_rate, like_rate,
        summary, key_points, keywords, suggested_tags, recommendations,
        duration_seconds, resolution, format, model_id, schema_version, created_at`

// PostgresAnalysisRepository provides PostgreSQL-backed persistence for analyses.
type PostgresAnalysisRepository struct {
	pool db.Pool
}

// NewPostgresAnalysisRepository constructs an analysis repository backed by PostgreSQL.
func NewPostgresAnalysisRepository(pool db.Pool) *PostgresAnalysisRepository {
	return &PostgresAnalysisRepository{pool: pool}
}

// Save persists an immutable analysis record and returns its identifier.
func (r *PostgresAnalysisRepository) Save(ctx context.Context, analysis models.Analysis) (string, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return "", fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	id, query, args, err := insertAnalysisQuery(analysis)
	if err != nil {
		return "", err
	}
	if _, err := conn.Exec(ctx, query, args...); err != nil {
		return "", fmt.Errorf("insert analysis: %w", err)
	}
	return id, nil
}

// SaveAndLink persists the analysis and moves the owning video from new to
// analyzed in a single transaction. If the video is not in state new, the
// whole write rolls back and ErrIllegalTransition is returned, so no orphan
// analysis row is left behind and no reader observes a half-linked video.
func (r *PostgresAnalysisRepository) SaveAndLink(ctx context.Context, analysis models.Analysis, videoID string) (string, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return "", fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	id, query, args, err := insertAnalysisQuery(analysis)
	if err != nil {
		return "", err
	}

	err = crdbpgxv5.ExecuteTx(ctx, conn, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("insert analysis: %w", err)
		}
		tag, err := tx.Exec(ctx, `
            UPDATE saved_videos
            SET analysis_state = 'analyzed', analysis_ref = $2, analyzed_at = NOW()
            WHERE id = $1 AND analysis_state = 'new'
        `, videoID, id)
		if err != nil {
			return fmt.Errorf("link analysis: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: video %s", ErrIllegalTransition, videoID)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// FindByID fetches an analysis by identifier.
func (r *PostgresAnalysisRepository) FindByID(ctx context.Context, id string) (models.Analysis, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Analysis{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `SELECT `+analysisColumns+` FROM analyses WHERE id = $1`, id)
	analysis, err := scanAnalysis(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Analysis{}, ErrNotFound
		}
		return models.Analysis{}, fmt.Errorf("select analysis: %w", err)
	}
	return analysis, nil
}

// ListForOwner returns an owner's analyses, most recent first.
func (r *PostgresAnalysisRepository) ListForOwner(ctx context.Context, ownerID int64, limit int) ([]models.Analysis, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.list(ctx, `
        SELECT `+analysisColumns+`
        FROM analyses
        WHERE owner_id = $1
        ORDER BY created_at DESC
        LIMIT $2
    `, ownerID, limit)
}

// ListSince returns an owner's analyses created at or after the given instant,
// oldest first, for trend aggregation.
func (r *PostgresAnalysisRepository) ListSince(ctx context.Context, ownerID int64, since time.Time) ([]models.Analysis, error) {
	return r.list(ctx, `
        SELECT `+analysisColumns+`
        FROM analyses
        WHERE owner_id = $1 AND created_at >= $2
        ORDER BY created_at
    `, ownerID, since.UTC())
}

// SaveInsight attaches per-role commentary to an analysis.
func (r *PostgresAnalysisRepository) SaveInsight(ctx context.Context, insight models.AgentInsight) (string, error) {
	if insight.Confidence < 0 || insight.Confidence > 1 {
		return "", fmt.Errorf("insight confidence %v must be in [0, 1]", insight.Confidence)
	}
	if insight.ID == "" {
		insight.ID = uuid.NewString()
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return "", fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO agent_insights (id, analysis_id, role, message, confidence)
        VALUES ($1, $2, $3, $4, $5)
    `, insight.ID, insight.AnalysisID, insight.Role, insight.Message, insight.Confidence)
	if err != nil {
		return "", fmt.Errorf("insert agent insight: %w", err)
	}
	return insight.ID, nil
}

// InsightsForAnalysis returns an analysis's insights ordered by creation.
func (r *PostgresAnalysisRepository) InsightsForAnalysis(ctx context.Context, analysisID string) ([]models.AgentInsight, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT id, analysis_id, role, message, confidence, created_at
        FROM agent_insights
        WHERE analysis_id = $1
        ORDER BY created_at, id
    `, analysisID)
	if err != nil {
		return nil, fmt.Errorf("query agent insights: %w", err)
	}
	defer rows.Close()

	var insights []models.AgentInsight
	for rows.Next() {
		var ins models.AgentInsight
		if err := rows.Scan(&ins.ID, &ins.AnalysisID, &ins.Role, &ins.Message, &ins.Confidence, &ins.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan agent insight: %w", err)
		}
		insights = append(insights, ins)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agent insights: %w", err)
	}
	return insights, nil
}

func (r *PostgresAnalysisRepository) list(ctx context.Context, query string, args ...any) ([]models.Analysis, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query analyses: %w", err)
	}
	defer rows.Close()

	var analyses []models.Analysis
	for rows.Next() {
		analysis, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		analyses = append(analyses, analysis)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate analyses: %w", err)
	}
	return analyses, nil
}

func insertAnalysisQuery(analysis models.Analysis) (string, string, []any, error) {
	if analysis.OverallScore < models.ScoreMin || analysis.OverallScore > models.ScoreMax {
		return "", "", nil, fmt.Errorf("%w: %v", ErrScoreOutOfRange, analysis.OverallScore)
	}
	if analysis.ID == "" {
		analysis.ID = uuid.NewString()
	}
	analysis.Keywords = normalizeKeywords(analysis.Keywords)
	analysis.SchemaVersion = models.SchemaVersion

	keyPoints, err := json.Marshal(analysis.KeyPoints)
	if err != nil {
		return "", "", nil, fmt.Errorf("encode key points: %w", err)
	}
	keywords, err := json.Marshal(analysis.Keywords)
	if err != nil {
		return "", "", nil, fmt.Errorf("encode keywords: %w", err)
	}
	tags, err := json.Marshal(analysis.SuggestedTags)
	if err != nil {
		return "", "", nil, fmt.Errorf("encode suggested tags: %w", err)
	}
	recommendations, err := json.Marshal(analysis.Recommendations)
	if err != nil {
		return "", "", nil, fmt.Errorf("encode recommendations: %w", err)
	}

	query := `
        INSERT INTO analyses (
            id, owner_id, video_title, overall_score,
            engagement_rate, completion_rate, share_rate, comment_rate, like_rate,
            summary, key_points, keywords, suggested_tags, recommendations,
            duration_seconds, resolution, format, model_id, schema_version
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
    `
	args := []any{
		analysis.ID, analysis.OwnerID, analysis.VideoTitle, analysis.OverallScore,
		analysis.EngagementRate, analysis.CompletionRate, analysis.ShareRate, analysis.CommentRate, analysis.LikeRate,
		analysis.Summary, keyPoints, keywords, tags, recommendations,
		analysis.DurationSeconds, analysis.Resolution, analysis.Format, analysis.ModelID, analysis.SchemaVersion,
	}
	return analysis.ID, query, args, nil
}

func scanAnalysis(row rowScanner) (models.Analysis, error) {
	var (
		analysis        models.Analysis
		keyPoints       []byte
		keywords        []byte
		tags            []byte
		recommendations []byte
	)

	if err := row.Scan(
		&analysis.ID, &analysis.OwnerID, &analysis.VideoTitle, &analysis.OverallScore,
		&analysis.EngagementRate, &analysis.CompletionRate, &analysis.ShareRate, &analysis.CommentRate, &analysis.LikeRate,
		&analysis.Summary, &keyPoints, &keywords, &tags, &recommendations,
		&analysis.DurationSeconds, &analysis.Resolution, &analysis.Format, &analysis.ModelID, &analysis.SchemaVersion, &analysis.CreatedAt,
	); err != nil {
		return models.Analysis{}, err
	}

	if len(keyPoints) > 0 {
		_ = json.Unmarshal(keyPoints, &analysis.KeyPoints)
	}
	analysis.Keywords = decodeKeywords(keywords)
	if len(tags) > 0 {
		_ = json.Unmarshal(tags, &analysis.SuggestedTags)
	}
	if len(recommendations) > 0 {
		_ = json.Unmarshal(recommendations, &analysis.Recommendations)
	}
	return analysis, nil
}

var _ AnalysisRepository = (*PostgresAnalysisRepository)(nil)
