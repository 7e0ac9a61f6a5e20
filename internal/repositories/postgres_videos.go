package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cliplens/backend/internal/db"
	"github.com/cliplens/backend/internal/models"
)

const videoColumns = `
        id, owner_id, external_id, source_url, title, creator_handle,
        views, likes, comments, shares,
        download_state, analysis_state, local_asset_ref, analysis_ref,
        first_seen_at, downloaded_at, analyzed_at`

// PostgresVideoRepository provides PostgreSQL-backed persistence for saved videos.
type PostgresVideoRepository struct {
	pool db.Pool
}

// NewPostgresVideoRepository constructs a video repository backed by PostgreSQL.
func NewPostgresVideoRepository(pool db.Pool) *PostgresVideoRepository {
	return &PostgresVideoRepository{pool: pool}
}

// Upsert inserts or updates a saved video keyed on (owner_id, external_id).
// Lifecycle columns are written on first insert only; later calls refresh the
// mutable metadata and engagement counters.
func (r *PostgresVideoRepository) Upsert(ctx context.Context, video models.SavedVideo) (models.SavedVideo, error) {
	if strings.TrimSpace(video.ExternalID) == "" {
		return models.SavedVideo{}, errors.New("saved video external id must be provided")
	}
	if video.ID == "" {
		video.ID = uuid.NewString()
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.SavedVideo{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        INSERT INTO saved_videos (
            id, owner_id, external_id, source_url, title, creator_handle,
            views, likes, comments, shares,
            download_state, analysis_state
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        ON CONFLICT (owner_id, external_id) DO UPDATE SET
            source_url = EXCLUDED.source_url,
            title = EXCLUDED.title,
            creator_handle = EXCLUDED.creator_handle,
            views = COALESCE(EXCLUDED.views, saved_videos.views),
            likes = COALESCE(EXCLUDED.likes, saved_videos.likes),
            comments = COALESCE(EXCLUDED.comments, saved_videos.comments),
            shares = COALESCE(EXCLUDED.shares, saved_videos.shares)
        RETURNING `+videoColumns+`
    `, video.ID, video.OwnerID, video.ExternalID, video.SourceURL, video.Title, video.CreatorHandle,
		video.Views, video.Likes, video.Comments, video.Shares,
		string(models.DownloadPending), string(models.AnalysisNew))

	out, err := scanVideo(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return models.SavedVideo{}, ErrNotFound
		}
		return models.SavedVideo{}, fmt.Errorf("upsert saved video: %w", err)
	}
	return out, nil
}

// FindByID fetches a saved video by identifier.
func (r *PostgresVideoRepository) FindByID(ctx context.Context, id string) (models.SavedVideo, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.SavedVideo{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `SELECT `+videoColumns+` FROM saved_videos WHERE id = $1`, id)
	video, err := scanVideo(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.SavedVideo{}, ErrNotFound
		}
		return models.SavedVideo{}, fmt.Errorf("select saved video: %w", err)
	}
	return video, nil
}

// ListByAnalysisState returns an owner's videos in the given analysis state,
// oldest first. The ordering is stable within a batch run.
func (r *PostgresVideoRepository) ListByAnalysisState(ctx context.Context, ownerID int64, state models.AnalysisState) ([]models.SavedVideo, error) {
	if !state.Valid() {
		return nil, fmt.Errorf("invalid analysis state %q", state)
	}
	return r.list(ctx, `
        SELECT `+videoColumns+`
        FROM saved_videos
        WHERE owner_id = $1 AND analysis_state = $2
        ORDER BY first_seen_at, id
    `, ownerID, string(state))
}

// ListWithAnalysis returns an owner's analyzed videos, most recent first.
func (r *PostgresVideoRepository) ListWithAnalysis(ctx context.Context, ownerID int64) ([]models.SavedVideo, error) {
	return r.list(ctx, `
        SELECT `+videoColumns+`
        FROM saved_videos
        WHERE owner_id = $1 AND analysis_state = $2 AND analysis_ref IS NOT NULL
        ORDER BY analyzed_at DESC
    `, ownerID, string(models.AnalysisAnalyzed))
}

// SetDownloadState advances the download lifecycle. downloaded_at is stamped
// only when the state becomes downloaded; a failed download clears the asset
// reference so the cache pointer never outlives its state.
func (r *PostgresVideoRepository) SetDownloadState(ctx context.Context, videoID string, state models.DownloadState, localAssetRef string, sizeBytes int64) error {
	if !state.Valid() {
		return fmt.Errorf("invalid download state %q", state)
	}
	if state != models.DownloadDownloaded {
		localAssetRef = ""
		sizeBytes = 0
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE saved_videos
        SET download_state = $2,
            local_asset_ref = $3,
            size_bytes = $4,
            downloaded_at = CASE WHEN $2 = 'downloaded' THEN NOW() ELSE downloaded_at END
        WHERE id = $1
    `, videoID, string(state), localAssetRef, sizeBytes)
	if err != nil {
		return fmt.Errorf("update download state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAnalyzed moves a video from new to analyzed, recording the analysis
// reference and timestamp in the same statement.
func (r *PostgresVideoRepository) MarkAnalyzed(ctx context.Context, videoID, analysisID string) error {
	return r.transition(ctx, videoID, `
        UPDATE saved_videos
        SET analysis_state = 'analyzed', analysis_ref = $2, analyzed_at = NOW()
        WHERE id = $1 AND analysis_state = 'new'
    `, videoID, analysisID)
}

// MarkAnalysisFailed moves a video from new to error. No analysis reference
// is recorded; the failure cause lives in the logs.
func (r *PostgresVideoRepository) MarkAnalysisFailed(ctx context.Context, videoID string) error {
	return r.transition(ctx, videoID, `
        UPDATE saved_videos
        SET analysis_state = 'error'
        WHERE id = $1 AND analysis_state = 'new'
    `, videoID)
}

// ResetToNew returns an analyzed or errored video to new for re-analysis.
// Prior analysis rows are kept; only the pointer on the video is cleared.
func (r *PostgresVideoRepository) ResetToNew(ctx context.Context, videoID string) error {
	return r.transition(ctx, videoID, `
        UPDATE saved_videos
        SET analysis_state = 'new', analysis_ref = NULL, analyzed_at = NULL
        WHERE id = $1 AND analysis_state IN ('analyzed', 'error')
    `, videoID)
}

func (r *PostgresVideoRepository) transition(ctx context.Context, videoID, query string, args ...any) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update analysis state: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// The guard did not match: distinguish a missing row from a refused move.
	var current string
	row := conn.QueryRow(ctx, `SELECT analysis_state FROM saved_videos WHERE id = $1`, videoID)
	if err := row.Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("select analysis state: %w", err)
	}
	return fmt.Errorf("%w: video %s is %s", ErrIllegalTransition, videoID, current)
}

func (r *PostgresVideoRepository) list(ctx context.Context, query string, args ...any) ([]models.SavedVideo, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query saved videos: %w", err)
	}
	defer rows.Close()

	var videos []models.SavedVideo
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan saved video: %w", err)
		}
		videos = append(videos, video)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate saved videos: %w", err)
	}
	return videos, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVideo(row rowScanner) (models.SavedVideo, error) {
	var (
		video         models.SavedVideo
		downloadState string
		analysisState string
		localAssetRef sql.NullString
		analysisRef   sql.NullString
		downloadedAt  sql.NullTime
		analyzedAt    sql.NullTime
	)

	if err := row.Scan(
		&video.ID, &video.OwnerID, &video.ExternalID, &video.SourceURL, &video.Title, &video.CreatorHandle,
		&video.Views, &video.Likes, &video.Comments, &video.Shares,
		&downloadState, &analysisState, &localAssetRef, &analysisRef,
		&video.FirstSeenAt, &downloadedAt, &analyzedAt,
	); err != nil {
		return models.SavedVideo{}, err
	}

	video.DownloadState = models.DownloadState(downloadState)
	video.AnalysisState = models.AnalysisState(analysisState)
	video.LocalAssetRef = localAssetRef.String
	video.AnalysisRef = analysisRef.String
	if downloadedAt.Valid {
		t := downloadedAt.Time.UTC()
		video.DownloadedAt = &t
	}
	if analyzedAt.Valid {
		t := analyzedAt.Time.UTC()
		video.AnalyzedAt = &t
	}
	return video, nil
}

var _ VideoRepository = (*PostgresVideoRepository)(nil)
