package repositories

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/cockroachdb/cockroach-go/v2/testserver"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cliplens/backend/internal/models"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	server, err := testserver.NewTestServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "start cockroach test server: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, server.PGURL().String())
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to cockroach test server: %v\n", err)
		server.Stop()
		os.Exit(1)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		fmt.Fprintf(os.Stderr, "apply migrations: %v\n", err)
		pool.Close()
		server.Stop()
		os.Exit(1)
	}

	testPool = pool

	code := m.Run()

	pool.Close()
	server.Stop()

	os.Exit(code)
}

func TestPostgresOwnerRepository_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	repo := NewPostgresOwnerRepository(testPool)

	owner, err := repo.Create(ctx, NewOwner{Username: "alice", Email: "Alice@Example.com", Password: "secret"})
	if err != nil {
		t.Fatalf("create owner: %v", err)
	}
	if owner.ID == 0 {
		t.Fatalf("expected assigned owner id")
	}
	if owner.Email != "alice@example.com" {
		t.Fatalf("expected lowercased email, got %q", owner.Email)
	}

	if _, err := repo.Create(ctx, NewOwner{Username: "alice", Email: "other@example.com", Password: "x"}); !errors.Is(err, ErrDuplicateOwner) {
		t.Fatalf("expected ErrDuplicateOwner for duplicate username, got %v", err)
	}

	fetched, err := repo.FindByID(ctx, owner.ID)
	if err != nil {
		t.Fatalf("find by id: %v", err)
	}
	if fetched.Username != "alice" {
		t.Fatalf("unexpected owner fetched: %+v", fetched)
	}

	if _, err := repo.FindByID(ctx, owner.ID+999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown owner, got %v", err)
	}
}

func TestPostgresVideoRepository_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	owner := createTestOwner(t, "upsert@example.com")
	repo := NewPostgresVideoRepository(testPool)

	views := int64(100)
	first, err := repo.Upsert(ctx, models.SavedVideo{
		OwnerID:    owner.ID,
		ExternalID: "1001",
		SourceURL:  "https://example.com/v/1001",
		Title:      "First title",
		Views:      &views,
	})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if first.AnalysisState != models.AnalysisNew || first.DownloadState != models.DownloadPending {
		t.Fatalf("unexpected initial lifecycle: %+v", first)
	}

	// Pretend the video already completed analysis, then import again.
	analysisRepo := NewPostgresAnalysisRepository(testPool)
	analysisID, err := analysisRepo.SaveAndLink(ctx, models.Analysis{OwnerID: owner.ID, OverallScore: 5}, first.ID)
	if err != nil {
		t.Fatalf("save and link: %v", err)
	}

	second, err := repo.Upsert(ctx, models.SavedVideo{
		OwnerID:    owner.ID,
		ExternalID: "1001",
		Title:      "Updated title",
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	if second.ID != first.ID {
		t.Fatalf("expected a single row, got ids %s and %s", first.ID, second.ID)
	}
	if second.Title != "Updated title" {
		t.Fatalf("expected mutable fields to update, got %q", second.Title)
	}
	if second.Views == nil || *second.Views != views {
		t.Fatalf("expected engagement counters to survive nil update, got %+v", second.Views)
	}
	if second.AnalysisState != models.AnalysisAnalyzed || second.AnalysisRef != analysisID {
		t.Fatalf("re-import must not reset lifecycle state: %+v", second)
	}
}

func TestPostgresVideoRepository_StateMachine(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	owner := createTestOwner(t, "states@example.com")
	repo := NewPostgresVideoRepository(testPool)
	analysisRepo := NewPostgresAnalysisRepository(testPool)

	video, err := repo.Upsert(ctx, models.SavedVideo{OwnerID: owner.ID, ExternalID: "2001"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	analysisID, err := analysisRepo.Save(ctx, models.Analysis{OwnerID: owner.ID, OverallScore: 7.5})
	if err != nil {
		t.Fatalf("save analysis: %v", err)
	}

	if err := repo.MarkAnalyzed(ctx, video.ID, analysisID); err != nil {
		t.Fatalf("mark analyzed: %v", err)
	}

	fetched, err := repo.FindByID(ctx, video.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if fetched.AnalysisState != models.AnalysisAnalyzed || fetched.AnalysisRef != analysisID || fetched.AnalyzedAt == nil {
		t.Fatalf("expected analyzed with ref and timestamp, got %+v", fetched)
	}

	// analyzed -> analyzed and analyzed -> error are both refused.
	if err := repo.MarkAnalyzed(ctx, video.ID, analysisID); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition re-marking analyzed, got %v", err)
	}
	if err := repo.MarkAnalysisFailed(ctx, video.ID); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition failing analyzed video, got %v", err)
	}

	if err := repo.ResetToNew(ctx, video.ID); err != nil {
		t.Fatalf("reset to new: %v", err)
	}
	fetched, err = repo.FindByID(ctx, video.ID)
	if err != nil {
		t.Fatalf("find after reset: %v", err)
	}
	if fetched.AnalysisState != models.AnalysisNew || fetched.AnalysisRef != "" || fetched.AnalyzedAt != nil {
		t.Fatalf("expected cleared lifecycle after reset, got %+v", fetched)
	}

	// History is preserved: the analysis row survives the reset.
	if _, err := analysisRepo.FindByID(ctx, analysisID); err != nil {
		t.Fatalf("expected analysis row to survive reset: %v", err)
	}

	if err := repo.ResetToNew(ctx, video.ID); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition resetting a new video, got %v", err)
	}
	if err := repo.MarkAnalyzed(ctx, uuid.NewString(), analysisID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown video, got %v", err)
	}
}

func TestPostgresAnalysisRepository_SaveAndLinkAtomicity(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	owner := createTestOwner(t, "atomic@example.com")
	videoRepo := NewPostgresVideoRepository(testPool)
	analysisRepo := NewPostgresAnalysisRepository(testPool)

	video, err := videoRepo.Upsert(ctx, models.SavedVideo{OwnerID: owner.ID, ExternalID: "3001"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := videoRepo.MarkAnalysisFailed(ctx, video.ID); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	// The video is in error: the linked write must roll back entirely.
	if _, err := analysisRepo.SaveAndLink(ctx, models.Analysis{OwnerID: owner.ID, OverallScore: 3}, video.ID); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}

	analyses, err := analysisRepo.ListForOwner(ctx, owner.ID, 10)
	if err != nil {
		t.Fatalf("list analyses: %v", err)
	}
	if len(analyses) != 0 {
		t.Fatalf("expected no orphan analysis rows, got %d", len(analyses))
	}
}

func TestPostgresAnalysisRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	owner := createTestOwner(t, "roundtrip@example.com")
	repo := NewPostgresAnalysisRepository(testPool)

	engagement := 4.2
	id, err := repo.Save(ctx, models.Analysis{
		OwnerID:        owner.ID,
		VideoTitle:     "Hook tutorial",
		OverallScore:   5.2,
		EngagementRate: &engagement,
		Summary:        "contains viral hook",
		KeyPoints:      []string{"strong opening", "clear CTA"},
		Keywords:       []string{" Viral ", "hook", "VIRAL"},
		SuggestedTags:  []string{"#viral"},
		Recommendations: []models.Recommendation{
			{Kind: "timing", Text: "post between 18:00 and 21:00"},
		},
		DurationSeconds: 42.5,
		Resolution:      "1080x1920",
		Format:          "mp4",
		ModelID:         "gemini-1.5-flash",
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := repo.FindByID(ctx, id)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if loaded.OverallScore != 5.2 {
		t.Fatalf("unexpected score %v", loaded.OverallScore)
	}
	if len(loaded.Keywords) != 2 || loaded.Keywords[0] != "viral" || loaded.Keywords[1] != "hook" {
		t.Fatalf("expected normalized keywords, got %v", loaded.Keywords)
	}
	if loaded.SchemaVersion != models.SchemaVersion {
		t.Fatalf("unexpected schema version %d", loaded.SchemaVersion)
	}
	if len(loaded.Recommendations) != 1 || loaded.Recommendations[0].Kind != "timing" {
		t.Fatalf("unexpected recommendations %+v", loaded.Recommendations)
	}

	if _, err := repo.Save(ctx, models.Analysis{OwnerID: owner.ID, OverallScore: 101}); !errors.Is(err, ErrScoreOutOfRange) {
		t.Fatalf("expected ErrScoreOutOfRange, got %v", err)
	}

	insightID, err := repo.SaveInsight(ctx, models.AgentInsight{
		AnalysisID: id,
		Role:       models.InsightRoleStrategist,
		Message:    "lean into the opening hook",
		Confidence: 0.8,
	})
	if err != nil {
		t.Fatalf("save insight: %v", err)
	}

	insights, err := repo.InsightsForAnalysis(ctx, id)
	if err != nil {
		t.Fatalf("list insights: %v", err)
	}
	if len(insights) != 1 || insights[0].ID != insightID {
		t.Fatalf("unexpected insights %+v", insights)
	}
}

func TestPostgresSessionRepository_SingleActiveSession(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	owner := createTestOwner(t, "sessions@example.com")
	repo := NewPostgresSessionRepository(testPool)

	first, err := repo.Activate(ctx, models.OwnerSession{
		OwnerID:        owner.ID,
		ProviderHandle: "@creator",
		Credentials:    []byte(`{"cookie":"a"}`),
		LoginMethod:    "qr",
		ExpiresAt:      time.Now().UTC().Add(24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("activate first: %v", err)
	}

	second, err := repo.Activate(ctx, models.OwnerSession{
		OwnerID:     owner.ID,
		Credentials: []byte(`{"cookie":"b"}`),
		LoginMethod: "password",
		ExpiresAt:   time.Now().UTC().Add(24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("activate second: %v", err)
	}

	active, err := repo.Active(ctx, owner.ID)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if active.ID != second.ID {
		t.Fatalf("expected latest session active, got %s (want %s)", active.ID, second.ID)
	}
	if active.ID == first.ID {
		t.Fatalf("prior session still active")
	}

	if err := repo.Touch(ctx, second.ID); err != nil {
		t.Fatalf("touch: %v", err)
	}

	if err := repo.Deactivate(ctx, owner.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := repo.Active(ctx, owner.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after deactivate, got %v", err)
	}
}

func TestPostgresVideoRepository_ListByAnalysisState(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	owner := createTestOwner(t, "lists@example.com")
	repo := NewPostgresVideoRepository(testPool)

	var ids []string
	for i := 0; i < 3; i++ {
		v, err := repo.Upsert(ctx, models.SavedVideo{OwnerID: owner.ID, ExternalID: fmt.Sprintf("40%02d", i)})
		if err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
		ids = append(ids, v.ID)
	}

	if err := repo.SetDownloadState(ctx, ids[0], models.DownloadDownloaded, "4000", 1024); err != nil {
		t.Fatalf("set download state: %v", err)
	}

	pending, err := repo.ListByAnalysisState(ctx, owner.ID, models.AnalysisNew)
	if err != nil {
		t.Fatalf("list new: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 new videos, got %d", len(pending))
	}
	if pending[0].ID != ids[0] {
		t.Fatalf("expected stable oldest-first ordering")
	}
	if pending[0].DownloadState != models.DownloadDownloaded || pending[0].LocalAssetRef != "4000" {
		t.Fatalf("download state not persisted: %+v", pending[0])
	}
	if pending[0].DownloadedAt == nil {
		t.Fatalf("expected downloaded_at to be stamped")
	}
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrationsDir := filepath.Join("..", "..", "migrations")
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		contents, err := os.ReadFile(filepath.Join(migrationsDir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		if _, err := pool.Exec(ctx, string(contents)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
	}

	return nil
}

func resetDatabase(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	conn, err := testPool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire connection: %v", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "TRUNCATE TABLE agent_insights, owner_sessions, saved_videos, analyses, library_owners CASCADE"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
}

func createTestOwner(t *testing.T, email string) models.LibraryOwner {
	t.Helper()
	repo := NewPostgresOwnerRepository(testPool)
	owner, err := repo.Create(context.Background(), NewOwner{
		Username: uuid.NewString()[:8],
		Email:    email,
		Password: "password",
	})
	if err != nil {
		t.Fatalf("create test owner: %v", err)
	}
	return owner
}
