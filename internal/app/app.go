// Package app is the CLI entry point: command dispatch, configuration
// loading, dependency wiring, and the migration runner.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cliplens/backend/internal/config"
	"github.com/cliplens/backend/internal/db"
	"github.com/cliplens/backend/internal/library"
	"github.com/cliplens/backend/internal/logging"
	"github.com/cliplens/backend/internal/models"
	"github.com/cliplens/backend/internal/repositories"
	"github.com/cliplens/backend/internal/scheduler"
)

// Run bootstraps the cliplens CLI.
func Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("expected command: schedule, analyze, import, trends, video, owner, or migrate")
	}

	switch args[0] {
	case "schedule":
		return runSchedule(ctx, args[1:])
	case "analyze":
		return runAnalyze(ctx, args[1:])
	case "import":
		return runImport(ctx, args[1:])
	case "trends":
		return runTrends(ctx, args[1:])
	case "video":
		return runVideo(ctx, args[1:])
	case "owner":
		return runOwner(ctx, args[1:])
	case "migrate":
		return runMigrations(ctx, args[1:])
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func loadConfig(path string) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logging.Level(cfg.LogLevel),
	}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func runSchedule(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("schedule", flag.ContinueOnError)
	ownerID := fs.Int64("owner-id", 0, "library owner to schedule (required)")
	interval := fs.Int("interval", 60, "minutes between batch runs")
	status := fs.Bool("status", false, "print scheduler state as JSON and exit")
	stop := fs.Bool("stop", false, "ask a running scheduler to stop and exit")
	configPath := fs.String("config", "config.yaml", "path to the configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, logger, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	state, err := scheduler.NewStateFile(filepath.Join(cfg.OutputFolder, "scheduler"))
	if err != nil {
		return err
	}

	if *status {
		statuses, err := state.ReadStatus()
		if err != nil {
			return err
		}
		return json.NewEncoder(os.Stdout).Encode(statuses)
	}
	if *stop {
		if err := state.RequestStop(); err != nil {
			return err
		}
		fmt.Println("stop requested")
		return nil
	}

	if *ownerID <= 0 {
		return errors.New("schedule: --owner-id must be a positive integer")
	}
	if *interval <= 0 {
		return errors.New("schedule: --interval must be a positive number of minutes")
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	deps, err := buildDependencies(ctx, pool, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close()

	if err := deps.sched.Start(ctx, *ownerID, time.Duration(*interval)*time.Minute); err != nil {
		return err
	}
	defer deps.sched.StopAll()
	defer state.Clear()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("context canceled, stopping scheduler")
			return nil
		case sig := <-signalCh:
			logger.Info("received signal, stopping scheduler", "signal", sig.String())
			return nil
		case <-ticker.C:
			if state.StopRequested() {
				logger.Info("stop marker found, stopping scheduler")
				return nil
			}
			if ownerStatus, ok := deps.sched.Status(*ownerID); ok {
				if err := state.WriteStatus([]scheduler.OwnerStatus{ownerStatus}); err != nil {
					logger.Warn("write scheduler status", "error", err)
				}
			}
		}
	}
}

func runAnalyze(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	ownerID := fs.Int64("owner-id", 0, "analyze every pending video of this owner")
	videoID := fs.String("video-id", "", "analyze a single saved video")
	configPath := fs.String("config", "config.yaml", "path to the configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *ownerID <= 0 && *videoID == "" {
		return errors.New("analyze: provide --owner-id or --video-id")
	}

	cfg, logger, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	deps, err := buildDependencies(ctx, pool, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close()

	if *videoID != "" {
		video, err := deps.videos.FindByID(ctx, *videoID)
		if err != nil {
			return fmt.Errorf("find video %s: %w", *videoID, err)
		}
		result := deps.pipeline.Analyze(ctx, video)
		if err := json.NewEncoder(os.Stdout).Encode(result); err != nil {
			return err
		}
		if !result.OK {
			return fmt.Errorf("analysis failed: %s", result.Kind)
		}
		return nil
	}

	summary := deps.batch.Run(ctx, *ownerID, func(percent int, message string) {
		logger.Info("batch progress", "percent", percent, "message", message)
	})
	if err := json.NewEncoder(os.Stdout).Encode(summary); err != nil {
		return err
	}
	if summary.Error != "" {
		return errors.New(summary.Error)
	}
	return nil
}

func runImport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	ownerID := fs.Int64("owner-id", 0, "library owner importing the video (required)")
	url := fs.String("url", "", "source video URL (required)")
	skipDownload := fs.Bool("skip-download", false, "register the video without fetching bytes")
	configPath := fs.String("config", "config.yaml", "path to the configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *ownerID <= 0 || *url == "" {
		return errors.New("import: --owner-id and --url are required")
	}

	cfg, logger, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	deps, err := buildDependencies(ctx, pool, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close()

	meta, err := deps.provider.Lookup(ctx, *url)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", *url, err)
	}

	video, err := deps.videos.Upsert(ctx, models.SavedVideo{
		OwnerID:       *ownerID,
		ExternalID:    meta.ExternalID,
		SourceURL:     *url,
		Title:         meta.Title,
		CreatorHandle: meta.CreatorHandle,
		Views:         meta.Views,
		Likes:         meta.Likes,
		Comments:      meta.Comments,
		Shares:        meta.Shares,
	})
	if err != nil {
		return fmt.Errorf("save video: %w", err)
	}
	logger.Info("video saved", "video_id", video.ID, "external_id", video.ExternalID)

	if *skipDownload {
		return json.NewEncoder(os.Stdout).Encode(video)
	}

	downloader := newDownloader(deps, cfg, logger)
	if err := downloader.Enqueue(ctx, video); err != nil {
		return err
	}
	if err := downloader.Shutdown(ctx); err != nil {
		return err
	}

	video, err = deps.videos.FindByID(ctx, video.ID)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(os.Stdout).Encode(video); err != nil {
		return err
	}
	if video.DownloadState != models.DownloadDownloaded {
		return fmt.Errorf("download did not complete: state %s", video.DownloadState)
	}
	return nil
}

func runTrends(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("trends", flag.ContinueOnError)
	ownerID := fs.Int64("owner-id", 0, "library owner to aggregate (required)")
	days := fs.Int("days", 30, "lookback window in days")
	kind := fs.String("kind", "keywords", "one of keywords, emotions, themes, timeline")
	configPath := fs.String("config", "config.yaml", "path to the configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *ownerID <= 0 {
		return errors.New("trends: --owner-id must be a positive integer")
	}

	cfg, logger, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	deps, err := buildDependencies(ctx, pool, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close()

	var out any
	switch *kind {
	case "keywords":
		out, err = deps.trends.AggregateKeywords(ctx, *ownerID, *days)
	case "emotions":
		out, err = deps.trends.AggregateEmotions(ctx, *ownerID, *days)
	case "themes":
		out, err = deps.trends.ContentThemes(ctx, *ownerID, *days)
	case "timeline":
		out, err = deps.trends.TrendOverTime(ctx, *ownerID, *days)
	default:
		return fmt.Errorf("trends: unknown kind %q", *kind)
	}
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(out)
}

func runVideo(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("video: expected subcommand reanalyze, retry, or list")
	}
	sub := args[0]

	fs := flag.NewFlagSet("video "+sub, flag.ContinueOnError)
	videoID := fs.String("video-id", "", "saved video id")
	ownerID := fs.Int64("owner-id", 0, "library owner (list only)")
	configPath := fs.String("config", "config.yaml", "path to the configuration file")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	cfg, logger, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	videos := repositories.NewPostgresVideoRepository(pool)
	machine := library.New(videos, logger)

	switch sub {
	case "reanalyze", "retry":
		if *videoID == "" {
			return fmt.Errorf("video %s: --video-id is required", sub)
		}
		if sub == "reanalyze" {
			err = machine.RequestReanalysis(ctx, *videoID)
		} else {
			err = machine.RequestRetry(ctx, *videoID)
		}
		if err != nil {
			return err
		}
		fmt.Printf("video %s queued for analysis\n", *videoID)
		return nil
	case "list":
		if *ownerID <= 0 {
			return errors.New("video list: --owner-id must be a positive integer")
		}
		listed, err := videos.ListWithAnalysis(ctx, *ownerID)
		if err != nil {
			return err
		}
		return json.NewEncoder(os.Stdout).Encode(listed)
	default:
		return fmt.Errorf("video: unknown subcommand %q", sub)
	}
}

func runOwner(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] != "create" {
		return errors.New("owner: expected subcommand create")
	}

	fs := flag.NewFlagSet("owner create", flag.ContinueOnError)
	username := fs.String("username", "", "owner username (required)")
	email := fs.String("email", "", "owner email (required)")
	password := fs.String("password", "", "owner password (required)")
	configPath := fs.String("config", "config.yaml", "path to the configuration file")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if *username == "" || *email == "" || *password == "" {
		return errors.New("owner create: --username, --email, and --password are required")
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	owners := repositories.NewPostgresOwnerRepository(pool)
	owner, err := owners.Create(ctx, repositories.NewOwner{
		Username: *username,
		Email:    *email,
		Password: *password,
	})
	if err != nil {
		if errors.Is(err, repositories.ErrDuplicateOwner) {
			return fmt.Errorf("owner %q already exists", *username)
		}
		return err
	}

	fmt.Printf("created owner %d (%s)\n", owner.ID, owner.Username)
	return nil
}

const (
	migrationMaxRetries  = 3
	migrationBaseBackoff = 100 * time.Millisecond
	migrationMaxBackoff  = 3 * time.Second
)

var retryablePgErrorCodes = map[string]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"55P03": {}, // lock_not_available
}

func runMigrations(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to the configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	command := "up"
	if fs.NArg() > 0 {
		command = fs.Arg(0)
	}

	migrationDir := cfg.MigrationDir
	if !filepath.IsAbs(migrationDir) {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("determine working directory: %w", err)
		}
		migrationDir = filepath.Join(wd, migrationDir)
	}

	entries, err := os.ReadDir(migrationDir)
	if err != nil {
		return fmt.Errorf("read migrations directory: %w", err)
	}

	var migrations []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if filepath.Ext(entry.Name()) != ".sql" {
			continue
		}
		migrations = append(migrations, entry.Name())
	}

	sort.Strings(migrations)

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
                version TEXT PRIMARY KEY,
                applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`); err != nil {
		return fmt.Errorf("ensure schema_migrations table: %w", err)
	}

	rows, err := conn.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("fetch applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]struct{})
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return fmt.Errorf("scan applied migration: %w", err)
		}
		applied[version] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate applied migrations: %w", err)
	}

	switch command {
	case "status":
		for _, name := range migrations {
			if _, ok := applied[name]; ok {
				fmt.Printf("[x] %s\n", name)
			} else {
				fmt.Printf("[ ] %s\n", name)
			}
		}
		return nil
	case "up", "":
		if len(migrations) == 0 {
			fmt.Println("no migrations to apply")
			return nil
		}

		for _, name := range migrations {
			if _, ok := applied[name]; ok {
				continue
			}

			path := filepath.Join(migrationDir, name)
			contents, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read migration %s: %w", name, err)
			}

			if err := applyMigrationWithRetry(ctx, conn, name, string(contents)); err != nil {
				return err
			}

			fmt.Printf("applied migration %s\n", name)
		}
		return nil
	case "down":
		return errors.New("down migrations are not supported yet")
	default:
		return fmt.Errorf("unknown migrate command %q", command)
	}
}

func applyMigrationWithRetry(ctx context.Context, conn *pgxpool.Conn, name string, contents string) error {
	var attempt int
	for attempt = 0; attempt < migrationMaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * migrationBaseBackoff
			if backoff > migrationMaxBackoff {
				backoff = migrationMaxBackoff
			}
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			timer.Stop()
		}

		tx, err := conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return fmt.Errorf("begin migration transaction for %s: %w", name, err)
		}

		if _, err := tx.Exec(ctx, contents); err != nil {
			_ = tx.Rollback(ctx)
			if shouldRetryMigration(err) && attempt < migrationMaxRetries-1 {
				fmt.Printf("transient error applying migration %s (attempt %d/%d): %v\n", name, attempt+1, migrationMaxRetries, err)
				continue
			}
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, name); err != nil {
			_ = tx.Rollback(ctx)
			if shouldRetryMigration(err) && attempt < migrationMaxRetries-1 {
				fmt.Printf("transient error recording migration %s (attempt %d/%d): %v\n", name, attempt+1, migrationMaxRetries, err)
				continue
			}
			return fmt.Errorf("record migration %s: %w", name, err)
		}

		if err := tx.Commit(ctx); err != nil {
			_ = tx.Rollback(ctx)
			if shouldRetryMigration(err) && attempt < migrationMaxRetries-1 {
				fmt.Printf("transient error committing migration %s (attempt %d/%d): %v\n", name, attempt+1, migrationMaxRetries, err)
				continue
			}
			return fmt.Errorf("commit migration %s: %w", name, err)
		}

		return nil
	}

	return fmt.Errorf("apply migration %s: exceeded max retries (%d)", name, attempt)
}

func shouldRetryMigration(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if _, ok := retryablePgErrorCodes[pgErr.Code]; ok {
			return true
		}
	}

	if errors.Is(err, pgx.ErrTxClosed) {
		return true
	}

	return false
}
