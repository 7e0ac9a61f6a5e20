package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cliplens/backend/internal/assetstore"
	"github.com/cliplens/backend/internal/models"
	"github.com/cliplens/backend/internal/repositories"
)

// AssetCache is the slice of the asset store the downloader writes to.
type AssetCache interface {
	Has(externalID string) bool
	Put(ctx context.Context, externalID string, r io.Reader, sidecar assetstore.Sidecar) error
}

// DownloaderConfig controls the concurrency characteristics of the downloader.
type DownloaderConfig struct {
	QueueSize int
	Workers   int
}

// Downloader asynchronously fetches video bytes and commits them to the
// asset cache, advancing download_state as it goes.
type Downloader struct {
	provider Provider
	cache    AssetCache
	videos   repositories.VideoRepository
	logger   *slog.Logger

	jobs   chan models.SavedVideo
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

var errDownloaderClosed = errors.New("downloader closed")

// NewDownloader starts the worker pool.
func NewDownloader(provider Provider, cache AssetCache, videos repositories.VideoRepository, cfg DownloaderConfig, logger *slog.Logger) *Downloader {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Downloader{
		provider: provider,
		cache:    cache,
		videos:   videos,
		logger:   logger,
		jobs:     make(chan models.SavedVideo, cfg.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}

	d.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go d.worker()
	}
	return d
}

// Enqueue schedules a download for the saved video.
func (d *Downloader) Enqueue(ctx context.Context, video models.SavedVideo) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.ctx.Done():
		return errDownloaderClosed
	default:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.ctx.Done():
		return errDownloaderClosed
	case d.jobs <- video:
		return nil
	}
}

// Shutdown waits for the worker pool to drain outstanding jobs.
func (d *Downloader) Shutdown(ctx context.Context) error {
	d.once.Do(func() {
		d.cancel()
		close(d.jobs)
	})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (d *Downloader) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case video, ok := <-d.jobs:
			if !ok {
				return
			}
			d.handleJob(video)
		}
	}
}

func (d *Downloader) handleJob(video models.SavedVideo) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if d.cache.Has(video.ExternalID) {
		d.recordSuccess(video, 0)
		return
	}

	size, err := d.fetchAndCommit(ctx, video)
	if err != nil {
		d.logger.Error("video download failed",
			"video_id", video.ID, "external_id", video.ExternalID, "error", err)
		d.recordFailure(video)
		return
	}
	d.recordSuccess(video, size)
}

func (d *Downloader) fetchAndCommit(ctx context.Context, video models.SavedVideo) (int64, error) {
	tmpDir, err := os.MkdirTemp("", "download-")
	if err != nil {
		return 0, fmt.Errorf("create download dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	path, size, err := d.provider.Download(ctx, video.SourceURL, tmpDir)
	if err != nil {
		return 0, err
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open downloaded file: %w", err)
	}
	defer f.Close()

	sidecar := assetstore.Sidecar{
		ExternalID:   video.ExternalID,
		OwnerID:      video.OwnerID,
		SourceURL:    video.SourceURL,
		SizeBytes:    size,
		DownloadedAt: time.Now().UTC(),
	}
	if err := d.cache.Put(ctx, video.ExternalID, f, sidecar); err != nil {
		return 0, fmt.Errorf("commit asset: %w", err)
	}
	return size, nil
}

func (d *Downloader) recordSuccess(video models.SavedVideo, size int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := d.videos.SetDownloadState(ctx, video.ID, models.DownloadDownloaded, video.ExternalID, size); err != nil {
		d.logger.Error("mark video downloaded", "video_id", video.ID, "error", err)
	}
}

func (d *Downloader) recordFailure(video models.SavedVideo) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := d.videos.SetDownloadState(ctx, video.ID, models.DownloadFailed, "", 0); err != nil {
		d.logger.Error("mark video failed", "video_id", video.ID, "error", err)
	}
}
