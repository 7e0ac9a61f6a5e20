// Package assetstore is the content-addressed local cache for downloaded
// video bytes. Assets are keyed by the provider's external video id and
// stored as an immutable pair: `<id>.mp4` plus a `<id>_meta.json` sidecar.
// The sidecar is written last and its presence is the commit marker, so a
// reader never observes a half-written pair.
package assetstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrAssetMissing indicates no committed asset exists for the external id.
var ErrAssetMissing = errors.New("asset missing from cache")

// Sidecar is the JSON metadata stored alongside each cached asset.
type Sidecar struct {
	ExternalID   string            `json:"external_id"`
	OwnerID      int64             `json:"owner_id"`
	SourceURL    string            `json:"source_url"`
	SizeBytes    int64             `json:"size_bytes"`
	DownloadedAt time.Time         `json:"downloaded_at"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// Stats summarizes cache occupancy.
type Stats struct {
	Count      int
	TotalBytes int64
}

// Mirror receives a copy of every committed asset, typically an S3 bucket
// used as an off-box archive. Mirror failures never fail a Put.
type Mirror interface {
	Save(ctx context.Context, name string, r io.Reader) (string, error)
}

// Store is a content-addressed cache rooted at a local directory.
// Bytes are never mutated in place; replacement is evict plus re-put.
type Store struct {
	root   string
	mirror Mirror
	logger *slog.Logger

	mu sync.Mutex
}

// Option customises a Store.
type Option func(*Store)

// WithMirror attaches an archive mirror that receives committed assets.
func WithMirror(m Mirror) Option {
	return func(s *Store) { s.mirror = m }
}

// WithLogger sets the logger used for mirror warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates the cache root if needed and returns a Store.
func New(root string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("asset store: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create cache root: %w", err)
	}

	store := &Store{root: root, logger: slog.Default()}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

func (s *Store) videoPath(externalID string) string {
	return filepath.Join(s.root, externalID+".mp4")
}

func (s *Store) sidecarPath(externalID string) string {
	return filepath.Join(s.root, externalID+"_meta.json")
}

// Has reports whether both the bytes file and its sidecar are present.
func (s *Store) Has(externalID string) bool {
	if _, err := os.Stat(s.sidecarPath(externalID)); err != nil {
		return false
	}
	if _, err := os.Stat(s.videoPath(externalID)); err != nil {
		return false
	}
	return true
}

// Put commits the asset bytes and sidecar for the external id. Concurrent
// puts on the same key are serialized; if the asset is already committed the
// call is a no-op and the reader's bytes are drained and discarded.
func (s *Store) Put(ctx context.Context, externalID string, r io.Reader, sidecar Sidecar) error {
	if strings.TrimSpace(externalID) == "" {
		return errors.New("asset store: external id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Has(externalID) {
		_, _ = io.Copy(io.Discard, r)
		return nil
	}

	tmpVideo, err := os.CreateTemp(s.root, "put-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp asset: %w", err)
	}
	defer os.Remove(tmpVideo.Name())

	size, err := io.Copy(tmpVideo, r)
	if cerr := tmpVideo.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write asset bytes: %w", err)
	}

	sidecar.ExternalID = externalID
	sidecar.SizeBytes = size
	if sidecar.DownloadedAt.IsZero() {
		sidecar.DownloadedAt = time.Now().UTC()
	}
	meta, err := json.MarshalIndent(sidecar, "", "  ")
	if err != nil {
		return fmt.Errorf("encode sidecar: %w", err)
	}

	tmpMeta, err := os.CreateTemp(s.root, "meta-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp sidecar: %w", err)
	}
	defer os.Remove(tmpMeta.Name())

	if _, err := tmpMeta.Write(meta); err != nil {
		tmpMeta.Close()
		return fmt.Errorf("write sidecar: %w", err)
	}
	if err := tmpMeta.Close(); err != nil {
		return fmt.Errorf("close sidecar: %w", err)
	}

	// Bytes first, sidecar second: the sidecar rename is the commit point.
	if err := os.Rename(tmpVideo.Name(), s.videoPath(externalID)); err != nil {
		return fmt.Errorf("commit asset bytes: %w", err)
	}
	if err := os.Rename(tmpMeta.Name(), s.sidecarPath(externalID)); err != nil {
		_ = os.Remove(s.videoPath(externalID))
		return fmt.Errorf("commit sidecar: %w", err)
	}

	s.mirrorAsset(ctx, externalID)
	return nil
}

func (s *Store) mirrorAsset(ctx context.Context, externalID string) {
	if s.mirror == nil {
		return
	}

	file, err := os.Open(s.videoPath(externalID))
	if err != nil {
		s.logger.Warn("open asset for mirroring", "externalId", externalID, "error", err)
		return
	}
	defer file.Close()

	if _, err := s.mirror.Save(ctx, externalID+".mp4", file); err != nil {
		s.logger.Warn("mirror asset", "externalId", externalID, "error", err)
	}
}

// Path returns the local bytes path for a committed asset.
func (s *Store) Path(externalID string) (string, error) {
	if !s.Has(externalID) {
		return "", ErrAssetMissing
	}
	return s.videoPath(externalID), nil
}

// SidecarFor returns the sidecar record for a committed asset.
func (s *Store) SidecarFor(externalID string) (Sidecar, error) {
	if !s.Has(externalID) {
		return Sidecar{}, ErrAssetMissing
	}

	data, err := os.ReadFile(s.sidecarPath(externalID))
	if err != nil {
		return Sidecar{}, fmt.Errorf("read sidecar: %w", err)
	}

	var sidecar Sidecar
	if err := json.Unmarshal(data, &sidecar); err != nil {
		return Sidecar{}, fmt.Errorf("parse sidecar: %w", err)
	}
	return sidecar, nil
}

// Evict removes both files for the external id; it is a no-op if absent.
// The sidecar goes first so a concurrent reader never sees bytes without it.
func (s *Store) Evict(externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.sidecarPath(externalID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove sidecar: %w", err)
	}
	if err := os.Remove(s.videoPath(externalID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove asset bytes: %w", err)
	}
	return nil
}

// Stats walks the cache root and reports committed asset count and bytes.
func (s *Store) Stats() (Stats, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return Stats{}, fmt.Errorf("read cache root: %w", err)
	}

	var stats Stats
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".mp4") {
			continue
		}
		externalID := strings.TrimSuffix(name, ".mp4")
		if !s.Has(externalID) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		stats.Count++
		stats.TotalBytes += info.Size()
	}
	return stats, nil
}
