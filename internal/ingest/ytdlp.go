// Package ingest imports saved videos from the provider: metadata lookup
// and byte download happen through the yt-dlp CLI, and downloaded assets
// are committed to the local cache before the video's download state
// advances.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cliplens/backend/internal/media"
)

// ErrProviderUnavailable indicates the metadata provider is not configured.
var ErrProviderUnavailable = errors.New("video metadata provider unavailable")

// Metadata is the provider-side description of one short video.
type Metadata struct {
	ExternalID    string
	Title         string
	CreatorHandle string
	Views         *int64
	Likes         *int64
	Comments      *int64
	Shares        *int64
}

// Provider resolves metadata and bytes for a video URL.
type Provider interface {
	Lookup(ctx context.Context, url string) (Metadata, error)
	Download(ctx context.Context, url, destDir string) (string, int64, error)
}

// YTDLPClient talks to the yt-dlp CLI for both lookup and download.
type YTDLPClient struct {
	Binary  string
	Run     media.CommandRunner
	Timeout time.Duration
}

// NewYTDLPClient constructs a Provider that shells out to yt-dlp.
func NewYTDLPClient(binary string, timeout time.Duration) *YTDLPClient {
	if strings.TrimSpace(binary) == "" {
		binary = "yt-dlp"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &YTDLPClient{Binary: binary, Run: media.DefaultCommandRunner, Timeout: timeout}
}

// Lookup executes yt-dlp in metadata-only mode and parses the JSON response.
func (c *YTDLPClient) Lookup(ctx context.Context, url string) (Metadata, error) {
	if c == nil {
		return Metadata{}, ErrProviderUnavailable
	}
	run := c.runner()

	execCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	out, err := run(execCtx, c.Binary,
		"--dump-single-json", "--no-warnings", "--no-playlist", "--skip-download", url)
	if err != nil {
		return Metadata{}, fmt.Errorf("yt-dlp lookup: %w", err)
	}

	var payload struct {
		ID           string `json:"id"`
		Title        string `json:"title"`
		Uploader     string `json:"uploader"`
		ViewCount    *int64 `json:"view_count"`
		LikeCount    *int64 `json:"like_count"`
		CommentCount *int64 `json:"comment_count"`
		RepostCount  *int64 `json:"repost_count"`
	}
	if err := json.Unmarshal(out, &payload); err != nil {
		return Metadata{}, fmt.Errorf("parse yt-dlp response: %w", err)
	}
	if payload.ID == "" {
		return Metadata{}, errors.New("yt-dlp returned no video id")
	}

	return Metadata{
		ExternalID:    payload.ID,
		Title:         payload.Title,
		CreatorHandle: payload.Uploader,
		Views:         payload.ViewCount,
		Likes:         payload.LikeCount,
		Comments:      payload.CommentCount,
		Shares:        payload.RepostCount,
	}, nil
}

// Download fetches the video bytes into destDir and returns the file path
// and size. Downloads get a longer leash than lookups.
func (c *YTDLPClient) Download(ctx context.Context, url, destDir string) (string, int64, error) {
	if c == nil {
		return "", 0, ErrProviderUnavailable
	}
	run := c.runner()

	dest := filepath.Join(destDir, "video.mp4")
	execCtx, cancel := context.WithTimeout(ctx, maxDuration(4*c.Timeout, 2*time.Minute))
	defer cancel()

	if _, err := run(execCtx, c.Binary,
		"--no-warnings", "--no-playlist",
		"-f", "mp4", "-o", dest, url); err != nil {
		return "", 0, fmt.Errorf("yt-dlp download: %w", err)
	}

	info, err := os.Stat(dest)
	if err != nil {
		return "", 0, fmt.Errorf("downloaded file missing: %w", err)
	}
	if info.Size() == 0 {
		return "", 0, errors.New("yt-dlp produced an empty file")
	}
	return dest, info.Size(), nil
}

func (c *YTDLPClient) runner() media.CommandRunner {
	if c.Run != nil {
		return c.Run
	}
	return media.DefaultCommandRunner
}

func maxDuration(a, b time.Duration) time.Duration {
	if a >= b {
		return a
	}
	return b
}

var _ Provider = (*YTDLPClient)(nil)
