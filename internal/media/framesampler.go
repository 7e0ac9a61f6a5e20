package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Frames is an ordered set of sampled frame images in a temporary directory.
// Callers own the directory and release it with Cleanup once OCR is done, so
// frames never accumulate in memory or on disk across videos.
type Frames struct {
	Dir   string
	Paths []string
}

// Cleanup removes the frame directory and all extracted images.
func (f *Frames) Cleanup() {
	if f == nil || f.Dir == "" {
		return
	}
	_ = os.RemoveAll(f.Dir)
}

// FFmpegSampler extracts frames by shelling out to ffmpeg.
type FFmpegSampler struct {
	Binary  string
	Run     CommandRunner
	Timeout time.Duration
}

// NewFFmpegSampler constructs a FrameSampler backed by the ffmpeg CLI.
func NewFFmpegSampler(binary string, timeout time.Duration) *FFmpegSampler {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &FFmpegSampler{
		Binary:  binary,
		Run:     defaultCommandRunner,
		Timeout: timeout,
	}
}

// Sample extracts every stride-th frame of the video into JPEG files and
// returns them in frame order. It fails with ErrAssetUnreadable when the
// input cannot be opened or yields zero frames.
func (s *FFmpegSampler) Sample(ctx context.Context, videoPath string, stride int) (*Frames, error) {
	if stride < 1 {
		return nil, fmt.Errorf("frame stride %d must be >= 1", stride)
	}
	if s.Run == nil {
		s.Run = defaultCommandRunner
	}

	if _, err := os.Stat(videoPath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrAssetUnreadable, videoPath)
	}

	dir, err := os.MkdirTemp("", "frames-")
	if err != nil {
		return nil, fmt.Errorf("create frame directory: %w", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", videoPath,
		"-vf", fmt.Sprintf(`select=not(mod(n\,%d))`, stride),
		"-vsync", "vfr",
		"-q:v", "3",
		filepath.Join(dir, "frame_%05d.jpg"),
	}
	if _, err := s.Run(execCtx, s.Binary, args...); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("%w: ffmpeg: %v", ErrAssetUnreadable, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("read frame directory: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jpg") {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)

	if len(paths) == 0 {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("%w: no frames extracted from %s", ErrAssetUnreadable, videoPath)
	}

	return &Frames{Dir: dir, Paths: paths}, nil
}

var _ FrameSampler = (*FFmpegSampler)(nil)
