package media

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FFprobeProber reads container metadata via the ffprobe CLI.
type FFprobeProber struct {
	Binary  string
	Run     CommandRunner
	Timeout time.Duration
}

// NewFFprobeProber constructs a Prober backed by ffprobe.
func NewFFprobeProber(binary string, timeout time.Duration) *FFprobeProber {
	if strings.TrimSpace(binary) == "" {
		binary = "ffprobe"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FFprobeProber{Binary: binary, Run: defaultCommandRunner, Timeout: timeout}
}

// Probe returns duration, resolution, and container format for the video.
func (p *FFprobeProber) Probe(ctx context.Context, videoPath string) (ProbeInfo, error) {
	if p.Run == nil {
		p.Run = defaultCommandRunner
	}

	execCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	out, err := p.Run(execCtx, p.Binary,
		"-v", "error",
		"-show_entries", "format=duration,format_name:stream=width,height",
		"-select_streams", "v:0",
		"-of", "json",
		videoPath,
	)
	if err != nil {
		return ProbeInfo{}, fmt.Errorf("%w: ffprobe: %v", ErrAssetUnreadable, err)
	}

	var payload struct {
		Format struct {
			Duration   string `json:"duration"`
			FormatName string `json:"format_name"`
		} `json:"format"`
		Streams []struct {
			Width  int `json:"width"`
			Height int `json:"height"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(out, &payload); err != nil {
		return ProbeInfo{}, fmt.Errorf("parse ffprobe response: %w", err)
	}

	info := ProbeInfo{Format: payload.Format.FormatName}
	if d, err := strconv.ParseFloat(payload.Format.Duration, 64); err == nil {
		info.DurationSeconds = d
	}
	if len(payload.Streams) > 0 {
		info.Resolution = fmt.Sprintf("%dx%d", payload.Streams[0].Width, payload.Streams[0].Height)
	}
	return info, nil
}

var _ Prober = (*FFprobeProber)(nil)
