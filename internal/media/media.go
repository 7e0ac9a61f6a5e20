// Package media holds the capability ports for the frame, text, and audio
// extraction stages of the analysis pipeline. Concrete variants shell out to
// local tools (ffmpeg, tesseract, whisper) through an injectable command
// runner; null variants exist for configurations without a backend.
package media

import (
	"context"
	"errors"
	"os/exec"
)

var (
	// ErrAssetUnreadable indicates the video bytes exist but cannot be decoded.
	ErrAssetUnreadable = errors.New("video asset unreadable")
	// ErrOCRUnavailable indicates the OCR backend is not installed.
	ErrOCRUnavailable = errors.New("ocr backend unavailable")
	// ErrTranscriberUnavailable indicates the transcription backend is not installed.
	ErrTranscriberUnavailable = errors.New("transcription backend unavailable")
)

// CommandRunner executes external commands and returns stdout bytes.
type CommandRunner func(ctx context.Context, binary string, args ...string) ([]byte, error)

func defaultCommandRunner(ctx context.Context, binary string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	return cmd.Output()
}

// DefaultCommandRunner is the CommandRunner used when none is injected.
var DefaultCommandRunner CommandRunner = defaultCommandRunner

// FrameSampler extracts every Nth frame of a video to image files.
type FrameSampler interface {
	Sample(ctx context.Context, videoPath string, stride int) (*Frames, error)
}

// OcrEngine recognizes on-screen text across a set of frame images and
// returns the concatenated result. Empty frames yield an empty string.
type OcrEngine interface {
	Recognize(ctx context.Context, framePaths []string) (string, error)
}

// Transcriber converts a video's audio track to text. Partial transcripts
// are reported as success with whatever text was produced.
type Transcriber interface {
	Transcribe(ctx context.Context, videoPath, languageHint string) (string, error)
}

// Prober reads container-level metadata from a video file.
type Prober interface {
	Probe(ctx context.Context, videoPath string) (ProbeInfo, error)
}

// ProbeInfo is the technical metadata attached to an analysis.
type ProbeInfo struct {
	DurationSeconds float64
	Resolution      string
	Format          string
}

// NullOCR is the variant used when no OCR backend is configured.
type NullOCR struct{}

// Recognize always returns an empty string.
func (NullOCR) Recognize(context.Context, []string) (string, error) { return "", nil }

// NullTranscriber is the variant used when no transcription backend is configured.
type NullTranscriber struct{}

// Transcribe always returns an empty string.
func (NullTranscriber) Transcribe(context.Context, string, string) (string, error) { return "", nil }
