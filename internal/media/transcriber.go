package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// WhisperTranscriber converts a video's audio track to text by shelling out
// to the whisper CLI, which writes a .txt transcript next to its output dir.
type WhisperTranscriber struct {
	Binary  string
	Model   string
	Run     CommandRunner
	Timeout time.Duration

	lookPath func(string) (string, error)
}

// NewWhisperTranscriber constructs a Transcriber backed by the whisper CLI.
func NewWhisperTranscriber(binary, model string, timeout time.Duration) *WhisperTranscriber {
	if strings.TrimSpace(binary) == "" {
		binary = "whisper"
	}
	if strings.TrimSpace(model) == "" {
		model = "base"
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &WhisperTranscriber{
		Binary:   binary,
		Model:    model,
		Run:      defaultCommandRunner,
		Timeout:  timeout,
		lookPath: exec.LookPath,
	}
}

// Transcribe runs whisper on the video and returns the transcript text.
// A transcript cut short by the tool is still returned as success.
func (t *WhisperTranscriber) Transcribe(ctx context.Context, videoPath, languageHint string) (string, error) {
	if t.Run == nil {
		t.Run = defaultCommandRunner
	}
	if t.lookPath == nil {
		t.lookPath = exec.LookPath
	}

	if _, err := t.lookPath(t.Binary); err != nil {
		return "", fmt.Errorf("%w: %s not found", ErrTranscriberUnavailable, t.Binary)
	}

	outDir, err := os.MkdirTemp("", "transcript-")
	if err != nil {
		return "", fmt.Errorf("create transcript directory: %w", err)
	}
	defer os.RemoveAll(outDir)

	execCtx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	args := []string{
		videoPath,
		"--model", t.Model,
		"--output_format", "txt",
		"--output_dir", outDir,
	}
	if languageHint != "" {
		args = append(args, "--language", languageHint)
	}

	_, runErr := t.Run(execCtx, t.Binary, args...)

	base := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
	data, readErr := os.ReadFile(filepath.Join(outDir, base+".txt"))
	if readErr != nil {
		if runErr != nil {
			return "", fmt.Errorf("whisper transcription: %w", runErr)
		}
		return "", fmt.Errorf("read transcript: %w", readErr)
	}

	// Partial output with a non-zero exit is still a usable transcript.
	return strings.TrimSpace(string(data)), nil
}

var _ Transcriber = (*WhisperTranscriber)(nil)
