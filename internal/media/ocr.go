package media

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// TesseractOCR recognizes on-screen text by shelling out to tesseract,
// one invocation per frame image.
type TesseractOCR struct {
	Binary    string
	Languages string
	Run       CommandRunner
	Timeout   time.Duration

	lookPath func(string) (string, error)
}

// NewTesseractOCR constructs an OcrEngine backed by the tesseract CLI.
// languages is a tesseract language spec such as "ita" or "ita+eng".
func NewTesseractOCR(binary, languages string, timeout time.Duration) *TesseractOCR {
	if strings.TrimSpace(binary) == "" {
		binary = "tesseract"
	}
	if strings.TrimSpace(languages) == "" {
		languages = "eng"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TesseractOCR{
		Binary:    binary,
		Languages: languages,
		Run:       defaultCommandRunner,
		Timeout:   timeout,
		lookPath:  exec.LookPath,
	}
}

// Recognize runs OCR over every frame and concatenates the non-empty
// per-frame results with newline separators, collapsing whitespace runs.
// Frames that fail to decode contribute an empty string rather than an
// error; only an absent backend fails the call.
func (o *TesseractOCR) Recognize(ctx context.Context, framePaths []string) (string, error) {
	if o.Run == nil {
		o.Run = defaultCommandRunner
	}
	if o.lookPath == nil {
		o.lookPath = exec.LookPath
	}

	if _, err := o.lookPath(o.Binary); err != nil {
		return "", fmt.Errorf("%w: %s not found", ErrOCRUnavailable, o.Binary)
	}

	var parts []string
	for _, frame := range framePaths {
		execCtx, cancel := context.WithTimeout(ctx, o.Timeout)
		out, err := o.Run(execCtx, o.Binary, frame, "stdout", "-l", o.Languages)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			continue
		}
		if text := collapseWhitespace(string(out)); text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, "\n"), nil
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var _ OcrEngine = (*TesseractOCR)(nil)
