// Package llm holds the summarization capability port, its concrete
// backends, and the prompt catalog used to build model requests.
package llm

import (
	"context"
	"errors"
)

var (
	// ErrTimeout indicates the summarizer did not answer within its deadline.
	ErrTimeout = errors.New("summarizer timeout")
	// ErrRefused indicates the backend declined to produce output.
	ErrRefused = errors.New("summarizer refused")
	// ErrBackend indicates a transport or backend failure.
	ErrBackend = errors.New("summarizer backend error")
)

// Summarizer produces free text from a fully built prompt. Implementations
// must return within their configured timeout, surfacing ErrTimeout when the
// deadline passes.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
	ModelID() string
}

// NullSummarizer is the variant used when no model backend is configured.
// It answers every prompt with an empty summary so the pipeline still scores
// and persists, just without model-derived text.
type NullSummarizer struct{}

// Summarize returns an empty summary.
func (NullSummarizer) Summarize(context.Context, string) (string, error) { return "", nil }

// ModelID identifies the null backend.
func (NullSummarizer) ModelID() string { return "null" }
