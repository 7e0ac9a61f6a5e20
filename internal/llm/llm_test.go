package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestCatalogNames(t *testing.T) {
	catalog := NewCatalog()
	want := []string{"audience", "engagement", "optimization", "summary", "trend", "viral_potential"}
	got := catalog.Names()
	if len(got) != len(want) {
		t.Fatalf("expected %d prompts, got %d: %v", len(want), len(got), got)
	}
	for i, name := range want {
		if got[i] != name {
			t.Fatalf("prompt %d: expected %q, got %q", i, name, got[i])
		}
	}
}

func TestCatalogBuildSummary(t *testing.T) {
	catalog := NewCatalog()
	prompt, err := catalog.Build("summary", PromptParams{
		Transcript: "ciao a tutti",
		OCRText:    "LINK IN BIO",
		Language:   "it",
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for _, fragment := range []string{"ciao a tutti", "LINK IN BIO", "it"} {
		if !strings.Contains(prompt, fragment) {
			t.Fatalf("prompt missing %q:\n%s", fragment, prompt)
		}
	}
}

func TestCatalogBuildIsDeterministic(t *testing.T) {
	catalog := NewCatalog()
	params := PromptParams{Transcript: "a", OCRText: "b", Keywords: []string{"viral", "hook"}}

	first, err := catalog.Build("viral_potential", params)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	second, err := catalog.Build("viral_potential", params)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if first != second {
		t.Fatalf("same params produced different prompts")
	}
	if !strings.Contains(first, "viral, hook") {
		t.Fatalf("keywords not rendered:\n%s", first)
	}
}

func TestCatalogBuildUnknownPrompt(t *testing.T) {
	catalog := NewCatalog()
	if _, err := catalog.Build("sentiment", PromptParams{}); !errors.Is(err, ErrUnknownPrompt) {
		t.Fatalf("expected ErrUnknownPrompt, got %v", err)
	}
}

func TestCatalogDefaultsLanguage(t *testing.T) {
	catalog := NewCatalog()
	prompt, err := catalog.Build("audience", PromptParams{Transcript: "x"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.Contains(prompt, "Answer in it.") {
		t.Fatalf("expected default language in prompt:\n%s", prompt)
	}
}

func TestCatalogOptimizationRendersScore(t *testing.T) {
	catalog := NewCatalog()
	prompt, err := catalog.Build("optimization", PromptParams{TargetScore: 5.2})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.Contains(prompt, "5.20") {
		t.Fatalf("expected formatted score in prompt:\n%s", prompt)
	}
}

type recordingSummarizer struct {
	calls   int
	answer  string
	err     error
	lastCtx context.Context
}

func (r *recordingSummarizer) Summarize(ctx context.Context, prompt string) (string, error) {
	r.calls++
	r.lastCtx = ctx
	return r.answer, r.err
}

func (r *recordingSummarizer) ModelID() string { return "recording" }

func TestRateLimitedDelegates(t *testing.T) {
	base := &recordingSummarizer{answer: "ok"}
	limited := NewRateLimited(base, 600)

	out, err := limited.Summarize(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if out != "ok" || base.calls != 1 {
		t.Fatalf("unexpected delegation: out=%q calls=%d", out, base.calls)
	}
	if limited.ModelID() != "recording" {
		t.Fatalf("unexpected model id %q", limited.ModelID())
	}
}

func TestRateLimitedHonorsCancellation(t *testing.T) {
	base := &recordingSummarizer{answer: "ok"}
	limited := NewRateLimited(base, 1) // one request per minute, burst 1

	if _, err := limited.Summarize(context.Background(), "first"); err != nil {
		t.Fatalf("first call: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := limited.Summarize(ctx, "second"); err == nil {
		t.Fatalf("expected context error while awaiting quota")
	}
	if base.calls != 1 {
		t.Fatalf("second call should not reach backend, calls=%d", base.calls)
	}
}

func TestNullSummarizer(t *testing.T) {
	var s NullSummarizer
	out, err := s.Summarize(context.Background(), "anything")
	if err != nil || out != "" {
		t.Fatalf("unexpected result %q %v", out, err)
	}
}
