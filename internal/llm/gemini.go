package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/cliplens/backend/internal/config"
)

// GeminiSummarizer answers prompts through the Gemini API. Each call is
// bounded by the configured timeout so a stalled backend cannot wedge the
// analysis pipeline.
type GeminiSummarizer struct {
	model   *genai.GenerativeModel
	modelID string
	timeout time.Duration
}

// NewGeminiClient dials the Gemini API with the supplied key.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%w: missing api key", ErrBackend)
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return client, nil
}

// NewGeminiSummarizer configures a generative model from the llm section of
// the service configuration.
func NewGeminiSummarizer(client *genai.Client, cfg config.LLMConfig) *GeminiSummarizer {
	model := client.GenerativeModel(cfg.Model)
	model.SetTemperature(float32(cfg.Temperature))
	model.SetMaxOutputTokens(int32(cfg.MaxTokens))

	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GeminiSummarizer{model: model, modelID: cfg.Model, timeout: timeout}
}

// Summarize sends the prompt and returns the concatenated text parts of the
// first candidate.
func (g *GeminiSummarizer) Summarize(ctx context.Context, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.model.GenerateContent(callCtx, genai.Text(prompt))
	if err != nil {
		var blocked *genai.BlockedError
		switch {
		case errors.As(err, &blocked):
			return "", fmt.Errorf("%w: %v", ErrRefused, err)
		case errors.Is(err, context.DeadlineExceeded):
			return "", fmt.Errorf("%w after %s", ErrTimeout, g.timeout)
		case ctx.Err() != nil:
			return "", ctx.Err()
		default:
			return "", fmt.Errorf("%w: %v", ErrBackend, err)
		}
	}

	text, err := extractText(resp)
	if err != nil {
		return "", err
	}
	return text, nil
}

// ModelID reports the configured Gemini model name.
func (g *GeminiSummarizer) ModelID() string { return g.modelID }

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates", ErrRefused)
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", fmt.Errorf("%w: safety finish", ErrRefused)
	}
	if candidate.Content == nil {
		return "", fmt.Errorf("%w: empty candidate", ErrRefused)
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "", fmt.Errorf("%w: candidate carried no text", ErrRefused)
	}
	return out, nil
}

var _ Summarizer = (*GeminiSummarizer)(nil)
