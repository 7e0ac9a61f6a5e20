package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited wraps a Summarizer with a request budget so bursts of batch
// analyses stay inside the backend's quota. Waiting counts against the
// caller's context, not against the summarizer timeout.
type RateLimited struct {
	base    Summarizer
	limiter *rate.Limiter
}

// NewRateLimited allows up to requestsPerMinute calls, with a burst of one.
func NewRateLimited(base Summarizer, requestsPerMinute int) *RateLimited {
	if requestsPerMinute < 1 {
		requestsPerMinute = 1
	}
	interval := rate.Limit(float64(requestsPerMinute) / 60.0)
	return &RateLimited{base: base, limiter: rate.NewLimiter(interval, 1)}
}

// Summarize blocks until the limiter grants a slot, then delegates.
func (r *RateLimited) Summarize(ctx context.Context, prompt string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("await summarizer quota: %w", err)
	}
	return r.base.Summarize(ctx, prompt)
}

// ModelID reports the wrapped backend's model name.
func (r *RateLimited) ModelID() string { return r.base.ModelID() }

var _ Summarizer = (*RateLimited)(nil)
