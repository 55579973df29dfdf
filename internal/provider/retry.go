package provider

import (
	"context"
	"log/slog"
	"time"
)

// Retrying wraps an LLMProvider with bounded exponential backoff on
// transient failures. Terminal failures surface immediately.
type Retrying struct {
	inner       LLMProvider
	maxAttempts int
	baseDelay   time.Duration
}

// WithRetry wraps prov so transient errors are retried up to maxAttempts
// times total, backing off baseDelay, 2*baseDelay, 4*baseDelay, ...
func WithRetry(prov LLMProvider, maxAttempts int, baseDelay time.Duration) *Retrying {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	return &Retrying{inner: prov, maxAttempts: maxAttempts, baseDelay: baseDelay}
}

// DefaultModel returns the wrapped provider's default model.
func (r *Retrying) DefaultModel() string {
	return r.inner.DefaultModel()
}

// Chat calls the wrapped provider, retrying transient failures.
func (r *Retrying) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	var lastErr error
	delay := r.baseDelay

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		resp, err := r.inner.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !IsTransient(err) || attempt == r.maxAttempts {
			return nil, err
		}

		slog.Warn("Provider call failed, retrying",
			"attempt", attempt, "max", r.maxAttempts, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil, lastErr
}
