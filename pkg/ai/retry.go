package ai

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryConfig controls the backoff used by RetryGenerator.
type RetryConfig struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
}

// DefaultRetryConfig returns conservative retry settings for plan generation.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		InitialWait: 500 * time.Millisecond,
		MaxWait:     5 * time.Second,
		Multiplier:  2,
	}
}

// RetryGenerator retries transient generator failures with exponential backoff and jitter.
type RetryGenerator struct {
	inner  Generator
	config RetryConfig
}

// WithRetry wraps a Generator with retry logic.
func WithRetry(inner Generator, cfg RetryConfig) Generator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2
	}
	return &RetryGenerator{inner: inner, config: cfg}
}

func (r *RetryGenerator) Generate(ctx context.Context, input PlanInput) (Plan, error) {
	var lastErr error
	invalidRetried := false

	for attempt := 0; attempt < r.config.MaxAttempts; attempt++ {
		plan, err := r.inner.Generate(ctx, input)
		if err == nil {
			return plan, nil
		}
		lastErr = err

		if !shouldRetry(ctx, err, &invalidRetried) {
			return Plan{}, err
		}

		if attempt == r.config.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return Plan{}, &ErrProviderUnavailable{Err: ctx.Err()}
		case <-time.After(r.backoff(attempt, err)):
		}
	}

	return Plan{}, lastErr
}

func shouldRetry(ctx context.Context, err error, invalidRetried *bool) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// malformed output gets a single second chance
	var invalid *ErrInvalidResponse
	if errors.As(err, &invalid) {
		if *invalidRetried {
			return false
		}
		*invalidRetried = true
	}

	return true
}

func (r *RetryGenerator) backoff(attempt int, err error) time.Duration {
	var rateLimited *ErrRateLimit
	if errors.As(err, &rateLimited) && rateLimited.RetryAfter > 0 {
		return rateLimited.RetryAfter
	}

	wait := float64(r.config.InitialWait) * math.Pow(r.config.Multiplier, float64(attempt))
	if r.config.MaxWait > 0 && wait > float64(r.config.MaxWait) {
		wait = float64(r.config.MaxWait)
	}

	// ±20% jitter
	wait += wait * 0.2 * (2*rand.Float64() - 1)
	if wait < 0 {
		wait = 0
	}
	return time.Duration(wait)
}
