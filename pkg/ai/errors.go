package ai

import (
	"errors"
	"fmt"
	"time"
)

// ErrUpstreamGeneration is matched by every failure surfaced from a generator.
var ErrUpstreamGeneration = errors.New("text generation failed")

// ErrRateLimit indicates the provider throttled the request.
type ErrRateLimit struct {
	RetryAfter time.Duration
	Err        error
}

func (e *ErrRateLimit) Error() string {
	return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
}

func (e *ErrRateLimit) Unwrap() error { return e.Err }

func (e *ErrRateLimit) Is(target error) bool { return target == ErrUpstreamGeneration }

// ErrInvalidResponse indicates the provider answered with content that is not a valid plan.
type ErrInvalidResponse struct {
	Content string
	Err     error
}

func (e *ErrInvalidResponse) Error() string {
	return fmt.Sprintf("invalid plan response: %v", e.Err)
}

func (e *ErrInvalidResponse) Unwrap() error { return e.Err }

func (e *ErrInvalidResponse) Is(target error) bool { return target == ErrUpstreamGeneration }

// ErrProviderUnavailable indicates the provider could not be reached or failed server side.
type ErrProviderUnavailable struct {
	Err error
}

func (e *ErrProviderUnavailable) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("generation provider unavailable: %v", e.Err)
	}
	return "generation provider unavailable"
}

func (e *ErrProviderUnavailable) Unwrap() error { return e.Err }

func (e *ErrProviderUnavailable) Is(target error) bool { return target == ErrUpstreamGeneration }
