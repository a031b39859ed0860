package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Common errors
var (
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
	ErrContextCanceled    = errors.New("context canceled during retry")
)

// Backoff returns the wait before retry number n (1-based)
type Backoff func(n int) time.Duration

// Linear waits base*n before retry n
func Linear(base time.Duration) Backoff {
	return func(n int) time.Duration {
		return base * time.Duration(n)
	}
}

// Exponential waits initial*multiplier^(n-1), capped at max, with ±jitter
func Exponential(initial, max time.Duration, multiplier, jitter float64) Backoff {
	if multiplier <= 0 {
		multiplier = 2.0
	}
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}
	return func(n int) time.Duration {
		interval := float64(initial) * math.Pow(multiplier, float64(n-1))
		if jitter > 0 {
			interval += (rand.Float64()*2 - 1) * interval * jitter
		}
		if max > 0 && interval > float64(max) {
			interval = float64(max)
		}
		if interval < 0 {
			interval = float64(initial)
		}
		return time.Duration(interval)
	}
}

// Config contains retry configuration
type Config struct {
	// MaxAttempts is the total number of attempts including the first one
	MaxAttempts int
	// Backoff computes the wait between attempts
	Backoff Backoff
	// RetryIf decides whether a non-permanent error is retried. Nil retries everything.
	RetryIf func(err error) bool
}

// DefaultConfig returns exponential backoff: 1s, 2s, 4s, 8s, 16s
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: 6,
		Backoff:     Exponential(time.Second, 30*time.Second, 2.0, 0.1),
	}
}

// Operation is the function to be retried
type Operation func(ctx context.Context) error

// RetryableError wraps an error indicating it should be retried
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Retryable marks an error as retryable regardless of RetryIf
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// PermanentError wraps an error indicating it should NOT be retried
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent marks an error as permanent (not retryable)
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Result contains the result of a retry operation
type Result struct {
	// Err is the final error (nil if successful)
	Err error
	// Attempts is the total number of attempts made (including initial)
	Attempts int
	// TotalDuration is the total time spent including waits
	TotalDuration time.Duration
	// LastError is the unwrapped error from the last attempt
	LastError error
}

// Retrier runs operations under a Config
type Retrier struct {
	config *Config
}

// New creates a new Retrier with the given configuration
func New(config *Config) *Retrier {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.Backoff == nil {
		config.Backoff = Linear(0)
	}
	return &Retrier{config: config}
}

// RetryCallback is called before each wait
type RetryCallback func(attempt int, err error, nextInterval time.Duration)

// Do executes the operation with retry logic
func (r *Retrier) Do(ctx context.Context, op Operation) *Result {
	return r.DoWithCallback(ctx, op, nil)
}

// DoWithCallback executes the operation with retry logic and a callback
func (r *Retrier) DoWithCallback(ctx context.Context, op Operation, callback RetryCallback) *Result {
	start := time.Now()
	result := &Result{}
	finish := func(err, last error) *Result {
		result.Err = err
		result.LastError = last
		result.TotalDuration = time.Since(start)
		return result
	}

	var lastErr error
	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return finish(ErrContextCanceled, lastErr)
		}

		result.Attempts = attempt
		err := op(ctx)
		if err == nil {
			return finish(nil, nil)
		}

		var permErr *PermanentError
		if errors.As(err, &permErr) {
			return finish(permErr.Err, permErr.Err)
		}

		var retryErr *RetryableError
		if errors.As(err, &retryErr) {
			lastErr = retryErr.Err
		} else {
			lastErr = err
			if r.config.RetryIf != nil && !r.config.RetryIf(err) {
				return finish(err, err)
			}
		}

		if attempt == r.config.MaxAttempts {
			break
		}

		interval := r.config.Backoff(attempt)
		if callback != nil {
			callback(attempt, lastErr, interval)
		}

		if interval <= 0 {
			continue
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return finish(ErrContextCanceled, lastErr)
		case <-timer.C:
		}
	}

	return finish(ErrMaxRetriesExceeded, lastErr)
}

// Do is a convenience function that creates a retrier and executes the operation
func Do(ctx context.Context, config *Config, op Operation) *Result {
	return New(config).Do(ctx, op)
}
