// Package retry provides bounded retries with exponential backoff for
// collaborator clients. The workflow state machine itself never retries;
// callers wrap their own external calls so the orchestrator sees each call
// as either succeeded or definitively failed.
package retry

import (
	"context"
	"math/rand"
	"time"
)

const (
	defaultMaxRetries = 3
	defaultBaseWait   = time.Second
	defaultMaxWait    = 30 * time.Second
)

type config struct {
	maxRetries int
	baseWait   time.Duration
	maxWait    time.Duration
}

// Option configures retry behavior.
type Option func(*config)

// WithMaxRetries sets the number of retries after the initial attempt.
// Zero means the function runs exactly once.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// WithBaseWait sets the wait before the first retry. Each subsequent retry
// doubles the wait, up to the maximum.
func WithBaseWait(d time.Duration) Option {
	return func(c *config) { c.baseWait = d }
}

// WithMaxWait caps the wait between retries.
func WithMaxWait(d time.Duration) Option {
	return func(c *config) { c.maxWait = d }
}

// Do runs fn, retrying recoverable errors with exponential backoff and
// jitter. Non-recoverable errors and context cancellation return immediately.
// The last error observed is returned when retries are exhausted.
func Do(ctx context.Context, fn func() error, opts ...Option) error {
	cfg := config{
		maxRetries: defaultMaxRetries,
		baseWait:   defaultBaseWait,
		maxWait:    defaultMaxWait,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.maxRetries; attempt++ {
		if attempt > 0 {
			wait := backoffWait(cfg, attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsRecoverable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// backoffWait computes the wait before the given retry attempt (1-based),
// doubling from the base and adding up to 25% jitter.
func backoffWait(cfg config, attempt int) time.Duration {
	wait := cfg.baseWait
	for i := 1; i < attempt; i++ {
		wait *= 2
		if wait >= cfg.maxWait {
			wait = cfg.maxWait
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(wait)/4 + 1))
	wait += jitter
	if wait > cfg.maxWait {
		wait = cfg.maxWait
	}
	return wait
}
