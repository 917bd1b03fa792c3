// Package backoff provides exponential-backoff retry logic for transient errors.
//
// Usage:
//
//	err := backoff.Retry(ctx, backoff.Policy{MaxAttempts: 3, BaseDelay: time.Second}, func() error {
//	    return client.Send()
//	})
package backoff

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Policy controls the retry behaviour.
type Policy struct {
	// MaxAttempts is the total number of attempts (including the first).
	// Zero or negative values are treated as 1 (no retries).
	MaxAttempts int
	// BaseDelay is the wait before the second attempt. The wait before
	// attempt n+1 is BaseDelay * 2^(n-1).
	BaseDelay time.Duration
	// Permanent is an optional predicate marking errors that must not be
	// retried. When nil, all non-nil errors are retried.
	Permanent func(err error) bool
}

// DefaultPolicy matches the command dispatch defaults: three attempts with
// waits of 1s and 2s between them.
var DefaultPolicy = Policy{
	MaxAttempts: 3,
	BaseDelay:   time.Second,
}

// Retry calls fn up to p.MaxAttempts times, doubling the wait between
// attempts. It stops early when ctx is cancelled, fn returns nil, or fn
// returns an error classified as permanent. The error from the last attempt
// is returned.
func Retry(ctx context.Context, p Policy, fn func() error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultPolicy.BaseDelay
	}

	delay := p.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(lastErr, err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if p.Permanent != nil && p.Permanent(lastErr) {
			return lastErr
		}

		if attempt < p.MaxAttempts {
			slog.Debug("backoff: attempt failed, retrying",
				"attempt", attempt, "max", p.MaxAttempts,
				"err", lastErr, "delay", delay)

			select {
			case <-ctx.Done():
				return errors.Join(lastErr, ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return lastErr
}
