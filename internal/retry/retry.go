// Package retry provides the bounded classified retry wrapper and the
// convergence poller used to ride out transient platform failures and
// cross-platform indexing lag.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Options bounds a retried operation. Attempt n sleeps Base * 2^n before the
// next try; MaxAttempts counts total tries, not sleeps.
type Options struct {
	MaxAttempts uint64
	Base        time.Duration
}

// DefaultOptions matches the configured defaults for transient-error retry.
var DefaultOptions = Options{MaxAttempts: 5, Base: 2 * time.Second}

// Do runs op, retrying with exponential backoff while retryable classifies
// the returned error as transient. Non-retryable errors and attempt
// exhaustion surface the last error unchanged. Context cancellation stops
// the backoff sleep immediately.
func Do(ctx context.Context, name string, op func() error, retryable func(error) bool, opts Options) error {
	if opts.MaxAttempts == 0 {
		opts = DefaultOptions
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = opts.Base
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = backoffCeiling(opts)
	bo.MaxElapsedTime = 0 // Bounded by attempt count, not wall clock.

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, delay time.Duration) {
		slog.Warn("transient failure, retrying",
			"operation", name,
			"delay", delay.Round(time.Millisecond),
			"error", err,
		)
	}

	return backoff.RetryNotify(wrapped,
		backoff.WithContext(backoff.WithMaxRetries(bo, opts.MaxAttempts-1), ctx),
		notify)
}

// backoffCeiling is Base doubled once per remaining attempt, held at an hour:
// computed iteratively so an arbitrarily large configured attempt count
// cannot overflow the duration into a negative interval.
func backoffCeiling(opts Options) time.Duration {
	interval := opts.Base
	for i := uint64(1); i < opts.MaxAttempts; i++ {
		if interval >= time.Hour {
			break
		}
		interval *= 2
	}
	return interval
}
