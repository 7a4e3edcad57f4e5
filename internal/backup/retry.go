package backup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"expensia/internal/clock"
	"expensia/internal/drive"
)

// RetryOptions configures backoff for idempotent remote reads.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// withRetry runs op until it succeeds, fails with a non-transient error or
// runs out of attempts. The last error is returned wrapped. Backoff sleeps
// run on clk.
func withRetry(ctx context.Context, clk clock.Clock, opts RetryOptions, op func() error) error {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = 200 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 5 * time.Second
	}
	if opts.Multiplier <= 0 {
		opts.Multiplier = 2.0
	}

	delay := opts.InitialDelay
	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if !drive.IsTransient(err) {
			return err
		}
		if attempt == opts.MaxAttempts {
			return fmt.Errorf("after %d attempts: %w", attempt, err)
		}

		slog.WarnContext(ctx, "Remote call failed, retrying",
			"attempt", attempt,
			"max_attempts", opts.MaxAttempts,
			"delay", delay,
			"error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clk.After(delay):
		}
		delay = time.Duration(float64(delay) * opts.Multiplier)
		if delay > opts.MaxDelay {
			delay = opts.MaxDelay
		}
	}
}
