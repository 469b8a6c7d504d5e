package recovery

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/seekwell/apply-cli/internal/config"
)

// Backoff computes the delay before re-attempting after the given attempt
// count: min(initial * multiplier^attempt, max), plus optional jitter.
func Backoff(attempt int, cfg config.RetryConfig) time.Duration {
	base := float64(cfg.InitialBackoff())
	delay := base * math.Pow(cfg.Multiplier, float64(attempt))

	max := float64(cfg.MaxBackoff())
	if delay > max {
		delay = max
	}

	if cfg.JitterFraction > 0 {
		jitter := delay * cfg.JitterFraction
		delay = delay - jitter + rand.Float64()*2*jitter
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// RetryWithBackoff executes fn up to maxRetries+1 times, sleeping a capped
// exponential backoff between attempts. The last observed error is returned
// if every attempt fails. Context cancellation stops retries immediately.
func RetryWithBackoff(ctx context.Context, cfg config.RetryConfig, maxRetries int, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if ctx.Err() != nil {
			return lastErr
		}

		// No sleep after the last attempt.
		if attempt == maxRetries {
			break
		}

		timer := time.NewTimer(Backoff(attempt, cfg))
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}
	return lastErr
}

// RetryWithBackoffVal is RetryWithBackoff for functions returning a value.
func RetryWithBackoffVal[T any](ctx context.Context, cfg config.RetryConfig, maxRetries int, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var result T
	err := RetryWithBackoff(ctx, cfg, maxRetries, func(ctx context.Context) error {
		var fnErr error
		result, fnErr = fn(ctx)
		return fnErr
	})
	if err != nil {
		return zero, err
	}
	return result, nil
}
