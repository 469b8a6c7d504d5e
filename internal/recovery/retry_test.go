package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/seekwell/apply-cli/internal/config"
)

func fastRetryConfig() config.RetryConfig {
	return config.RetryConfig{
		MaxAttempts:      3,
		InitialBackoffMs: 1,
		MaxBackoffMs:     5,
		Multiplier:       2.0,
		JitterFraction:   0,
	}
}

func TestRetryWithBackoff_SuccessFirstAttempt(t *testing.T) {
	var calls int
	err := RetryWithBackoff(context.Background(), fastRetryConfig(), 3, func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetryWithBackoff_AtMostNPlusOneCalls(t *testing.T) {
	var calls int
	last := errors.New("final failure")
	err := RetryWithBackoff(context.Background(), fastRetryConfig(), 2, func(_ context.Context) error {
		calls++
		if calls == 3 {
			return last
		}
		return errors.New("earlier failure")
	})
	if calls != 3 {
		t.Errorf("expected maxRetries+1 = 3 calls, got %d", calls)
	}
	if !errors.Is(err, last) {
		t.Errorf("expected last observed error, got %v", err)
	}
}

func TestRetryWithBackoff_SuccessAfterRetry(t *testing.T) {
	var calls int
	err := RetryWithBackoff(context.Background(), fastRetryConfig(), 3, func(_ context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	err := RetryWithBackoff(ctx, fastRetryConfig(), 5, func(_ context.Context) error {
		calls++
		cancel()
		return errors.New("failing")
	})
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if calls != 1 {
		t.Errorf("expected 1 call after cancellation, got %d", calls)
	}
}

func TestRetryWithBackoffVal(t *testing.T) {
	var calls int
	got, err := RetryWithBackoffVal(context.Background(), fastRetryConfig(), 2, func(_ context.Context) (int, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("not yet")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
}

func TestBackoff_CapAndGrowth(t *testing.T) {
	cfg := config.RetryConfig{
		InitialBackoffMs: 100,
		MaxBackoffMs:     400,
		Multiplier:       2.0,
		JitterFraction:   0,
	}

	if got := Backoff(0, cfg); got != 100*time.Millisecond {
		t.Errorf("attempt 0: got %v, want 100ms", got)
	}
	if got := Backoff(1, cfg); got != 200*time.Millisecond {
		t.Errorf("attempt 1: got %v, want 200ms", got)
	}
	// Capped at the ceiling.
	if got := Backoff(5, cfg); got != 400*time.Millisecond {
		t.Errorf("attempt 5: got %v, want 400ms cap", got)
	}
}
