package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/relay-run/relay/internal/core"
)

func TestRetryPolicy_SucceedsAfterRetryableFailures(t *testing.T) {
	policy := NewRetryPolicy(WithMaxRetries(3), WithBaseDelay(time.Millisecond), WithJitter(0))

	calls := 0
	err := policy.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return core.ErrProviderUnavailable("model backend busy")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryPolicy_NonRetryableStopsImmediately(t *testing.T) {
	policy := NewRetryPolicy(WithMaxRetries(5), WithBaseDelay(time.Millisecond))

	calls := 0
	wantErr := core.ErrValidation("EMPTY_PROMPT", "prompt required")
	err := policy.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return wantErr
	})

	if !errors.Is(err, wantErr) {
		t.Errorf("Execute() error = %v, want the validation error", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryPolicy_Exhaustion(t *testing.T) {
	policy := NewRetryPolicy(WithMaxRetries(2), WithBaseDelay(time.Millisecond), WithJitter(0))

	calls := 0
	err := policy.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return core.ErrRateLimit("throttled")
	})

	if !IsRetryExhausted(err) {
		t.Fatalf("Execute() error = %v, want RetryExhaustedError", err)
	}
	// maxRetries=2 means three total attempts.
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}

	var exhausted *RetryExhaustedError
	if !errors.As(err, &exhausted) || !core.IsRetryable(exhausted.LastErr) {
		t.Errorf("exhausted error should wrap the last retryable error, got %v", err)
	}
}

func TestRetryPolicy_ContextCancellation(t *testing.T) {
	policy := NewRetryPolicy(WithMaxRetries(5), WithBaseDelay(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := policy.Execute(ctx, func(ctx context.Context) error {
		return core.ErrProviderUnavailable("busy")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Execute() error = %v, want context.Canceled", err)
	}
}

func TestRetryPolicy_BackoffGrowth(t *testing.T) {
	policy := NewRetryPolicy(
		WithBaseDelay(time.Second),
		WithMaxDelay(5*time.Second),
		WithMultiplier(2.0),
		WithJitter(0),
	)

	if d := policy.CalculateDelayNoJitter(1); d != time.Second {
		t.Errorf("attempt 1 delay = %v, want 1s", d)
	}
	if d := policy.CalculateDelayNoJitter(2); d != 2*time.Second {
		t.Errorf("attempt 2 delay = %v, want 2s", d)
	}
	if d := policy.CalculateDelayNoJitter(4); d != 5*time.Second {
		t.Errorf("attempt 4 delay = %v, want capped at 5s", d)
	}
}

func TestRetryPolicy_Notify(t *testing.T) {
	policy := NewRetryPolicy(WithMaxRetries(2), WithBaseDelay(time.Millisecond), WithJitter(0))

	var notified []int
	_ = policy.ExecuteWithNotify(context.Background(),
		func(ctx context.Context) error {
			return core.ErrTimeout("slow backend")
		},
		func(attempt int, err error, delay time.Duration) {
			notified = append(notified, attempt)
		})

	// Notifications happen before each wait, not after the final attempt.
	if len(notified) != 2 || notified[0] != 1 || notified[1] != 2 {
		t.Errorf("notified attempts = %v, want [1 2]", notified)
	}
}
