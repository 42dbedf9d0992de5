package service

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/relay-run/relay/internal/core"
)

// RetryPolicy defines retry behavior for provider calls.
type RetryPolicy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64 // 0.0 to 1.0
	Multiplier   float64 // Exponential factor
}

// DefaultRetryPolicy returns a default retry policy.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  4,
		BaseDelay:    time.Second,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.2,
		Multiplier:   2.0,
	}
}

// RetryPolicyOption configures a retry policy.
type RetryPolicyOption func(*RetryPolicy)

// WithMaxRetries sets the retry count. The policy makes maxRetries+1 total
// attempts: the initial call plus one per retry.
func WithMaxRetries(n int) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.MaxAttempts = n + 1
	}
}

// WithBaseDelay sets the initial delay.
func WithBaseDelay(d time.Duration) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.BaseDelay = d
	}
}

// WithMaxDelay sets the maximum delay.
func WithMaxDelay(d time.Duration) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.MaxDelay = d
	}
}

// WithJitter sets the jitter factor.
func WithJitter(factor float64) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.JitterFactor = factor
	}
}

// WithMultiplier sets the exponential multiplier.
func WithMultiplier(m float64) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.Multiplier = m
	}
}

// NewRetryPolicy creates a new retry policy.
func NewRetryPolicy(opts ...RetryPolicyOption) *RetryPolicy {
	p := DefaultRetryPolicy()
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RetryableFunc is a function that can be retried.
type RetryableFunc func(ctx context.Context) error

// Execute runs the function with retry logic. Non-retryable errors return
// immediately; retryable ones back off exponentially until attempts run out.
func (p *RetryPolicy) Execute(ctx context.Context, fn RetryableFunc) error {
	return p.ExecuteWithNotify(ctx, fn, nil)
}

// RetryNotifyFunc is called before each retry wait.
type RetryNotifyFunc func(attempt int, err error, delay time.Duration)

// ExecuteWithNotify runs with retry and per-retry notifications.
func (p *RetryPolicy) ExecuteWithNotify(ctx context.Context, fn RetryableFunc, notify RetryNotifyFunc) error {
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		lastErr = err

		if !core.IsRetryable(err) {
			return err
		}

		if attempt == p.MaxAttempts {
			break
		}

		delay := p.CalculateDelay(attempt)

		if notify != nil {
			notify(attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return &RetryExhaustedError{
		Attempts: p.MaxAttempts,
		LastErr:  lastErr,
	}
}

// CalculateDelay computes the delay for a given attempt.
func (p *RetryPolicy) CalculateDelay(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))

	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	if p.JitterFactor > 0 {
		delay = addJitter(delay, p.JitterFactor)
	}

	return time.Duration(delay)
}

// CalculateDelayNoJitter computes the delay without jitter (for testing).
func (p *RetryPolicy) CalculateDelayNoJitter(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}

func addJitter(delay float64, factor float64) float64 {
	jitter := delay * factor
	randomJitter := (rand.Float64()*2 - 1) * jitter
	return delay + randomJitter
}

// RetryExhaustedError indicates all retry attempts failed.
type RetryExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.LastErr
}

// IsRetryExhausted checks if an error is a RetryExhaustedError.
func IsRetryExhausted(err error) bool {
	_, ok := err.(*RetryExhaustedError)
	return ok
}

// RateLimitRetryPolicy is specialized for rate limit errors.
func RateLimitRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  5,
		BaseDelay:    10 * time.Second,
		MaxDelay:     2 * time.Minute,
		JitterFactor: 0.3,
		Multiplier:   2.0,
	}
}
