package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	constants "multisource-digest/api/constants"
)

var ErrExhausted = errors.New("retry: attempts exhausted")

// Backoff returns the wait before the attempt following attempt (1-based).
type Backoff func(attempt int) time.Duration

// Fixed waits d between every attempt.
func Fixed(d time.Duration) Backoff {
	return func(int) time.Duration { return d }
}

// Exponential waits base*attempt*2 plus up to jitter of random delay.
func Exponential(base, jitter time.Duration) Backoff {
	return func(attempt int) time.Duration {
		wait := base * time.Duration(attempt*2)
		if jitter > 0 {
			wait += time.Duration(rand.Int63n(int64(jitter)))
		}
		return wait
	}
}

// None retries immediately.
func None() Backoff { return Fixed(0) }

type Policy struct {
	Name        string
	MaxAttempts int
	Backoff     Backoff
	// OnRetry is called after each failed attempt that will be retried.
	OnRetry func(attempt int, err error)
	// Sleep waits between attempts; nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Do runs op until it succeeds, the attempts run out, or ctx is done.
// The returned error wraps both ErrExhausted and the last failure.
func Do(ctx context.Context, p Policy, op func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := p.Backoff
	if backoff == nil {
		backoff = None()
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = wait
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s cancelled: %w", p.label(), err)
		}
		err := op(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		constants.Logger.Warn("Attempt failed",
			"operation", p.label(),
			"attempt", attempt,
			"remainingRetries", attempts-attempt,
			"error", err)
		if attempt == attempts {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		if err := sleep(ctx, backoff(attempt)); err != nil {
			return fmt.Errorf("%s cancelled during retry wait: %w", p.label(), err)
		}
	}
	return fmt.Errorf("%w: %s failed after %d attempts: %w", ErrExhausted, p.label(), attempts, lastErr)
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, p Policy, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func(ctx context.Context, attempt int) error {
		v, err := op(ctx, attempt)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (p Policy) label() string {
	if p.Name == "" {
		return "operation"
	}
	return p.Name
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
