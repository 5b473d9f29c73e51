// Package resilience provides the shared retry policy and circuit breaker
// applied to every external call made by the pipeline.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Policy is the single retry/backoff policy used for scrape, generate, and
// extract calls. The zero value is usable and picks the defaults.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps each delay.
	MaxDelay time.Duration
	// Multiplier scales the delay after each attempt.
	Multiplier float64
	// Jitter is the random spread as a fraction of the delay (0.25 = ±25%).
	Jitter float64
	// ShouldRetry overrides IsTransient when set.
	ShouldRetry func(err error) bool

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns three attempts starting at 500ms.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.25,
	}
}

// NewPolicy builds a policy from configuration values. Non-positive values
// keep the defaults.
func NewPolicy(maxAttempts, baseDelayMs, maxDelayMs int, multiplier, jitter float64) Policy {
	p := DefaultPolicy()
	if maxAttempts > 0 {
		p.MaxAttempts = maxAttempts
	}
	if baseDelayMs > 0 {
		p.BaseDelay = time.Duration(baseDelayMs) * time.Millisecond
	}
	if maxDelayMs > 0 {
		p.MaxDelay = time.Duration(maxDelayMs) * time.Millisecond
	}
	if multiplier > 0 {
		p.Multiplier = multiplier
	}
	if jitter >= 0 {
		p.Jitter = jitter
	}
	return p
}

// Do runs fn until it succeeds, fails with a non-retryable error, the
// attempts are exhausted, or ctx is done. The last error is returned; on
// exhaustion it is wrapped with the operation name and attempt count.
func (p Policy) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	_, err := Retry(ctx, p, operation, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Retry is Do for functions that return a value.
func Retry[T any](ctx context.Context, p Policy, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.withDefaults()

	var zero T
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil || !p.ShouldRetry(err) {
			return zero, err
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.Backoff(attempt)
		zap.L().Warn("resilience: retrying operation",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := p.sleep(ctx, delay); err != nil {
			return zero, lastErr
		}
	}
	return zero, eris.Wrapf(lastErr, "%s: gave up after %d attempts", operation, p.MaxAttempts)
}

// Backoff returns the delay after the given 1-based attempt.
func (p Policy) Backoff(attempt int) time.Duration {
	p = p.withDefaults()
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		spread := delay * p.Jitter
		delay += (rand.Float64()*2 - 1) * spread
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.Multiplier <= 0 {
		p.Multiplier = d.Multiplier
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.ShouldRetry == nil {
		p.ShouldRetry = IsTransient
	}
	if p.sleep == nil {
		p.sleep = sleepCtx
	}
	return p
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
