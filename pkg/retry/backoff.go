package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	errs "scopusharvest/pkg/errors"
)

// BackoffStrategy defines the interface for different backoff strategies
type BackoffStrategy interface {
	// NextDelay returns the delay before the given retry attempt (1-based)
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff implements capped exponential backoff with jitter
type ExponentialBackoff struct {
	// BaseDelay is the initial delay duration
	BaseDelay time.Duration
	// MaxDelay is the maximum delay duration
	MaxDelay time.Duration
	// Multiplier is the factor by which delay increases
	Multiplier float64
	// JitterFactor adds randomness so concurrent harvesters do not retry in lockstep (0.0 to 1.0)
	JitterFactor float64
}

// DefaultExponentialBackoff returns a backoff with sensible defaults
func DefaultExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:    2 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.2,
	}
}

// NextDelay returns base * multiplier^(attempt-1), capped, with +/- jitter
func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delay := float64(eb.BaseDelay) * math.Pow(eb.Multiplier, float64(attempt-1))
	if eb.MaxDelay > 0 && delay > float64(eb.MaxDelay) {
		delay = float64(eb.MaxDelay)
	}

	if eb.JitterFactor > 0 {
		jitter := delay * eb.JitterFactor
		delay += (rand.Float64() * 2 * jitter) - jitter
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// ConstantBackoff implements constant delay backoff
type ConstantBackoff struct {
	Delay time.Duration
}

// NextDelay returns a constant delay
func (cb *ConstantBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return cb.Delay
}

// ErrorTypeBackoff picks a backoff strategy by the error's type.
// Server-side rate limit rejections get a longer schedule than network blips.
type ErrorTypeBackoff struct {
	NetworkErrorBackoff BackoffStrategy
	RateLimitBackoff    BackoffStrategy
	ServerErrorBackoff  BackoffStrategy
	DefaultBackoff      BackoffStrategy
}

// NewErrorTypeBackoff derives per-type schedules from a base backoff
func NewErrorTypeBackoff(base *ExponentialBackoff) *ErrorTypeBackoff {
	if base == nil {
		base = DefaultExponentialBackoff()
	}
	rateLimited := *base
	rateLimited.BaseDelay = base.BaseDelay * 5
	rateLimited.MaxDelay = base.MaxDelay * 5

	return &ErrorTypeBackoff{
		NetworkErrorBackoff: base,
		RateLimitBackoff:    &rateLimited,
		ServerErrorBackoff:  base,
		DefaultBackoff:      base,
	}
}

// ForError returns the appropriate backoff strategy for err
func (etb *ErrorTypeBackoff) ForError(err error) BackoffStrategy {
	switch errs.TypeOf(err) {
	case errs.ErrorTypeNetwork:
		return etb.NetworkErrorBackoff
	case errs.ErrorTypeRateLimit:
		return etb.RateLimitBackoff
	case errs.ErrorTypeServerError:
		return etb.ServerErrorBackoff
	default:
		return etb.DefaultBackoff
	}
}

// Wait waits for the specified duration or until context is cancelled
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
