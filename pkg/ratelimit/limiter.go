package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter defines the interface for rate limiting
type Limiter interface {
	// Allow checks if a request is allowed under the current rate limit
	Allow() bool
	// Wait blocks until the rate limit allows another request or ctx is done
	Wait(ctx context.Context) error
	// Reset resets the rate limiter state
	Reset()
}

// TokenBucket implements a token bucket rate limiter capped at a per-second
// ceiling. The burst is carved out of the ceiling: tokens refill at
// ceiling-burst+1 per second, so no 1-second window admits more than the
// ceiling even when the bucket starts full.
type TokenBucket struct {
	refill  rate.Limit
	burst   int
	limiter *rate.Limiter
	now     func() time.Time
	mu      sync.Mutex
}

// NewTokenBucket creates a token bucket admitting at most ceiling requests
// in any 1-second window. burst is clamped to [1, floor(ceiling)].
func NewTokenBucket(ceiling float64, burst int) *TokenBucket {
	refill, burst := bucketParams(ceiling, burst)
	return &TokenBucket{
		refill:  refill,
		burst:   burst,
		limiter: rate.NewLimiter(refill, burst),
		now:     time.Now,
	}
}

func bucketParams(ceiling float64, burst int) (rate.Limit, int) {
	if ceiling < 1 {
		return rate.Limit(ceiling), 1
	}
	whole := int(math.Floor(ceiling))
	if burst < 1 {
		burst = 1
	}
	if burst > whole {
		burst = whole
	}
	return rate.Limit(whole - burst + 1), burst
}

// Allow checks if a request can proceed
func (tb *TokenBucket) Allow() bool {
	return tb.current().AllowN(tb.now(), 1)
}

// Wait blocks until a token is available
func (tb *TokenBucket) Wait(ctx context.Context) error {
	return tb.current().Wait(ctx)
}

// Reset refills the bucket to full capacity
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.limiter = rate.NewLimiter(tb.refill, tb.burst)
}

func (tb *TokenBucket) current() *rate.Limiter {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.limiter
}

// SlidingWindow implements a sliding window rate limiter
type SlidingWindow struct {
	windowSize  time.Duration
	maxRequests int
	requests    []time.Time
	now         func() time.Time
	mu          sync.Mutex
}

// NewSlidingWindow creates a new sliding window rate limiter
func NewSlidingWindow(maxRequests int, windowSize time.Duration) *SlidingWindow {
	if maxRequests < 1 {
		maxRequests = 1
	}
	return &SlidingWindow{
		windowSize:  windowSize,
		maxRequests: maxRequests,
		requests:    make([]time.Time, 0, maxRequests),
		now:         time.Now,
	}
}

// Allow checks if a request can proceed
func (sw *SlidingWindow) Allow() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	_, ok := sw.tryAcquire()
	return ok
}

// Wait blocks until a request is allowed
func (sw *SlidingWindow) Wait(ctx context.Context) error {
	for {
		sw.mu.Lock()
		wait, ok := sw.tryAcquire()
		sw.mu.Unlock()

		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Reset clears all recorded requests
func (sw *SlidingWindow) Reset() {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.requests = sw.requests[:0]
}

// tryAcquire records a request if the window has room, otherwise returns
// how long until the oldest request leaves the window. Caller holds mu.
func (sw *SlidingWindow) tryAcquire() (time.Duration, bool) {
	now := sw.now()
	sw.cleanOldRequests(now)

	if len(sw.requests) < sw.maxRequests {
		sw.requests = append(sw.requests, now)
		return 0, true
	}

	wait := sw.requests[0].Add(sw.windowSize).Sub(now)
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, false
}

// cleanOldRequests removes requests outside the sliding window
func (sw *SlidingWindow) cleanOldRequests(now time.Time) {
	cutoff := now.Add(-sw.windowSize)

	// Requests at exactly the cutoff are a full window old and no longer count
	i := 0
	for i < len(sw.requests) && !sw.requests[i].After(cutoff) {
		i++
	}

	if i > 0 {
		copy(sw.requests, sw.requests[i:])
		sw.requests = sw.requests[:len(sw.requests)-i]
	}
}

// New builds a limiter by algorithm name: "sliding_window" or "token_bucket".
func New(algorithm string, requestsPerSecond float64, burst int) Limiter {
	switch algorithm {
	case "token_bucket":
		return NewTokenBucket(requestsPerSecond, burst)
	default:
		perWindow := int(requestsPerSecond)
		if perWindow < 1 {
			perWindow = 1
		}
		return NewSlidingWindow(perWindow, time.Second)
	}
}
