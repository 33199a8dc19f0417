// Package ratelimit provides rate limiting for requests against the search API.
//
// Available Implementations:
//
// Token Bucket:
//   - Tokens accrue up to a burst capacity
//   - The burst is taken out of the per-second ceiling, so no 1s window exceeds it
//   - Backed by golang.org/x/time/rate
//
// Sliding Window:
//   - Tracks request timestamps within a moving time window
//   - Never admits more than N requests in any window
//   - Default for the harvester (9 requests per second)
//
// All rate limiters implement the Limiter interface:
//   - Allow() bool - Check if a request is allowed
//   - Wait(ctx) error - Block until a request is allowed or ctx is done
//   - Reset() - Reset the limiter state
//
// Usage:
//
//	limiter := ratelimit.NewSlidingWindow(9, time.Second)
//	if err := limiter.Wait(ctx); err != nil {
//	    return err // cancelled
//	}
//	// Proceed with request
package ratelimit
