// Package retry provides exponential backoff and retry logic for transient
// failures against the search API.
//
// Features:
//   - Exponential and constant backoff strategies, capped, with jitter
//   - Context cancellation during backoff waits
//   - Error-type specific schedules (server rate limits back off longer)
//   - Configurable retry predicates; quota exhaustion is never retried
//
// Usage:
//
//	cfg := &retry.Config{
//		MaxAttempts:  5,
//		ErrorBackoff: retry.NewErrorTypeBackoff(retry.DefaultExponentialBackoff()),
//		RetryIf:      retry.DefaultRetryIf,
//		Logger:       log,
//	}
//	page, err := retry.DoWithResult(ctx, func(ctx context.Context, attempt int) (*scopus.Page, error) {
//		return client.Fetch(ctx, cursor)
//	}, cfg)
package retry
