// Package harvest runs the page-fetch control loop.
//
// A run moves through INIT (load the cursor), RUNNING (wait on the rate
// limiter, take one unit of budget, fetch, append to the chunk sink, save
// the cursor) and DRAINING (flush the partial chunk, save the final
// cursor) to STOPPED. Retryable fetch errors are retried in place with
// backoff; each attempt is a real request and is gated like any other.
// Quota exhaustion, end of results and cancellation stop the run cleanly.
// Anything else aborts it, but only after buffered records are written.
package harvest
