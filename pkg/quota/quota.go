// Package quota enforces the per-run request budget.
package quota

import "sync"

// Tracker counts requests against a fixed ceiling for the current run.
// It is never persisted; weekly aggregation is the operator's schedule.
type Tracker struct {
	max  int
	used int
	mu   sync.Mutex
}

// New creates a tracker allowing at most maxRequests requests.
// A non-positive maxRequests allows none.
func New(maxRequests int) *Tracker {
	if maxRequests < 0 {
		maxRequests = 0
	}
	return &Tracker{max: maxRequests}
}

// TryConsume reserves one request. It returns false once the budget is spent.
func (t *Tracker) TryConsume() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.used >= t.max {
		return false
	}
	t.used++
	return true
}

// Used returns the number of requests consumed so far
func (t *Tracker) Used() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.used
}

// Remaining returns the number of requests still permitted
func (t *Tracker) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.max - t.used
}

// Max returns the configured ceiling
func (t *Tracker) Max() int {
	return t.max
}
