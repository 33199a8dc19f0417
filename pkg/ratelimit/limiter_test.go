package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucket(t *testing.T) {
	// ceiling 10 with a burst of 5 refills 6 tokens per second
	tb := NewTokenBucket(10, 5)

	// Test initial capacity
	for i := 0; i < 5; i++ {
		if !tb.Allow() {
			t.Errorf("Expected token %d to be available", i+1)
		}
	}

	// Test exhaustion
	if tb.Allow() {
		t.Error("Expected no more tokens to be available")
	}

	time.Sleep(250 * time.Millisecond)
	if !tb.Allow() {
		t.Error("Expected a token to be refilled after waiting")
	}

	tb.Reset()
	for i := 0; i < 5; i++ {
		assert.True(t, tb.Allow(), "token %d after reset", i+1)
	}
}

func TestTokenBucketWaitHonoursContext(t *testing.T) {
	tb := NewTokenBucket(0.1, 1)
	require.True(t, tb.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := tb.Wait(ctx)
	assert.Error(t, err)
}

func TestSlidingWindow(t *testing.T) {
	sw := NewSlidingWindow(3, time.Second)

	// Test initial requests
	for i := 0; i < 3; i++ {
		if !sw.Allow() {
			t.Errorf("Expected request %d to be allowed", i+1)
		}
	}

	// Test limit reached
	if sw.Allow() {
		t.Error("Expected request to be denied when limit is reached")
	}

	// Test window sliding
	time.Sleep(time.Second + 100*time.Millisecond)
	if !sw.Allow() {
		t.Error("Expected request to be allowed after window slides")
	}

	// Test reset
	sw.Reset()
	if len(sw.requests) != 0 {
		t.Error("Expected requests to be cleared after reset")
	}
}

// fakeClock advances only when the limiter would otherwise sleep.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestSlidingWindowNeverExceedsCeilingInAnyWindow(t *testing.T) {
	const ceiling = 9
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	sw := NewSlidingWindow(ceiling, time.Second)
	sw.now = clock.Now

	var granted []time.Time
	for len(granted) < 200 {
		if sw.Allow() {
			granted = append(granted, clock.Now())
			continue
		}
		clock.Advance(37 * time.Millisecond)
	}

	for i := range granted {
		end := granted[i].Add(time.Second)
		count := 0
		for j := i; j < len(granted) && granted[j].Before(end); j++ {
			count++
		}
		require.LessOrEqual(t, count, ceiling, "window starting at acquisition %d", i)
	}
}

func TestTokenBucketNeverExceedsCeilingInAnyWindow(t *testing.T) {
	tests := []struct {
		ceiling float64
		burst   int
	}{
		{ceiling: 9, burst: 1},
		{ceiling: 9, burst: 9},
		{ceiling: 9, burst: 20},
		{ceiling: 20, burst: 5},
		{ceiling: 9.7, burst: 4},
	}

	for _, tt := range tests {
		clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
		tb := NewTokenBucket(tt.ceiling, tt.burst)
		tb.now = clock.Now

		var granted []time.Time
		for len(granted) < 200 {
			if tb.Allow() {
				granted = append(granted, clock.Now())
				continue
			}
			clock.Advance(13 * time.Millisecond)
		}

		limit := int(tt.ceiling)
		for i := range granted {
			end := granted[i].Add(time.Second)
			count := 0
			for j := i; j < len(granted) && granted[j].Before(end); j++ {
				count++
			}
			require.LessOrEqual(t, count, limit, "ceiling %v burst %d, window starting at acquisition %d", tt.ceiling, tt.burst, i)
		}
	}
}

func TestTokenBucketKeepsBurst(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	tb := NewTokenBucket(9, 4)
	tb.now = clock.Now

	for i := 0; i < 4; i++ {
		assert.True(t, tb.Allow(), "burst token %d", i+1)
	}
	assert.False(t, tb.Allow())

	// refill is 9-4+1 = 6 per second
	clock.Advance(170 * time.Millisecond)
	assert.True(t, tb.Allow())
}

func TestSlidingWindowWaitHonoursContext(t *testing.T) {
	sw := NewSlidingWindow(1, time.Hour)
	require.True(t, sw.Allow())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, sw.Wait(ctx), context.Canceled)
}

func TestSlidingWindowWaitBlocksUntilSlotFrees(t *testing.T) {
	sw := NewSlidingWindow(2, 200*time.Millisecond)
	start := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, sw.Wait(context.Background()))
	}
	assert.GreaterOrEqual(t, time.Since(start), 190*time.Millisecond)
}

func TestNew(t *testing.T) {
	assert.IsType(t, &TokenBucket{}, New("token_bucket", 9, 1))
	assert.IsType(t, &SlidingWindow{}, New("sliding_window", 9, 1))
	assert.IsType(t, &SlidingWindow{}, New("", 0.5, 1))
}
