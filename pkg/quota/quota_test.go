package quota

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrackerStopsAtCeiling(t *testing.T) {
	tr := New(3)

	assert.True(t, tr.TryConsume())
	assert.True(t, tr.TryConsume())
	assert.True(t, tr.TryConsume())
	assert.False(t, tr.TryConsume())
	assert.False(t, tr.TryConsume())

	assert.Equal(t, 3, tr.Used())
	assert.Equal(t, 0, tr.Remaining())
	assert.Equal(t, 3, tr.Max())
}

func TestTrackerZeroAndNegativeBudget(t *testing.T) {
	assert.False(t, New(0).TryConsume())

	neg := New(-5)
	assert.False(t, neg.TryConsume())
	assert.Equal(t, 0, neg.Max())
}

func TestTrackerConcurrentCallersNeverExceedBudget(t *testing.T) {
	const budget = 100
	tr := New(budget)

	var granted int64
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if tr.TryConsume() {
					atomic.AddInt64(&granted, 1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(budget), granted)
	assert.Equal(t, budget, tr.Used())
}
