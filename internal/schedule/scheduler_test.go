package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"scopusharvest/pkg/config"
	"scopusharvest/pkg/logger"
)

func weeklySlots() []config.ScheduleSlot {
	return config.DefaultConfig().Schedule.Slots
}

func TestNewRejectsInvalidSpec(t *testing.T) {
	_, err := New([]config.ScheduleSlot{{Name: "bad", Cron: "every monday", MaxRequests: 1}}, time.UTC, nil, nil)
	assert.Error(t, err)
}

func TestEntriesOrderedByNextRun(t *testing.T) {
	s, err := New(weeklySlots(), time.UTC, func(context.Context, config.ScheduleSlot) error { return nil }, nil)
	require.NoError(t, err)

	entries := s.Entries()
	require.Len(t, entries, 3)
	for i := 1; i < len(entries); i++ {
		assert.False(t, entries[i].Next.Before(entries[i-1].Next))
	}
	for _, e := range entries {
		assert.Equal(t, 2, e.Next.Hour())
		assert.Contains(t, []time.Weekday{time.Monday, time.Tuesday, time.Thursday}, e.Next.Weekday())
	}
}

func TestTriggerSkipsWhileRunning(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var ran []string

	log := logger.NewTestLogger()
	s, err := New(weeklySlots(), time.UTC, func(ctx context.Context, slot config.ScheduleSlot) error {
		mu.Lock()
		ran = append(ran, slot.Name)
		mu.Unlock()
		if slot.Name == "monday" {
			close(started)
			<-release
		}
		return nil
	}, log)
	require.NoError(t, err)

	slots := weeklySlots()
	done := make(chan struct{})
	go func() {
		s.trigger(slots[0])
		close(done)
	}()

	<-started
	assert.True(t, s.Running())
	s.trigger(slots[1])
	close(release)
	<-done

	assert.False(t, s.Running())
	assert.Equal(t, []string{"monday"}, ran)
	assert.True(t, log.HasMessage("Previous harvest still running, skipping slot"))

	s.trigger(slots[2])
	assert.Equal(t, []string{"monday", "thursday"}, ran)
}

func TestTriggerPassesSlotBudgetAndLogsFailure(t *testing.T) {
	log := logger.NewTestLogger()
	var got int
	s, err := New(weeklySlots(), time.UTC, func(ctx context.Context, slot config.ScheduleSlot) error {
		got = slot.MaxRequests
		return errors.New("boom")
	}, log)
	require.NoError(t, err)

	s.trigger(weeklySlots()[1])
	assert.Equal(t, 30000, got)
	msg, ok := log.FindMessage("Scheduled harvest failed")
	require.True(t, ok)
	assert.Equal(t, "boom", msg.Error)
}

func TestRunStopsOnCancel(t *testing.T) {
	s, err := New(weeklySlots(), time.UTC, func(context.Context, config.ScheduleSlot) error { return nil }, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestLoadLocation(t *testing.T) {
	loc, err := LoadLocation("")
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)

	loc, err = LoadLocation("UTC")
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())

	_, err = LoadLocation("Mars/Olympus")
	assert.Error(t, err)
}
