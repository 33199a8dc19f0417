// Package schedule runs harvests on weekly cron slots, one at a time.
package schedule

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"scopusharvest/pkg/config"
	"scopusharvest/pkg/logger"
)

// RunFunc performs one harvest for a slot
type RunFunc func(ctx context.Context, slot config.ScheduleSlot) error

// Entry is a registered slot and its next activation
type Entry struct {
	Slot config.ScheduleSlot
	Next time.Time
}

// Scheduler fires RunFunc on each slot's cron spec. A slot that comes due
// while another run is active is skipped.
type Scheduler struct {
	cron    *cron.Cron
	parser  cron.Parser
	run     RunFunc
	logger  logger.Logger
	running atomic.Bool

	mu      sync.Mutex
	ctx     context.Context
	entries map[cron.EntryID]config.ScheduleSlot
	wg      sync.WaitGroup
}

// New registers slots. loc may be nil for local time.
func New(slots []config.ScheduleSlot, loc *time.Location, run RunFunc, log logger.Logger) (*Scheduler, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if loc == nil {
		loc = time.Local
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	cl := cronLogger{log: log}
	s := &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		parser:  parser,
		run:     run,
		logger:  log,
		ctx:     context.Background(),
		entries: make(map[cron.EntryID]config.ScheduleSlot),
	}

	for _, slot := range slots {
		slot := slot
		schedule, err := parser.Parse(slot.Cron)
		if err != nil {
			return nil, fmt.Errorf("invalid cron spec %q for slot %s: %w", slot.Cron, slot.Name, err)
		}
		id := s.cron.Schedule(schedule, cron.FuncJob(func() { s.trigger(slot) }))
		s.entries[id] = slot
	}
	return s, nil
}

// Entries lists slots ordered by next activation
func (s *Scheduler) Entries() []Entry {
	var out []Entry
	for _, e := range s.cron.Entries() {
		slot, ok := s.entries[e.ID]
		if !ok {
			continue
		}
		next := e.Next
		if next.IsZero() {
			next = e.Schedule.Next(time.Now())
		}
		out = append(out, Entry{Slot: slot, Next: next})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Next.Before(out[j].Next) })
	return out
}

// Run starts the cron loop and blocks until ctx is done and any active
// harvest has returned
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	logger.LogComponentStart(s.logger, "scheduler", map[string]interface{}{
		"slots": len(s.entries),
	})
	for _, e := range s.Entries() {
		s.logger.InfoWithFields("Slot scheduled", map[string]interface{}{
			"slot":         e.Slot.Name,
			"cron":         e.Slot.Cron,
			"max_requests": e.Slot.MaxRequests,
			"next":         e.Next,
		})
	}

	<-ctx.Done()
	stopped := s.cron.Stop()
	<-stopped.Done()
	s.wg.Wait()
	logger.LogComponentStop(s.logger, "scheduler", ctx.Err().Error())
	return nil
}

// Running reports whether a harvest is active
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

func (s *Scheduler) trigger(slot config.ScheduleSlot) {
	log := s.logger.WithField("slot", slot.Name)
	if !s.running.CompareAndSwap(false, true) {
		log.Warn("Previous harvest still running, skipping slot")
		return
	}
	defer s.running.Store(false)

	s.mu.Lock()
	ctx := s.ctx
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	if ctx.Err() != nil {
		return
	}

	log.InfoWithFields("Scheduled harvest starting", map[string]interface{}{
		"max_requests": slot.MaxRequests,
	})
	if err := s.run(ctx, slot); err != nil {
		log.WithError(err).Error("Scheduled harvest failed")
		return
	}
	log.Info("Scheduled harvest finished")
}

// cronLogger routes cron's own messages through the application logger
type cronLogger struct {
	log logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.DebugWithFields("cron: "+msg, kvFields(keysAndValues))
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.WithError(err).ErrorWithFields("cron: "+msg, kvFields(keysAndValues))
}

func kvFields(kv []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}

// LoadLocation resolves a configured timezone name; "" and "Local" mean
// the host zone
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", name, err)
	}
	return loc, nil
}
