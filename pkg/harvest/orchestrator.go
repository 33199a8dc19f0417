package harvest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"scopusharvest/pkg/cursor"
	errs "scopusharvest/pkg/errors"
	"scopusharvest/pkg/logger"
	"scopusharvest/pkg/retry"
	"scopusharvest/pkg/scopus"
)

// Fetcher issues one page request
type Fetcher interface {
	Fetch(ctx context.Context, cursor string) (*scopus.Page, error)
}

// CursorStore persists pagination progress
type CursorStore interface {
	Load(signature string) (*cursor.State, cursor.LoadOutcome, error)
	Save(state *cursor.State) error
	MarkExpired(state *cursor.State) error
}

// ChunkSink buffers records and writes them out in chunks
type ChunkSink interface {
	Append(records []json.RawMessage) error
	FlushFinal() error
	Sequence() int
	ChunksWritten() int
	RecordsWritten() int64
}

// Limiter gates request rate
type Limiter interface {
	Wait(ctx context.Context) error
}

// Budget caps the number of requests in a run
type Budget interface {
	TryConsume() bool
	Used() int
	Remaining() int
}

// Metrics receives progress events
type Metrics interface {
	RequestIssued()
	RequestFailed(errorType string)
	PageFetched(records int, duration time.Duration)
	ChunkWritten(records int)
	SetBudgetRemaining(n int)
	SetServerQuotaRemaining(n int)
	RunFinished(reason string, success bool, duration time.Duration)
}

// Config holds the run parameters that are not collaborators
type Config struct {
	// Signature identifies the query; a stored cursor for another query is discarded
	Signature string
	// Retry controls in-place retries of retryable fetch errors
	Retry *retry.Config
}

// Orchestrator drives a single harvest run
type Orchestrator struct {
	cfg     Config
	fetcher Fetcher
	store   CursorStore
	sink    ChunkSink
	limiter Limiter
	budget  Budget
	logger  logger.Logger
	metrics Metrics
	now     func() time.Time

	mu    sync.Mutex
	phase Phase
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger
func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics sets the metrics sink
func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock replaces time.Now for durations
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator from explicit collaborators
func New(cfg Config, fetcher Fetcher, store CursorStore, sink ChunkSink, limiter Limiter, budget Budget, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:     cfg,
		fetcher: fetcher,
		store:   store,
		sink:    sink,
		limiter: limiter,
		budget:  budget,
		logger:  logger.NewNopLogger(),
		metrics: nopMetrics{},
		now:     time.Now,
		phase:   PhaseInit,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.cfg.Retry == nil {
		o.cfg.Retry = retry.DefaultConfig()
	}
	return o
}

// Phase returns the current state machine phase
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

func (o *Orchestrator) setPhase(p Phase, log logger.Logger) {
	o.mu.Lock()
	prev := o.phase
	o.phase = p
	o.mu.Unlock()
	log.DebugWithFields("Harvest phase changed", map[string]interface{}{
		"from": string(prev),
		"to":   string(p),
	})
}

// run carries the mutable state of one Run call
type run struct {
	log         logger.Logger
	state       *cursor.State
	lastSaved   *cursor.State
	lastFlushed *cursor.State
	pages       int
	records     int64
}

// Run harvests until the results end, the budget is spent, ctx is
// cancelled or a fatal error occurs. Buffered records are always flushed
// before it returns. The error is non-nil only when the run aborted.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	runID := uuid.NewString()
	log := o.logger.WithField("run_id", runID)
	summary := &Summary{RunID: runID, StartedAt: o.now()}

	// INIT
	state, outcome, err := o.store.Load(o.cfg.Signature)
	if err != nil {
		summary.Reason = StopFatal
		o.finish(summary, log)
		return summary, fmt.Errorf("failed to load cursor state: %w", err)
	}
	summary.LoadOutcome = outcome
	if !state.HasCheckpoint() {
		// everything a loaded state counts was flushed by an earlier run
		state.MarkFlushed()
	}
	r := &run{
		log:         log,
		state:       state,
		lastSaved:   state.Clone(),
		lastFlushed: state.Clone(),
	}
	if outcome != cursor.Resumed {
		// a fresh state is not on disk yet
		r.lastSaved = nil
	}

	log.InfoWithFields("Harvest run starting", map[string]interface{}{
		"cursor_outcome":        string(outcome),
		"records_fetched_total": state.RecordsFetchedTotal,
		"chunk_sequence":        state.ChunkSequence,
		"budget":                o.budget.Remaining(),
	})

	// RUNNING
	o.setPhase(PhaseRunning, log)
	reason, cause := o.loop(ctx, r)

	// DRAINING
	o.setPhase(PhaseDraining, log)
	reason, cause = o.drain(r, reason, cause)

	// STOPPED
	o.setPhase(PhaseStopped, log)
	summary.Reason = reason
	summary.RequestsUsed = o.budget.Used()
	summary.PagesFetched = r.pages
	summary.RecordsFetched = r.records
	summary.RecordsWritten = o.sink.RecordsWritten()
	summary.ChunksWritten = o.sink.ChunksWritten()
	summary.FinalCursor = r.state.NextCursor
	if cause != nil {
		summary.Error = cause.Error()
	}
	o.finish(summary, log)

	if reason == StopFatal {
		return summary, fmt.Errorf("harvest aborted: %w", cause)
	}
	return summary, nil
}

func (o *Orchestrator) loop(ctx context.Context, r *run) (StopReason, error) {
	if r.state.Completed {
		r.log.Info("Stored cursor already reached the end of results; reset to harvest again")
		return StopEndOfResults, nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return StopInterrupted, err
		}

		chunksBefore := o.sink.ChunksWritten()
		writtenBefore := o.sink.RecordsWritten()

		page, err := o.fetchPage(ctx, r.state.NextCursor, r.log)
		if err != nil {
			return o.classify(ctx, err), err
		}

		if err := o.sink.Append(page.Records); err != nil {
			// the records stay buffered; account for them so drain persists them
			o.advance(r, page)
			return StopFatal, fmt.Errorf("failed to write chunk: %w", err)
		}
		o.advance(r, page)

		if chunks := o.sink.ChunksWritten(); chunks > chunksBefore {
			o.metrics.ChunkWritten(int(o.sink.RecordsWritten() - writtenBefore))
			r.state.MarkFlushed()
			r.lastFlushed = r.state.Clone()
		}

		if err := o.save(r); err != nil {
			return StopFatal, err
		}

		if !page.HasMore {
			r.log.InfoWithFields("Reached end of results", map[string]interface{}{
				"pages_fetched_total":   r.state.PagesFetchedTotal,
				"records_fetched_total": r.state.RecordsFetchedTotal,
			})
			return StopEndOfResults, nil
		}
	}
}

// advance moves the in-memory state past page
func (o *Orchestrator) advance(r *run, page *scopus.Page) {
	n := len(page.Records)
	r.pages++
	r.records += int64(n)

	r.state.PagesFetchedTotal++
	r.state.RecordsFetchedTotal += int64(n)
	r.state.ChunkSequence = o.sink.Sequence()
	if page.HasMore {
		r.state.NextCursor = page.NextCursor
	} else {
		r.state.Completed = true
	}

	if n > 0 {
		r.log.DebugWithFields("Page appended", map[string]interface{}{
			"records":    n,
			"first_id":   scopus.RecordID(page.Records[0]),
			"last_id":    scopus.RecordID(page.Records[n-1]),
			"cover_date": scopus.CoverDate(page.Records[n-1]),
		})
	}
}

func (o *Orchestrator) save(r *run) error {
	if err := o.store.Save(r.state); err != nil {
		return fmt.Errorf("failed to save cursor state: %w", err)
	}
	r.lastSaved = r.state.Clone()
	return nil
}

// fetchPage runs one logical page request. Every attempt, retries
// included, waits on the limiter and consumes budget.
func (o *Orchestrator) fetchPage(ctx context.Context, cur string, log logger.Logger) (*scopus.Page, error) {
	cfg := *o.cfg.Retry
	cfg.Logger = log
	userOnRetry := cfg.OnRetry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.WarnWithFields("Retryable fetch error", map[string]interface{}{
			"attempt": attempt,
			"type":    string(errs.TypeOf(err)),
			"delay":   delay,
			"error":   err.Error(),
		})
		if userOnRetry != nil {
			userOnRetry(attempt, err, delay)
		}
	}

	return retry.DoWithResult(ctx, func(ctx context.Context, attempt int) (*scopus.Page, error) {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		if !o.budget.TryConsume() {
			return nil, errs.ErrQuotaExhausted
		}
		o.metrics.RequestIssued()
		o.metrics.SetBudgetRemaining(o.budget.Remaining())

		start := o.now()
		page, err := o.fetcher.Fetch(ctx, cur)
		if err != nil {
			if !scopus.IsContextError(err) {
				o.metrics.RequestFailed(string(errs.TypeOf(err)))
			}
			return nil, err
		}
		o.metrics.PageFetched(len(page.Records), o.now().Sub(start))
		o.metrics.SetServerQuotaRemaining(page.QuotaRemaining)
		return page, nil
	}, &cfg)
}

func (o *Orchestrator) classify(ctx context.Context, err error) StopReason {
	switch {
	case errors.Is(err, errs.ErrQuotaExhausted):
		return StopQuotaExhausted
	case ctx.Err() != nil || scopus.IsContextError(err):
		return StopInterrupted
	default:
		return StopFatal
	}
}

// drain flushes buffered records and persists the final cursor. If the
// flush fails the cursor is rolled back to the last flushed page so the
// lost records are fetched again next run.
func (o *Orchestrator) drain(r *run, reason StopReason, cause error) (StopReason, error) {
	log := r.log
	chunksBefore := o.sink.ChunksWritten()
	writtenBefore := o.sink.RecordsWritten()

	if flushErr := o.sink.FlushFinal(); flushErr != nil {
		log.WithError(flushErr).ErrorWithFields("Final flush failed, rolling cursor back to last written chunk", map[string]interface{}{
			"next_cursor": r.lastFlushed.NextCursor,
		})
		r.state = r.lastFlushed.Clone()
		if err := o.save(r); err != nil {
			log.WithError(err).Error("Failed to save rolled back cursor state")
		}
		return StopFatal, errors.Join(cause, fmt.Errorf("failed to flush final chunk: %w", flushErr))
	}

	if o.sink.ChunksWritten() > chunksBefore {
		o.metrics.ChunkWritten(int(o.sink.RecordsWritten() - writtenBefore))
	}
	r.state.ChunkSequence = o.sink.Sequence()
	r.state.MarkFlushed()
	r.lastFlushed = r.state.Clone()

	if errors.Is(cause, errs.ErrCursorExpired) {
		if err := o.store.MarkExpired(r.state); err != nil {
			log.WithError(err).Error("Failed to reset expired cursor")
			return StopFatal, errors.Join(cause, err)
		}
		r.lastSaved = r.state.Clone()
		return reason, cause
	}

	if r.lastSaved == nil || *r.lastSaved != *r.state {
		if err := o.save(r); err != nil {
			log.WithError(err).Error("Failed to save final cursor state")
			return StopFatal, errors.Join(cause, err)
		}
	}
	return reason, cause
}

func (o *Orchestrator) finish(s *Summary, log logger.Logger) {
	s.Duration = o.now().Sub(s.StartedAt)
	o.metrics.RunFinished(string(s.Reason), s.Reason != StopFatal, s.Duration)
	if s.Reason == StopFatal {
		log.ErrorWithFields("Harvest run aborted", s.Fields())
		return
	}
	logger.LogRunSummary(log, s.Fields())
}

type nopMetrics struct{}

func (nopMetrics) RequestIssued()                          {}
func (nopMetrics) RequestFailed(string)                    {}
func (nopMetrics) PageFetched(int, time.Duration)          {}
func (nopMetrics) ChunkWritten(int)                        {}
func (nopMetrics) SetBudgetRemaining(int)                  {}
func (nopMetrics) SetServerQuotaRemaining(int)             {}
func (nopMetrics) RunFinished(string, bool, time.Duration) {}
