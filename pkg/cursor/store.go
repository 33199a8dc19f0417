package cursor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"scopusharvest/pkg/logger"
)

// StartCursor is the token that asks the API for the first page
const StartCursor = "*"

const stateVersion = 1

// State is the persisted pagination progress for one query
type State struct {
	QuerySignature      string    `json:"query_signature"`
	NextCursor          string    `json:"next_cursor"`
	RecordsFetchedTotal int64     `json:"records_fetched_total"`
	PagesFetchedTotal   int64     `json:"pages_fetched_total"`
	ChunkSequence       int       `json:"chunk_sequence"`
	Completed           bool      `json:"completed"`
	LastRunTimestamp    time.Time `json:"last_run_timestamp"`
	CreatedAt           time.Time `json:"created_at"`
	Version             int       `json:"version"`
	// Flushed is the position as of the last chunk written to disk. A
	// state saved between flushes runs ahead of it.
	Flushed Checkpoint `json:"flushed"`
}

// Checkpoint is a pagination position
type Checkpoint struct {
	NextCursor          string `json:"next_cursor"`
	RecordsFetchedTotal int64  `json:"records_fetched_total"`
	PagesFetchedTotal   int64  `json:"pages_fetched_total"`
	Completed           bool   `json:"completed"`
}

func (s *State) position() Checkpoint {
	return Checkpoint{
		NextCursor:          s.NextCursor,
		RecordsFetchedTotal: s.RecordsFetchedTotal,
		PagesFetchedTotal:   s.PagesFetchedTotal,
		Completed:           s.Completed,
	}
}

// HasCheckpoint reports whether a flushed position was ever recorded.
// States written before checkpoints existed have none.
func (s *State) HasCheckpoint() bool {
	return s.Flushed.NextCursor != ""
}

// MarkFlushed records the current position as fully written to chunks
func (s *State) MarkFlushed() {
	s.Flushed = s.position()
}

// Unflushed reports whether pages past the last written chunk were counted
func (s *State) Unflushed() bool {
	return s.HasCheckpoint() && s.Flushed != s.position()
}

// rewind moves the position back to the flushed checkpoint
func (s *State) rewind() {
	s.NextCursor = s.Flushed.NextCursor
	s.RecordsFetchedTotal = s.Flushed.RecordsFetchedTotal
	s.PagesFetchedTotal = s.Flushed.PagesFetchedTotal
	s.Completed = s.Flushed.Completed
}

// AtStart reports whether the state points at the first page
func (s *State) AtStart() bool {
	return s.NextCursor == "" || s.NextCursor == StartCursor
}

// Clone returns a copy of the state
func (s *State) Clone() *State {
	c := *s
	return &c
}

// LoadOutcome describes how Load arrived at the returned state
type LoadOutcome string

const (
	Resumed           LoadOutcome = "resumed"
	Fresh             LoadOutcome = "fresh"
	SignatureMismatch LoadOutcome = "signature_mismatch"
	Expired           LoadOutcome = "expired"
)

// Store persists a State as a JSON file
type Store struct {
	path   string
	expiry time.Duration
	now    func() time.Time
	logger logger.Logger
}

// Option configures a Store
type Option func(*Store)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the store logger
func WithLogger(l logger.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore creates a store for path. States older than expiry are discarded
// on load; expiry <= 0 disables the check.
func NewStore(path string, expiry time.Duration, opts ...Option) *Store {
	s := &Store{
		path:   path,
		expiry: expiry,
		now:    time.Now,
		logger: logger.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the cursor file location
func (s *Store) Path() string {
	return s.path
}

// NewState returns a start-of-query state for signature
func (s *Store) NewState(signature string) *State {
	now := s.now()
	return &State{
		QuerySignature: signature,
		NextCursor:     StartCursor,
		CreatedAt:      now,
		Version:        stateVersion,
	}
}

// Read returns the stored state as-is, or nil if no file exists
func (s *Store) Read() (*State, error) {
	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open cursor file: %w", err)
	}
	defer file.Close()

	var state State
	if err := json.NewDecoder(file).Decode(&state); err != nil {
		return nil, fmt.Errorf("failed to decode cursor file %s (run reset to discard it): %w", s.path, err)
	}
	return &state, nil
}

// Load returns the stored state when it belongs to signature and is not
// stale. Otherwise it returns a fresh state that keeps the stored chunk
// sequence so output file numbering stays monotonic.
func (s *Store) Load(signature string) (*State, LoadOutcome, error) {
	stored, err := s.Read()
	if err != nil {
		return nil, "", err
	}
	if stored == nil {
		s.logger.InfoWithFields("No cursor state found, starting fresh", map[string]interface{}{
			"path": s.path,
		})
		return s.NewState(signature), Fresh, nil
	}

	outcome := Resumed
	switch {
	case stored.QuerySignature != signature:
		outcome = SignatureMismatch
	case s.isExpired(stored):
		outcome = Expired
	}

	if outcome != Resumed {
		fresh := s.NewState(signature)
		fresh.ChunkSequence = stored.ChunkSequence
		s.logger.WarnWithFields("Discarding stored cursor state", map[string]interface{}{
			"path":               s.path,
			"reason":             string(outcome),
			"stored_signature":   stored.QuerySignature,
			"last_run_timestamp": stored.LastRunTimestamp,
		})
		return fresh, outcome, nil
	}

	if stored.Unflushed() {
		// the previous run died between chunk flushes; its buffered pages
		// never reached disk and are fetched again
		s.logger.WarnWithFields("Cursor is ahead of the last written chunk, resuming from the chunk", map[string]interface{}{
			"path":            s.path,
			"stored_cursor":   stored.NextCursor,
			"flushed_cursor":  stored.Flushed.NextCursor,
			"pages_refetched": stored.PagesFetchedTotal - stored.Flushed.PagesFetchedTotal,
		})
		stored.rewind()
	}
	if stored.NextCursor == "" {
		stored.NextCursor = StartCursor
	}
	s.logger.InfoWithFields("Cursor state loaded", map[string]interface{}{
		"records_fetched_total": stored.RecordsFetchedTotal,
		"pages_fetched_total":   stored.PagesFetchedTotal,
		"chunk_sequence":        stored.ChunkSequence,
		"last_run_timestamp":    stored.LastRunTimestamp,
	})
	return stored, Resumed, nil
}

func (s *Store) isExpired(state *State) bool {
	if s.expiry <= 0 {
		return false
	}
	last := state.LastRunTimestamp
	if last.IsZero() {
		last = state.CreatedAt
	}
	return s.now().Sub(last) > s.expiry
}

// Save stamps the state and writes it atomically
func (s *Store) Save(state *State) error {
	state.LastRunTimestamp = s.now()
	if state.Version == 0 {
		state.Version = stateVersion
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create cursor directory: %w", err)
		}
	}

	tempPath := s.path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary cursor file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(state); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode cursor state: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync cursor file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close cursor file: %w", err)
	}

	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace cursor file: %w", err)
	}

	s.logger.DebugWithFields("Cursor state saved", map[string]interface{}{
		"next_cursor":           state.NextCursor,
		"pages_fetched_total":   state.PagesFetchedTotal,
		"records_fetched_total": state.RecordsFetchedTotal,
	})
	return nil
}

// MarkExpired rewinds state to the first page after the server rejected
// its cursor. Counters restart; the chunk sequence is kept.
func (s *Store) MarkExpired(state *State) error {
	state.NextCursor = StartCursor
	state.Completed = false
	state.RecordsFetchedTotal = 0
	state.PagesFetchedTotal = 0
	state.CreatedAt = s.now()
	state.MarkFlushed()

	s.logger.WarnWithFields("Cursor rejected by server, next run restarts from the beginning", map[string]interface{}{
		"path": s.path,
	})
	return s.Save(state)
}

// Delete removes the cursor file
func (s *Store) Delete() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete cursor file: %w", err)
	}
	s.logger.InfoWithFields("Cursor state deleted", map[string]interface{}{"path": s.path})
	return nil
}

// Exists checks if a cursor file exists
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}
