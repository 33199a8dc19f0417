package harvest

import (
	"time"

	"scopusharvest/pkg/cursor"
)

// Phase is a state of the run state machine
type Phase string

const (
	PhaseInit     Phase = "INIT"
	PhaseRunning  Phase = "RUNNING"
	PhaseDraining Phase = "DRAINING"
	PhaseStopped  Phase = "STOPPED"
)

// StopReason says why a run left RUNNING
type StopReason string

const (
	StopEndOfResults   StopReason = "end_of_results"
	StopQuotaExhausted StopReason = "quota_exhausted"
	StopFatal          StopReason = "fatal"
	StopInterrupted    StopReason = "interrupted"
)

// Summary reports what a run did
type Summary struct {
	RunID          string             `json:"run_id"`
	Reason         StopReason         `json:"reason"`
	LoadOutcome    cursor.LoadOutcome `json:"cursor_outcome"`
	RequestsUsed   int                `json:"requests_used"`
	PagesFetched   int                `json:"pages_fetched"`
	RecordsFetched int64              `json:"records_fetched"`
	RecordsWritten int64              `json:"records_written"`
	ChunksWritten  int                `json:"chunks_written"`
	FinalCursor    string             `json:"final_cursor"`
	StartedAt      time.Time          `json:"started_at"`
	Duration       time.Duration      `json:"duration"`
	Error          string             `json:"error,omitempty"`
}

// Fields flattens the summary for structured logging
func (s *Summary) Fields() map[string]interface{} {
	fields := map[string]interface{}{
		"run_id":          s.RunID,
		"reason":          string(s.Reason),
		"cursor_outcome":  string(s.LoadOutcome),
		"requests_used":   s.RequestsUsed,
		"pages_fetched":   s.PagesFetched,
		"records_fetched": s.RecordsFetched,
		"records_written": s.RecordsWritten,
		"chunks_written":  s.ChunksWritten,
		"final_cursor":    s.FinalCursor,
		"duration":        s.Duration.String(),
	}
	if s.Error != "" {
		fields["error"] = s.Error
	}
	return fields
}

// Failed reports whether the run aborted
func (s *Summary) Failed() bool {
	return s.Reason == StopFatal
}
