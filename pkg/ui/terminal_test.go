package ui

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"scopusharvest/pkg/chunk"
	"scopusharvest/pkg/cursor"
	"scopusharvest/pkg/harvest"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stdout) })
	return &buf
}

func TestPrintSummary(t *testing.T) {
	buf := captureOutput(t)

	PrintSummary(&harvest.Summary{
		RunID:          "run-1",
		Reason:         harvest.StopQuotaExhausted,
		RequestsUsed:   100,
		RecordsWritten: 2500,
		FinalCursor:    "AoJ3",
		Duration:       90 * time.Second,
	})

	text := buf.String()
	assert.Contains(t, text, "quota_exhausted")
	assert.Contains(t, text, "2500")
	assert.Contains(t, text, "AoJ3")
	assert.NotContains(t, text, "Error")
}

func TestPrintSummaryFailed(t *testing.T) {
	buf := captureOutput(t)

	PrintSummary(&harvest.Summary{Reason: harvest.StopFatal, Error: "auth error"})
	assert.Contains(t, buf.String(), "Harvest aborted")
	assert.Contains(t, buf.String(), "auth error")
}

func TestPrintState(t *testing.T) {
	buf := captureOutput(t)

	PrintState("cursor_state.json", &cursor.State{NextCursor: "AoJ3", PagesFetchedTotal: 30}, []chunk.File{
		{Name: "scopus_raw_000001_20240304.jsonl.gz", Size: 2048},
	})
	text := buf.String()
	assert.Contains(t, text, "AoJ3")
	assert.Contains(t, text, "scopus_raw_000001_20240304.jsonl.gz")
	assert.Contains(t, text, "2.0 KiB")

	assert.NotContains(t, text, "Resumes from")

	buf.Reset()
	ahead := &cursor.State{NextCursor: "AoJ6", PagesFetchedTotal: 6, Flushed: cursor.Checkpoint{NextCursor: "AoJ4", PagesFetchedTotal: 4}}
	PrintState("cursor_state.json", ahead, nil)
	assert.Contains(t, buf.String(), "Resumes from")
	assert.Contains(t, buf.String(), "AoJ4")

	buf.Reset()
	PrintState("cursor_state.json", nil, nil)
	assert.Contains(t, buf.String(), "No cursor state stored")
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 MiB", formatBytes(1536*1024))
	assert.Equal(t, "abc", shorten("abc", 5))
	assert.Equal(t, "ab...", shorten("abcdefgh", 5))
	assert.Equal(t, "-", formatTime(time.Time{}))
}
