package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"scopusharvest/pkg/chunk"
	"scopusharvest/pkg/cursor"
	"scopusharvest/pkg/harvest"
)

var (
	accent  = lipgloss.Color("6")
	warn    = lipgloss.Color("3")
	danger  = lipgloss.Color("1")
	good    = lipgloss.Color("2")
	subdued = lipgloss.Color("8")

	labelStyle     = lipgloss.NewStyle().Foreground(accent)
	valueStyle     = lipgloss.NewStyle().Foreground(warn)
	errorStyle     = lipgloss.NewStyle().Foreground(danger).Bold(true)
	successStyle   = lipgloss.NewStyle().Foreground(good).Bold(true)
	warningStyle   = lipgloss.NewStyle().Foreground(warn)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("5")).Bold(true)
	dimStyle       = lipgloss.NewStyle().Foreground(subdued)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accent).
			Padding(0, 1)
)

var out io.Writer = os.Stdout

// SetOutput redirects printing, mainly for tests
func SetOutput(w io.Writer) {
	out = w
}

// PrintError prints an error message in red
func PrintError(msg string, args ...interface{}) {
	if len(args) > 0 {
		msg = msg + ": " + fmt.Sprintf("%v", args[0])
	}
	fmt.Fprintln(out, errorStyle.Render(msg))
}

// PrintSuccess prints a success message in green
func PrintSuccess(msg string) {
	fmt.Fprintln(out, successStyle.Render(msg))
}

// PrintInfo prints a label/value pair
func PrintInfo(label string, value string) {
	fmt.Fprintf(out, "%s: %s\n", labelStyle.Render(label), valueStyle.Render(value))
}

// PrintWarning prints a warning message in yellow
func PrintWarning(msg string, args ...interface{}) {
	if len(args) > 0 {
		msg = msg + ": " + fmt.Sprintf("%v", args[0])
	}
	fmt.Fprintln(out, warningStyle.Render(msg))
}

// PrintHighlight prints a highlighted message
func PrintHighlight(msg string) {
	fmt.Fprintln(out, highlightStyle.Render(msg))
}

// PrintSummary prints the end-of-run report in a bordered panel
func PrintSummary(s *harvest.Summary) {
	title := successStyle.Render("Harvest stopped: " + string(s.Reason))
	if s.Failed() {
		title = errorStyle.Render("Harvest aborted")
	}

	rows := [][2]string{
		{"Run", s.RunID},
		{"Cursor", string(s.LoadOutcome)},
		{"Requests used", fmt.Sprintf("%d", s.RequestsUsed)},
		{"Pages fetched", fmt.Sprintf("%d", s.PagesFetched)},
		{"Records fetched", fmt.Sprintf("%d", s.RecordsFetched)},
		{"Records written", fmt.Sprintf("%d", s.RecordsWritten)},
		{"Chunks written", fmt.Sprintf("%d", s.ChunksWritten)},
		{"Final cursor", shorten(s.FinalCursor, 40)},
		{"Duration", s.Duration.Round(time.Millisecond).String()},
	}
	if s.Error != "" {
		rows = append(rows, [2]string{"Error", s.Error})
	}

	fmt.Fprintln(out, panelStyle.Render(title+"\n"+table(rows)))
}

// PrintState prints a stored cursor state and the chunks on disk
func PrintState(path string, state *cursor.State, chunks []chunk.File) {
	PrintInfo("Cursor file", path)
	if state == nil {
		PrintWarning("No cursor state stored; the next run starts from the beginning")
	} else {
		rows := [][2]string{
			{"Next cursor", shorten(state.NextCursor, 40)},
			{"Completed", fmt.Sprintf("%t", state.Completed)},
			{"Pages fetched", fmt.Sprintf("%d", state.PagesFetchedTotal)},
			{"Records fetched", fmt.Sprintf("%d", state.RecordsFetchedTotal)},
			{"Last chunk", fmt.Sprintf("%d", state.ChunkSequence)},
			{"Last run", formatTime(state.LastRunTimestamp)},
			{"Created", formatTime(state.CreatedAt)},
		}
		if state.Unflushed() {
			rows = append(rows, [2]string{"Resumes from", shorten(state.Flushed.NextCursor, 40) + " (last written chunk)"})
		}
		fmt.Fprintln(out, panelStyle.Render(table(rows)))
	}

	if len(chunks) == 0 {
		fmt.Fprintln(out, dimStyle.Render("No chunk files in output directory"))
		return
	}
	var total int64
	for _, c := range chunks {
		total += c.Size
		fmt.Fprintf(out, "  %s %s\n", c.Name, dimStyle.Render(formatBytes(c.Size)))
	}
	PrintInfo("Chunks", fmt.Sprintf("%d (%s)", len(chunks), formatBytes(total)))
}

func table(rows [][2]string) string {
	width := 0
	for _, r := range rows {
		if len(r[0]) > width {
			width = len(r[0])
		}
	}
	var b strings.Builder
	for i, r := range rows {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(labelStyle.Render(fmt.Sprintf("%-*s", width, r[0])))
		b.WriteString("  ")
		b.WriteString(valueStyle.Render(r[1]))
	}
	return b.String()
}

func shorten(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05 MST")
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
