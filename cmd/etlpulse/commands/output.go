package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pterm/pterm"

	"github.com/teranos/etlpulse/pulse/async"
	"github.com/teranos/etlpulse/sym"
)

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q: must be a positive integer", arg)
	}
	return id, nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// jobStatusCell renders a job status with its glyph and colour
func jobStatusCell(job *async.Job) string {
	glyph := sym.StatusGlyph(string(job.Status), job.IsPaused())
	switch {
	case job.Status == async.StatusSuccess:
		return pterm.FgGreen.Sprint(glyph + " SUCCESS")
	case job.Status == async.StatusFailure:
		return pterm.FgRed.Sprint(glyph + " FAILURE")
	case job.IsPaused():
		return pterm.FgYellow.Sprint(glyph + " paused")
	default:
		return pterm.FgCyan.Sprint(glyph + " running")
	}
}

func renderTable(header []string, rows [][]string) error {
	data := pterm.TableData{header}
	data = append(data, rows...)
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
