// Package sym defines the symbols etlpulse uses as subsystem markers in logs
// and CLI output.
package sym

// Subsystem symbols.
const (
	Pulse      = "꩜" // scheduler ticks, job admission, job execution
	PulseOpen  = "✿" // graceful startup with interrupted-job reconciliation
	PulseClose = "❀" // graceful shutdown
	DB         = "⊔" // database/storage layer
	AM         = "≡" // configuration
)

// Status markers used when rendering job and schedule state.
const (
	Success = "✔"
	Failure = "✘"
	Running = "▶"
	Paused  = "⏸"
)

// StatusGlyph returns the marker for a job status string.
// An empty status means the job has not finished.
func StatusGlyph(status string, paused bool) string {
	switch {
	case status == "SUCCESS":
		return Success
	case status == "FAILURE":
		return Failure
	case paused:
		return Paused
	default:
		return Running
	}
}
