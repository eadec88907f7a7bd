package logger

import (
	"go.uber.org/zap"
)

// Standard field names for structured logging.
// Use these constants instead of raw strings to keep log queries stable.
const (
	// Identity
	FieldJobID      = "job_id"
	FieldScheduleID = "schedule_id"
	FieldWorkerID   = "worker_id"
	FieldLogID      = "log_id"

	// Components
	FieldComponent = "component"

	// Scheduling
	FieldCron     = "cron"
	FieldPriority = "priority"
	FieldNextRun  = "next_run"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError = "error"

	// Counts
	FieldCount = "count"
	FieldLines = "lines"

	// Status
	FieldStatus = "status"

	// Notification
	FieldIntegration = "integration_id"
	FieldSubject     = "subject"

	// Symbol
	FieldSymbol = "symbol"
)

// ComponentLogger returns a named child of the global logger.
// Components take a *zap.SugaredLogger in their constructor; the CLI passes
// the result of this function.
//
// Example:
//
//	sched := schedule.NewScheduler(store, queue, logger.ComponentLogger("pulse.scheduler"), ...)
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// ChildLogger creates a child logger with additional context.
//
//	jobLogger := logger.ChildLogger(base, logger.FieldJobID, job.ID)
func ChildLogger(parent *zap.SugaredLogger, keysAndValues ...interface{}) *zap.SugaredLogger {
	return parent.With(keysAndValues...)
}
