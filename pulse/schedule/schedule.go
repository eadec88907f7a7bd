// Package schedule decides when recurring work is due and records each
// schedule's run history.
//
// A Schedule carries a cron expression and a task list. The Scheduler ticks
// periodically, claims due schedules through a conditional update on their
// running flag, and admits a job for each claim. When the job finishes the
// Scheduler releases the flag and upserts the schedule's History entry.
package schedule

import (
	"time"

	"github.com/teranos/etlpulse/errors"
	"github.com/teranos/etlpulse/pulse/async"
)

// Schedule is a recurring job definition.
// While Running is true exactly one live job references the schedule.
type Schedule struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	Cron          string     `json:"cron"`
	Priority      int        `json:"priority"`
	Running       bool       `json:"running"`
	ShouldRunNext bool       `json:"should_run_next"`
	Tasks         string     `json:"tasks"`
	LastRun       *time.Time `json:"last_run,omitempty"`
	LastModified  time.Time  `json:"last_modified"`
	CreatedAt     time.Time  `json:"created_at"`
	WorkerID      string     `json:"worker_id"`
}

// CreateRequest describes a new schedule
type CreateRequest struct {
	Name     string
	Cron     string
	Priority int
	Tasks    string
	WorkerID string
	// Paused creates the schedule with should_run_next=false
	Paused bool
}

// Validate checks the request before it reaches storage
func (r CreateRequest) Validate() error {
	if r.Name == "" {
		return errors.NewInvalidRequestError("schedule name is required")
	}
	if r.WorkerID == "" {
		return errors.NewInvalidRequestError("worker id is required")
	}
	if _, err := ParseCron(r.Cron); err != nil {
		return err
	}
	if _, err := async.ParseTasks(r.Tasks); err != nil {
		return err
	}
	return nil
}

// UpdateRequest changes selected fields of a schedule. Nil fields are kept.
type UpdateRequest struct {
	Name          *string
	Cron          *string
	Priority      *int
	Tasks         *string
	ShouldRunNext *bool
	WorkerID      *string
}

// Validate checks the fields being changed
func (r UpdateRequest) Validate() error {
	if r.Name != nil && *r.Name == "" {
		return errors.NewInvalidRequestError("schedule name cannot be empty")
	}
	if r.Cron != nil {
		if _, err := ParseCron(*r.Cron); err != nil {
			return err
		}
	}
	if r.Tasks != nil {
		if _, err := async.ParseTasks(*r.Tasks); err != nil {
			return err
		}
	}
	if r.WorkerID != nil && *r.WorkerID == "" {
		return errors.NewInvalidRequestError("worker id cannot be empty")
	}
	return nil
}
