// Package async admits, tracks and executes individual job runs.
//
// A Job is one execution of a schedule's tasks (or an ad-hoc run). The Queue
// owns the job rows and their status transitions, JobLog captures a job's
// output stream and finalises its status, and the Dispatcher hands admitted
// jobs to a Runner on a bounded pool of workers.
package async

import (
	"encoding/json"
	"time"

	"github.com/teranos/etlpulse/errors"
)

// Status is the terminal outcome of a job. Empty while the job is running.
type Status string

const (
	StatusNone    Status = ""
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

// IsTerminal reports whether s is SUCCESS or FAILURE
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

// ParseStatus validates a status string
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusNone, StatusSuccess, StatusFailure:
		return Status(s), nil
	default:
		return StatusNone, errors.NewInvalidRequestError("unknown job status %q", s)
	}
}

// Job is one admitted execution.
// While Running is true Status is empty and EndTime is nil; once Status is
// set, Running is false and EndTime is set.
type Job struct {
	ID             int64      `json:"id"`
	ScheduleID     *int64     `json:"schedule_id,omitempty"`
	Priority       int        `json:"priority"`
	RunNowPriority *int       `json:"run_now_priority,omitempty"`
	Running        bool       `json:"running"`
	Status         Status     `json:"status"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        *time.Time `json:"end_time,omitempty"`
	LogID          int64      `json:"log_id"`
	WorkerID       string     `json:"worker_id"`
	PausedFilename string     `json:"paused_filename,omitempty"`
	Tasks          string     `json:"tasks"`
}

// EffectivePriority is RunNowPriority when set, Priority otherwise
func (j *Job) EffectivePriority() int {
	if j.RunNowPriority != nil {
		return *j.RunNowPriority
	}
	return j.Priority
}

// IsPaused reports whether a pause checkpoint has been requested
func (j *Job) IsPaused() bool {
	return j.PausedFilename != ""
}

// TaskList decodes Tasks as a JSON array of command lines.
// An empty string decodes to no tasks.
func (j *Job) TaskList() ([]string, error) {
	return ParseTasks(j.Tasks)
}

// ParseTasks decodes a serialized task list
func ParseTasks(tasks string) ([]string, error) {
	if tasks == "" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(tasks), &list); err != nil {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "tasks must be a JSON array of command strings")
	}
	return list, nil
}

// EncodeTasks serializes a task list for storage
func EncodeTasks(tasks []string) string {
	if tasks == nil {
		tasks = []string{}
	}
	data, _ := json.Marshal(tasks)
	return string(data)
}

// CreateJobRequest describes a job to admit
type CreateJobRequest struct {
	ScheduleID     *int64
	Priority       int
	RunNowPriority *int
	WorkerID       string
	Tasks          string
}

// Validate checks the request before it reaches storage
func (r CreateJobRequest) Validate() error {
	if r.WorkerID == "" {
		return errors.NewInvalidRequestError("worker id is required")
	}
	if _, err := ParseTasks(r.Tasks); err != nil {
		return err
	}
	return nil
}

// Completion describes a job's transition to a terminal status
type Completion struct {
	Job    *Job
	Reason string
}

// Success reports whether the job finished with SUCCESS
func (c Completion) Success() bool {
	return c.Job.Status == StatusSuccess
}
