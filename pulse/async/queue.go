package async

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/etlpulse/errors"
	"github.com/teranos/etlpulse/logger"
	"github.com/teranos/etlpulse/telemetry"
)

const (
	// SubscriberChannelBufferSize is the buffer size for subscriber channels
	SubscriberChannelBufferSize = 100

	// ReasonInterrupted is the completion reason of jobs found running at startup
	ReasonInterrupted = "interrupted by restart"
)

// CompletionListener is told about every job that reaches a terminal status.
// Listeners run synchronously after the status is persisted; an error is
// logged and never changes the job's status.
type CompletionListener interface {
	JobCompleted(ctx context.Context, c Completion) error
}

// CompletionFunc adapts a function to CompletionListener
type CompletionFunc func(ctx context.Context, c Completion) error

// JobCompleted implements CompletionListener
func (f CompletionFunc) JobCompleted(ctx context.Context, c Completion) error {
	return f(ctx, c)
}

// Queue admits jobs and owns their status transitions
type Queue struct {
	store    *Store
	workerID string
	logger   *zap.SugaredLogger
	now      func() time.Time

	mu          sync.RWMutex
	listeners   []CompletionListener
	subscribers []chan *Job
}

// NewQueue creates a job queue for one worker id
func NewQueue(db *sql.DB, workerID string, logger *zap.SugaredLogger) *Queue {
	return &Queue{
		store:    NewStore(db),
		workerID: workerID,
		logger:   logger.Named("queue"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WorkerID returns the worker id jobs are admitted under
func (q *Queue) WorkerID() string {
	return q.workerID
}

// AddCompletionListener registers l for terminal transitions
func (q *Queue) AddCompletionListener(l CompletionListener) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.listeners = append(q.listeners, l)
}

// Initialize reconciles jobs this worker left running in a previous process.
// They are marked FAILURE and reach completion listeners like any other
// failure; they are not resumed. Returns the number of reconciled jobs.
func (q *Queue) Initialize(ctx context.Context) (int, error) {
	running := true
	orphaned, err := q.store.Select(ctx, JobFilter{WorkerID: q.workerID, Running: &running})
	if err != nil {
		return 0, errors.Wrap(err, "failed to list interrupted jobs")
	}
	if len(orphaned) == 0 {
		return 0, nil
	}

	logger.PulseOpenInfow(q.logger, "Reconciling jobs interrupted by restart",
		logger.FieldCount, len(orphaned),
		logger.FieldWorkerID, q.workerID)

	reconciled := 0
	for _, job := range orphaned {
		if _, _, err := q.finish(ctx, job.ID, StatusFailure, ReasonInterrupted); err != nil {
			q.logger.Warnw("Failed to reconcile interrupted job",
				logger.FieldJobID, job.ID,
				logger.FieldError, err)
			continue
		}
		reconciled++
	}
	return reconciled, nil
}

// CreateJob admits a job: it is persisted as running with an empty log
// sharing its id.
func (q *Queue) CreateJob(ctx context.Context, req CreateJobRequest) (*Job, error) {
	if req.WorkerID == "" {
		req.WorkerID = q.workerID
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	job, err := q.store.Create(ctx, req, q.now())
	if err != nil {
		err = errors.Wrap(err, "failed to create job")
		if req.ScheduleID != nil {
			err = errors.WithDetail(err, fmt.Sprintf("Schedule ID: %d", *req.ScheduleID))
		}
		err = errors.WithDetail(err, fmt.Sprintf("Worker ID: %s", req.WorkerID))
		return nil, err
	}

	telemetry.JobsCreated.Inc()
	q.notifySubscribers(job)
	return job, nil
}

// SetJobStatus updates a job's running flag and status.
//
// A terminal status can be set once. Setting the same terminal status again
// is a no-op; setting a different one fails with ErrStatusFinalized.
// running=true must come with an empty status and only confirms the job is
// still running.
func (q *Queue) SetJobStatus(ctx context.Context, id int64, running bool, status Status) (*Job, error) {
	if running {
		if status != StatusNone {
			return nil, errors.NewInvalidRequestError("job %d cannot be running with status %s", id, status)
		}
		job, err := q.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !job.Running {
			return nil, errors.Wrapf(errors.ErrStatusFinalized, "job %d already finished with %s", id, job.Status)
		}
		return job, nil
	}

	if !status.IsTerminal() {
		return nil, errors.NewInvalidRequestError("job %d needs SUCCESS or FAILURE to stop running", id)
	}

	job, _, err := q.finish(ctx, id, status, "")
	return job, err
}

// finish performs the compare-and-set to a terminal status and notifies
// completion listeners when this call made the transition.
func (q *Queue) finish(ctx context.Context, id int64, status Status, reason string) (*Job, bool, error) {
	ok, err := q.store.Finalize(ctx, id, status, q.now())
	if err != nil {
		return nil, false, err
	}

	job, err := q.store.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}

	if !ok {
		if job.Status == status {
			return job, false, nil
		}
		err := errors.Wrapf(errors.ErrStatusFinalized, "job %d already finished with %s", id, job.Status)
		return nil, false, errors.WithDetail(err, fmt.Sprintf("Requested status: %s", status))
	}

	telemetry.JobsFinished.WithLabelValues(string(status)).Inc()
	q.logger.Infow("Job finished",
		logger.FieldJobID, id,
		logger.FieldStatus, status,
		logger.FieldDurationMS, job.EndTime.Sub(job.StartTime).Milliseconds())

	q.notifyCompletion(ctx, Completion{Job: job, Reason: reason})
	q.notifySubscribers(job)
	return job, true, nil
}

func (q *Queue) notifyCompletion(ctx context.Context, c Completion) {
	q.mu.RLock()
	listeners := append([]CompletionListener(nil), q.listeners...)
	q.mu.RUnlock()

	for _, l := range listeners {
		if err := l.JobCompleted(ctx, c); err != nil {
			q.logger.Errorw("Completion listener failed",
				logger.FieldJobID, c.Job.ID,
				logger.FieldError, err)
		}
	}
}

// PauseJob records a checkpoint filename on a running job. The runner
// observes it cooperatively; nothing is interrupted here.
func (q *Queue) PauseJob(ctx context.Context, id int64, pausedFilename string) (*Job, error) {
	if pausedFilename == "" {
		return nil, errors.NewInvalidRequestError("paused filename is required to pause job %d", id)
	}
	ok, err := q.store.SetPausedFilename(ctx, id, pausedFilename)
	if err != nil {
		return nil, err
	}
	if !ok {
		if _, err := q.store.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, errors.NewInvalidRequestError("job %d is not running", id)
	}

	job, err := q.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	q.notifySubscribers(job)
	return job, nil
}

// ResumeJob clears the pause checkpoint of a running job
func (q *Queue) ResumeJob(ctx context.Context, id int64) (*Job, error) {
	job, err := q.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !job.IsPaused() {
		return nil, errors.NewInvalidRequestError("job %d is not paused", id)
	}
	if _, err := q.store.SetPausedFilename(ctx, id, ""); err != nil {
		return nil, err
	}

	job, err = q.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	q.notifySubscribers(job)
	return job, nil
}

// Get retrieves a job by id
func (q *Queue) Get(ctx context.Context, id int64) (*Job, error) {
	return q.store.Get(ctx, id)
}

// Select returns jobs matching filter
func (q *Queue) Select(ctx context.Context, filter JobFilter) ([]*Job, error) {
	return q.store.Select(ctx, filter)
}

// Delete removes finished jobs matching filter, with their logs
func (q *Queue) Delete(ctx context.Context, filter JobFilter) (int64, error) {
	return q.store.Delete(ctx, filter)
}

// Subscribe returns a channel receiving job updates.
// The caller is responsible for calling Unsubscribe when done.
func (q *Queue) Subscribe() chan *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch := make(chan *Job, SubscriberChannelBufferSize)
	q.subscribers = append(q.subscribers, ch)
	return ch
}

// Unsubscribe removes and closes a subscriber channel
func (q *Queue) Unsubscribe(ch chan *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, sub := range q.subscribers {
		if sub == ch {
			q.subscribers = append(q.subscribers[:i], q.subscribers[i+1:]...)
			close(ch)
			return
		}
	}
}

// notifySubscribers uses non-blocking sends so a slow subscriber never
// stalls a status transition.
func (q *Queue) notifySubscribers(job *Job) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for _, ch := range q.subscribers {
		select {
		case ch <- job:
		default:
		}
	}
}
