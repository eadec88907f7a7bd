package async

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/etlpulse/errors"
	"github.com/teranos/etlpulse/logger"
	"github.com/teranos/etlpulse/telemetry"
)

// ErrDispatcherStopped is returned by Submit after Stop
var ErrDispatcherStopped = errors.New("dispatcher stopped")

// DefaultStopTimeout bounds how long Stop waits for in-flight jobs before
// cancelling them.
const DefaultStopTimeout = 30 * time.Second

// ReasonDispatchFailed is logged into the job log of a job the dispatcher
// could not hand to its runner.
const ReasonDispatchFailed = "dispatch failed"

// finalizeAttempts bounds how often a job the dispatcher could not execute
// is retried into FAILURE before it is left to the next Queue.Initialize.
const finalizeAttempts = 3

// DispatchSource is what the dispatcher needs from the job queue: the current
// job state, and a way to end jobs it cannot execute.
type DispatchSource interface {
	JobSource
	SetJobStatus(ctx context.Context, id int64, running bool, status Status) (*Job, error)
}

type pendingJob struct {
	job *Job
	seq uint64
}

// jobHeap orders by effective priority (highest first), then submission order
type jobHeap []pendingJob

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	pi, pj := h[i].job.EffectivePriority(), h[j].job.EffectivePriority()
	if pi != pj {
		return pi > pj
	}
	return h[i].seq < h[j].seq
}
func (h jobHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x interface{}) { *h = append(*h, x.(pendingJob)) }
func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Dispatcher hands admitted jobs to a Runner on a bounded pool of workers.
// Each job id is handed off at most once while it is pending or executing,
// and a job that is no longer running in storage is never started.
type Dispatcher struct {
	jobs    DispatchSource
	runner  Runner
	joblog  *JobLog
	workers int
	logger  *zap.SugaredLogger

	mu       sync.Mutex
	pending  jobHeap
	inFlight map[int64]struct{}
	seq      uint64
	stopped  bool

	ready    chan struct{}
	stopping chan struct{}
	runCtx   context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewDispatcher creates a dispatcher with the given number of workers
func NewDispatcher(jobs DispatchSource, runner Runner, joblog *JobLog, workers int, logger *zap.SugaredLogger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	runCtx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		jobs:     jobs,
		runner:   runner,
		joblog:   joblog,
		workers:  workers,
		logger:   logger.Named("dispatcher"),
		inFlight: make(map[int64]struct{}),
		ready:    make(chan struct{}, 1),
		stopping: make(chan struct{}),
		runCtx:   runCtx,
		cancel:   cancel,
	}
}

// Start launches the workers
func (d *Dispatcher) Start() {
	logger.PulseOpenInfow(d.logger, "Dispatcher starting", "workers", d.workers)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
}

// Submit queues job for execution
func (d *Dispatcher) Submit(job *Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return ErrDispatcherStopped
	}
	if _, ok := d.inFlight[job.ID]; ok {
		return errors.Wrapf(errors.ErrAlreadyExists, "job %d already dispatched", job.ID)
	}

	d.inFlight[job.ID] = struct{}{}
	d.seq++
	heap.Push(&d.pending, pendingJob{job: job, seq: d.seq})
	telemetry.DispatchQueueDepth.Set(float64(d.pending.Len()))
	d.signal()
	return nil
}

// Pending returns the number of jobs waiting for a worker
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending.Len()
}

// signal wakes one idle worker. REQUIRES: d.mu held.
func (d *Dispatcher) signal() {
	select {
	case d.ready <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) next() (*Job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pending.Len() == 0 {
		return nil, false
	}
	item := heap.Pop(&d.pending).(pendingJob)
	telemetry.DispatchQueueDepth.Set(float64(d.pending.Len()))
	if d.pending.Len() > 0 {
		d.signal()
	}
	return item.job, true
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()

	for {
		select {
		case <-d.stopping:
			return
		default:
		}

		job, ok := d.next()
		if !ok {
			select {
			case <-d.stopping:
				return
			case <-d.ready:
			}
			continue
		}

		d.execute(id, job)

		d.mu.Lock()
		delete(d.inFlight, job.ID)
		d.mu.Unlock()
	}
}

func (d *Dispatcher) execute(workerID int, job *Job) {
	telemetry.JobsInFlight.Inc()
	defer telemetry.JobsInFlight.Dec()

	log := d.logger.With(logger.FieldJobID, job.ID, "worker", workerID)

	current, err := d.jobs.Get(d.runCtx, job.ID)
	if err != nil {
		log.Errorw("Failed to load job before execution", logger.FieldError, err)
		d.fail(log, job.ID, err)
		return
	}
	if !current.Running {
		log.Warnw("Skipping job that is no longer running", logger.FieldStatus, current.Status)
		return
	}

	stream, err := d.runner.Run(d.runCtx, current)
	if err != nil {
		log.Warnw("Runner failed to start job", logger.FieldError, err)
		stream = FailedStream(err)
	}
	defer stream.Close()

	capture, err := d.joblog.Create(d.runCtx, current.ID, stream)
	if err != nil {
		if errors.Is(err, errors.ErrAlreadyExists) || errors.Is(err, errors.ErrStatusFinalized) {
			log.Warnw("Job output already captured elsewhere", logger.FieldError, err)
			return
		}
		log.Errorw("Failed to capture job output", logger.FieldError, err)
		d.fail(log, current.ID, err)
		return
	}

	outcome, _ := capture.Wait(context.Background())
	log.Debugw("Job execution finished", logger.FieldStatus, outcome.Status, logger.FieldLines, outcome.Lines)
}

// fail ends a job that could not be executed with FAILURE, so its schedule
// is released through the completion listeners. The cause is written to the
// job log when the log has not been captured.
func (d *Dispatcher) fail(log *zap.SugaredLogger, id int64, cause error) {
	ctx := context.WithoutCancel(d.runCtx)
	contents := ReasonDispatchFailed + ": " + cause.Error()

	for attempt := 1; attempt <= finalizeAttempts; attempt++ {
		if d.joblog != nil {
			if _, err := d.joblog.store.SaveUncaptured(ctx, id, contents, d.joblog.now()); err != nil {
				log.Debugw("Failed to record dispatch failure in job log", logger.FieldError, err)
			}
		}

		_, err := d.jobs.SetJobStatus(ctx, id, false, StatusFailure)
		if err == nil || errors.Is(err, errors.ErrStatusFinalized) {
			return
		}
		log.Warnw("Failed to mark job as failed",
			"attempt", attempt,
			logger.FieldError, err)

		select {
		case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
		case <-d.stopping:
			return
		}
	}
	log.Errorw("Giving up on failing job; it is reconciled on next start")
}

// Stop rejects new submissions and lets workers finish their current job.
// After timeout, running jobs are cancelled. Jobs still pending stay
// running in storage and are reconciled by the next Queue.Initialize.
func (d *Dispatcher) Stop(timeout time.Duration) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	pending := d.pending.Len()
	d.mu.Unlock()

	close(d.stopping)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.PulseCloseInfow(d.logger, "Dispatcher stopped", "abandoned_pending", pending)
	case <-time.After(timeout):
		logger.PulseCloseInfow(d.logger, "Dispatcher stop timeout, cancelling running jobs", "timeout", timeout)
		d.cancel()
		select {
		case <-done:
		case <-time.After(timeout):
			d.logger.Warnw("Workers did not exit after cancellation", "timeout", timeout)
		}
	}
	d.cancel()
}
