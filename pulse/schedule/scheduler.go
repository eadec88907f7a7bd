package schedule

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/etlpulse/db"
	"github.com/teranos/etlpulse/errors"
	"github.com/teranos/etlpulse/lease"
	"github.com/teranos/etlpulse/logger"
	"github.com/teranos/etlpulse/pulse/async"
	"github.com/teranos/etlpulse/telemetry"
)

const (
	triggerCron   = "cron"
	triggerRunNow = "run_now"
)

// Dispatcher hands an admitted job to execution
type Dispatcher interface {
	Submit(job *async.Job) error
}

// Config contains configuration for the Scheduler
type Config struct {
	WorkerID string
	// Interval between ticks
	Interval time.Duration
	// RunNowPriority is the priority of jobs created by RunNow
	RunNowPriority int
	// LeaseTTL is how long a tick lease is held; must exceed Interval
	LeaseTTL time.Duration
}

// Scheduler fires due schedules of one worker and records their history.
// It registers itself as a completion listener on the queue.
type Scheduler struct {
	store      *Store
	history    *History
	queue      *async.Queue
	dispatcher Dispatcher
	locker     lease.Locker
	cfg        Config
	holder     string
	leaseKey   string
	logger     *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	lastTickAt  time.Time
	ticks       int64
	fired       int64
	invalidCron map[int64]string
}

// NewScheduler creates a scheduler. locker may be nil for a single process.
func NewScheduler(store *Store, history *History, queue *async.Queue, dispatcher Dispatcher, locker lease.Locker, cfg Config, log *zap.SugaredLogger) *Scheduler {
	if cfg.WorkerID == "" {
		cfg.WorkerID = queue.WorkerID()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.LeaseTTL <= cfg.Interval {
		cfg.LeaseTTL = 3 * cfg.Interval
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		store:       store,
		history:     history,
		queue:       queue,
		dispatcher:  dispatcher,
		locker:      locker,
		cfg:         cfg,
		holder:      uuid.NewString(),
		leaseKey:    "etlpulse:tick:" + cfg.WorkerID,
		logger:      log.Named("scheduler"),
		ctx:         ctx,
		cancel:      cancel,
		invalidCron: make(map[int64]string),
	}
	queue.AddCompletionListener(s)
	return s
}

// Initialize validates the worker's schedules and releases running flags
// that no live job backs (a crash between claim and admission).
// Call it after the queue has reconciled interrupted jobs.
func (s *Scheduler) Initialize(ctx context.Context) error {
	schedules, err := s.store.Select(ctx, Filter{WorkerID: s.cfg.WorkerID})
	if err != nil {
		return errors.Wrap(err, "failed to load schedules")
	}

	enabled := 0
	for _, sched := range schedules {
		if _, err := ParseCron(sched.Cron); err != nil {
			s.flagInvalid(sched, err)
		}
		if sched.ShouldRunNext {
			enabled++
		}
		if sched.Running {
			if err := s.releaseOrphan(ctx, sched); err != nil {
				return err
			}
		}
	}

	logger.PulseInfow(s.logger, "Schedules loaded",
		logger.FieldWorkerID, s.cfg.WorkerID,
		logger.FieldCount, len(schedules),
		"enabled", enabled)
	return nil
}

func (s *Scheduler) releaseOrphan(ctx context.Context, sched *Schedule) error {
	running := true
	jobs, err := s.queue.Select(ctx, async.JobFilter{ScheduleID: &sched.ID, Running: &running})
	if err != nil {
		return errors.Wrapf(err, "failed to check jobs of schedule %d", sched.ID)
	}
	if len(jobs) > 0 {
		return nil
	}
	if _, err := s.store.Release(ctx, sched.ID); err != nil {
		return err
	}
	s.logger.Warnw("Released schedule with no running job",
		logger.FieldScheduleID, sched.ID)
	return nil
}

// Start begins the tick loop
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
	logger.PulseOpenInfow(s.logger, "Scheduler started",
		"interval", s.cfg.Interval,
		logger.FieldWorkerID, s.cfg.WorkerID)
}

// Stop ends the tick loop and gives up the tick lease
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()

	if s.locker != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.locker.Release(ctx, s.leaseKey, s.holder); err != nil {
			s.logger.Warnw("Failed to release tick lease", logger.FieldError, err)
		}
	}
	logger.PulseCloseInfow(s.logger, "Scheduler stopped")
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case tickTime := <-ticker.C:
			if _, err := s.Tick(s.ctx, tickTime.UTC()); err != nil {
				if s.ctx.Err() != nil || db.IsDatabaseClosed(err) {
					return
				}
				s.logger.Warnw("Tick failed", logger.FieldError, err)
			}
		}
	}
}

// Tick fires every enabled idle schedule that is due at now and returns
// the admitted jobs. A schedule that fails to fire does not stop the others.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) ([]*async.Job, error) {
	s.mu.Lock()
	s.lastTickAt = now
	s.ticks++
	s.mu.Unlock()
	telemetry.SchedulerTicks.Inc()

	if s.locker != nil {
		ok, err := s.locker.Acquire(ctx, s.leaseKey, s.holder, s.cfg.LeaseTTL)
		if err != nil {
			telemetry.SchedulerTicksSkipped.Inc()
			return nil, errors.Wrap(err, "tick lease unavailable")
		}
		if !ok {
			telemetry.SchedulerTicksSkipped.Inc()
			s.logger.Debugw("Tick lease held elsewhere", "lease", s.leaseKey)
			return nil, nil
		}
	}

	running, enabled := false, true
	schedules, err := s.store.Select(ctx, Filter{
		WorkerID:      s.cfg.WorkerID,
		Running:       &running,
		ShouldRunNext: &enabled,
	})
	if err != nil {
		return nil, err
	}

	var fired []*async.Job
	for _, sched := range schedules {
		cronSched, err := ParseCron(sched.Cron)
		if err != nil {
			s.flagInvalid(sched, err)
			continue
		}
		s.clearInvalid(sched.ID)

		due, next := sched.IsDue(cronSched, now)
		if !due {
			continue
		}

		job, err := s.fire(ctx, sched, now, nil, triggerCron)
		if err != nil {
			if errors.Is(err, errors.ErrConflict) {
				continue
			}
			if ctx.Err() != nil {
				return fired, ctx.Err()
			}
			s.logger.Errorw("Failed to fire schedule",
				logger.FieldScheduleID, sched.ID,
				logger.FieldNextRun, next,
				logger.FieldError, err)
			continue
		}
		fired = append(fired, job)
	}
	return fired, nil
}

// RunNow fires a schedule immediately, bypassing its cron expression and
// its should_run_next flag. It fails with ErrConflict while the schedule is
// running.
func (s *Scheduler) RunNow(ctx context.Context, id int64) (*async.Job, error) {
	return s.RunNowWithPriority(ctx, id, s.cfg.RunNowPriority)
}

// RunNowWithPriority is RunNow with an explicit job priority
func (s *Scheduler) RunNowWithPriority(ctx context.Context, id int64, priority int) (*async.Job, error) {
	sched, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.fire(ctx, sched, time.Now().UTC(), &priority, triggerRunNow)
}

// fire claims sched and admits a job for it
func (s *Scheduler) fire(ctx context.Context, sched *Schedule, now time.Time, runNowPriority *int, trigger string) (*async.Job, error) {
	var claimed bool
	var err error
	if runNowPriority != nil {
		claimed, err = s.store.ClaimRunNow(ctx, sched.ID, now)
	} else {
		claimed, err = s.store.Claim(ctx, sched.ID, now)
	}
	if err != nil {
		return nil, err
	}
	if !claimed {
		telemetry.ClaimsLost.Inc()
		return nil, errors.Wrapf(errors.ErrConflict, "schedule %d is already running", sched.ID)
	}

	scheduleID := sched.ID
	job, err := s.queue.CreateJob(ctx, async.CreateJobRequest{
		ScheduleID:     &scheduleID,
		Priority:       sched.Priority,
		RunNowPriority: runNowPriority,
		WorkerID:       s.cfg.WorkerID,
		Tasks:          sched.Tasks,
	})
	if err != nil {
		if _, relErr := s.store.Release(context.WithoutCancel(ctx), sched.ID); relErr != nil {
			err = errors.WithSecondaryError(err, relErr)
		}
		return nil, err
	}

	telemetry.SchedulesFired.WithLabelValues(trigger).Inc()
	s.mu.Lock()
	s.fired++
	s.mu.Unlock()

	logger.PulseInfow(s.logger, "Schedule fired",
		logger.FieldScheduleID, sched.ID,
		logger.FieldJobID, job.ID,
		logger.FieldPriority, job.EffectivePriority(),
		"trigger", trigger)

	if s.dispatcher != nil {
		if err := s.dispatcher.Submit(job); err != nil {
			s.logger.Errorw("Failed to dispatch job, marking it failed",
				logger.FieldJobID, job.ID,
				logger.FieldError, err)
			if _, setErr := s.queue.SetJobStatus(context.WithoutCancel(ctx), job.ID, false, async.StatusFailure); setErr != nil {
				return nil, errors.WithSecondaryError(err, setErr)
			}
			return nil, errors.Wrapf(err, "failed to dispatch job %d", job.ID)
		}
	}
	return job, nil
}

// JobCompleted releases the job's schedule and records the run.
// It implements async.CompletionListener.
func (s *Scheduler) JobCompleted(ctx context.Context, c async.Completion) error {
	if c.Job.ScheduleID == nil {
		return nil
	}
	scheduleID := *c.Job.ScheduleID

	released, err := s.store.Release(ctx, scheduleID)
	if err != nil {
		return err
	}
	if !released {
		s.logger.Warnw("Schedule was not running when its job finished",
			logger.FieldScheduleID, scheduleID,
			logger.FieldJobID, c.Job.ID)
	}

	meta := fmt.Sprintf("job %d %s", c.Job.ID, c.Job.Status)
	if c.Reason != "" {
		meta += " (" + c.Reason + ")"
	}
	if _, err := s.history.UpsertStatusSchedule(ctx, scheduleID, c.Success(), meta); err != nil {
		return errors.Wrapf(err, "failed to record history of schedule %d", scheduleID)
	}
	return nil
}

func (s *Scheduler) flagInvalid(sched *Schedule, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cron, ok := s.invalidCron[sched.ID]; ok && cron == sched.Cron {
		return
	}
	s.invalidCron[sched.ID] = sched.Cron
	telemetry.CronErrors.Inc()
	s.logger.Warnw("Skipping schedule with invalid cron expression",
		logger.FieldScheduleID, sched.ID,
		logger.FieldCron, sched.Cron,
		logger.FieldError, err)
}

func (s *Scheduler) clearInvalid(id int64) {
	s.mu.Lock()
	delete(s.invalidCron, id)
	s.mu.Unlock()
}

// Get retrieves a schedule
func (s *Scheduler) Get(ctx context.Context, id int64) (*Schedule, error) {
	return s.store.Get(ctx, id)
}

// Select returns schedules matching filter
func (s *Scheduler) Select(ctx context.Context, filter Filter) ([]*Schedule, error) {
	return s.store.Select(ctx, filter)
}

// GetStats returns a snapshot of scheduler activity
func (s *Scheduler) GetStats() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	invalid := make([]int64, 0, len(s.invalidCron))
	for id := range s.invalidCron {
		invalid = append(invalid, id)
	}
	sort.Slice(invalid, func(i, j int) bool { return invalid[i] < invalid[j] })

	stats := map[string]interface{}{
		"worker_id":         s.cfg.WorkerID,
		"interval_seconds":  s.cfg.Interval.Seconds(),
		"ticks":             s.ticks,
		"fired":             s.fired,
		"invalid_schedules": invalid,
		"lease":             s.locker != nil,
	}
	if !s.lastTickAt.IsZero() {
		stats["last_tick"] = s.lastTickAt
	}
	return stats
}
