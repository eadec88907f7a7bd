package async

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/etlpulse/errors"
	"github.com/teranos/etlpulse/logger"
	"github.com/teranos/etlpulse/telemetry"
)

// StreamError ends an output stream with a failure. Logs, when present,
// replace whatever lines were read before the error.
type StreamError struct {
	Err  error
	Logs []string
}

func (e *StreamError) Error() string {
	if e.Err == nil {
		return "job output stream failed"
	}
	return e.Err.Error()
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// FailureReporter is told about every job that reaches FAILURE, whether its
// output capture failed, it could not be dispatched, or it was interrupted
// by a restart.
type FailureReporter interface {
	ReportFailure(ctx context.Context, job *Job)
}

// JobLogOption configures a JobLog
type JobLogOption func(*JobLog)

// WithFailureReporter sets the reporter invoked for failed jobs
func WithFailureReporter(r FailureReporter) JobLogOption {
	return func(l *JobLog) { l.reporter = r }
}

// WithMaxLines keeps only the newest n lines of each job's output.
// 0 keeps everything.
func WithMaxLines(n int) JobLogOption {
	return func(l *JobLog) { l.maxLines = n }
}

// CaptureOption configures a single Create call
type CaptureOption func(*captureConfig)

type captureConfig struct {
	succeedOnEOF bool
}

// WithJobStatus selects the status a cleanly ended stream produces:
// true for SUCCESS (the default), false for FAILURE.
func WithJobStatus(success bool) CaptureOption {
	return func(c *captureConfig) { c.succeedOnEOF = success }
}

// Outcome is the result of a finished capture
type Outcome struct {
	Status Status
	Lines  int
	// Err is the stream error, or the error from finalising the job
	Err error
}

// Capture tracks one job's output capture
type Capture struct {
	JobID int64
	Entry *LogEntry

	done    chan struct{}
	outcome Outcome
}

// Done is closed once the log is persisted and the job status is set
func (c *Capture) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the capture finishes or ctx ends
func (c *Capture) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-c.done:
		return c.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// JobLog drains job output streams into job log entries and finalises the
// job's status when the stream ends.
type JobLog struct {
	store    *LogStore
	queue    *Queue
	reporter FailureReporter
	maxLines int
	logger   *zap.SugaredLogger
	now      func() time.Time

	wg sync.WaitGroup
}

// NewJobLog creates a JobLog writing through store and finalising via queue
func NewJobLog(store *LogStore, queue *Queue, logger *zap.SugaredLogger, opts ...JobLogOption) *JobLog {
	l := &JobLog{
		store:  store,
		queue:  queue,
		logger: logger.Named("joblog"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.reporter != nil {
		queue.AddCompletionListener(l)
	}
	return l
}

// JobCompleted implements CompletionListener. Failed jobs are reported in
// the background; Wait blocks until reports are done.
func (l *JobLog) JobCompleted(ctx context.Context, c Completion) error {
	if c.Job.Status != StatusFailure {
		return nil
	}
	job := c.Job
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.reporter.ReportFailure(context.WithoutCancel(ctx), job)
	}()
	return nil
}

// Create attaches stream to job jobID and returns immediately.
// A second Create for the same job fails with ErrAlreadyExists; a job that
// already finished is rejected with ErrStatusFinalized.
// The stream is drained line by line in the background; when it ends the
// contents are persisted and the job is set to SUCCESS or FAILURE.
func (l *JobLog) Create(ctx context.Context, jobID int64, stream io.Reader, opts ...CaptureOption) (*Capture, error) {
	cfg := captureConfig{succeedOnEOF: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	job, err := l.queue.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.Running {
		return nil, errors.Wrapf(errors.ErrStatusFinalized, "job %d already finished with %s", jobID, job.Status)
	}

	entry, err := l.store.Claim(ctx, jobID, l.now())
	if err != nil {
		return nil, err
	}

	c := &Capture{JobID: jobID, Entry: entry, done: make(chan struct{})}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer close(c.done)
		c.outcome = l.drain(context.WithoutCancel(ctx), jobID, stream, cfg)
	}()

	return c, nil
}

func (l *JobLog) drain(ctx context.Context, jobID int64, stream io.Reader, cfg captureConfig) Outcome {
	lines, streamErr := l.readLines(stream)

	status := StatusSuccess
	if !cfg.succeedOnEOF {
		status = StatusFailure
	}
	if streamErr != nil {
		status = StatusFailure
		var se *StreamError
		if errors.As(streamErr, &se) && len(se.Logs) > 0 {
			lines = l.capLines(se.Logs)
		}
		l.logger.Warnw("Job output stream failed",
			logger.FieldJobID, jobID,
			logger.FieldError, streamErr)
	}

	outcome := Outcome{Status: status, Lines: len(lines), Err: streamErr}
	telemetry.JobLogLines.Observe(float64(len(lines)))

	if err := l.store.SaveContents(ctx, jobID, strings.Join(lines, "\n"), l.now()); err != nil {
		l.logger.Errorw("Failed to persist job log", logger.FieldJobID, jobID, logger.FieldError, err)
	}

	if _, _, err := l.queue.finish(ctx, jobID, status, ""); err != nil {
		l.logger.Errorw("Failed to set job status",
			logger.FieldJobID, jobID,
			logger.FieldStatus, status,
			logger.FieldError, err)
		if outcome.Err == nil {
			outcome.Err = err
		}
		return outcome
	}

	return outcome
}

// readLines reads until EOF or error. A final line without a newline is kept.
func (l *JobLog) readLines(stream io.Reader) ([]string, error) {
	reader := bufio.NewReader(stream)
	var lines []string
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			lines = append(lines, strings.TrimRight(line, "\r\n"))
			if l.maxLines > 0 && len(lines) >= 2*l.maxLines {
				lines = append(lines[:0:0], lines[len(lines)-l.maxLines:]...)
			}
		}
		if err == io.EOF {
			return l.capLines(lines), nil
		}
		if err != nil {
			return l.capLines(lines), err
		}
	}
}

func (l *JobLog) capLines(lines []string) []string {
	if l.maxLines > 0 && len(lines) > l.maxLines {
		return lines[len(lines)-l.maxLines:]
	}
	return lines
}

// Get retrieves the log of job id
func (l *JobLog) Get(ctx context.Context, id int64) (*LogEntry, error) {
	return l.store.Get(ctx, id)
}

// Select returns log entries matching filter
func (l *JobLog) Select(ctx context.Context, filter LogFilter) ([]*LogEntry, error) {
	return l.store.Select(ctx, filter)
}

// Wait blocks until every in-flight capture and failure report has finished
func (l *JobLog) Wait() {
	l.wg.Wait()
}
