package async

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/teranos/etlpulse/errors"
	"github.com/teranos/etlpulse/logger"
)

// Runner executes a job's tasks and returns its output stream.
// The stream ends with io.EOF on success or with an error (ideally a
// *StreamError) on failure.
type Runner interface {
	Run(ctx context.Context, job *Job) (io.ReadCloser, error)
}

// JobSource reads the current state of a job; the shell runner polls it to
// observe pause requests.
type JobSource interface {
	Get(ctx context.Context, id int64) (*Job, error)
}

// Checkpoint is written to the paused filename when a job pauses
type Checkpoint struct {
	JobID      int64     `json:"job_id"`
	NextTask   int       `json:"next_task"`
	TotalTasks int       `json:"total_tasks"`
	PausedAt   time.Time `json:"paused_at"`
}

// ShellRunner runs each task as a command line, in order, stopping at the
// first failing task. Tasks are split with shell quoting rules and executed
// directly, not through a shell.
type ShellRunner struct {
	jobs          JobSource
	checkpointDir string
	pollInterval  time.Duration
	env           []string
	logger        *zap.SugaredLogger
}

// NewShellRunner creates a runner. Pause checkpoints are written under
// checkpointDir.
func NewShellRunner(jobs JobSource, checkpointDir string, logger *zap.SugaredLogger) *ShellRunner {
	return &ShellRunner{
		jobs:          jobs,
		checkpointDir: checkpointDir,
		pollInterval:  time.Second,
		env:           os.Environ(),
		logger:        logger.Named("runner"),
	}
}

// Run starts executing job in the background
func (r *ShellRunner) Run(ctx context.Context, job *Job) (io.ReadCloser, error) {
	tasks, err := job.TaskList()
	if err != nil {
		return nil, errors.Wrapf(err, "job %d", job.ID)
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(r.runTasks(ctx, job, tasks, pw))
	}()
	return pr, nil
}

func (r *ShellRunner) runTasks(ctx context.Context, job *Job, tasks []string, out io.Writer) error {
	for i, task := range tasks {
		if err := r.waitWhilePaused(ctx, job, i, len(tasks), out); err != nil {
			return &StreamError{Err: err}
		}

		argv, err := shellquote.Split(task)
		if err != nil {
			fmt.Fprintf(out, "task %d: %v\n", i+1, err)
			return &StreamError{Err: errors.Wrapf(err, "task %d", i+1)}
		}
		if len(argv) == 0 {
			continue
		}

		fmt.Fprintf(out, "$ %s\n", task)
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Env = append(append([]string(nil), r.env...), fmt.Sprintf("ETLPULSE_JOB_ID=%d", job.ID))
		cmd.Stdout = out
		cmd.Stderr = out

		if err := cmd.Run(); err != nil {
			fmt.Fprintf(out, "task %d failed: %v\n", i+1, err)
			return &StreamError{Err: errors.Wrapf(err, "task %d (%s)", i+1, argv[0])}
		}
	}
	return nil
}

// waitWhilePaused blocks between tasks while the job carries a paused
// filename, writing a checkpoint the first time the pause is seen.
func (r *ShellRunner) waitWhilePaused(ctx context.Context, job *Job, next, total int, out io.Writer) error {
	checkpointed := ""
	for {
		current, err := r.jobs.Get(ctx, job.ID)
		if err != nil {
			return err
		}
		if !current.IsPaused() {
			if checkpointed != "" {
				os.Remove(checkpointed)
				fmt.Fprintf(out, "resumed at task %d\n", next+1)
			}
			return nil
		}

		if checkpointed == "" {
			path, err := r.writeCheckpoint(current.PausedFilename, Checkpoint{
				JobID:      job.ID,
				NextTask:   next,
				TotalTasks: total,
				PausedAt:   time.Now().UTC(),
			})
			if err != nil {
				return err
			}
			checkpointed = path
			fmt.Fprintf(out, "paused before task %d, checkpoint %s\n", next+1, path)
			r.logger.Infow("Job paused", logger.FieldJobID, job.ID, "checkpoint", path)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.pollInterval):
		}
	}
}

func (r *ShellRunner) writeCheckpoint(filename string, cp Checkpoint) (string, error) {
	path := filename
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.checkpointDir, filepath.Base(filename))
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode checkpoint")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", errors.Wrap(err, "failed to create checkpoint directory")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", errors.Wrapf(err, "failed to write checkpoint %s", path)
	}
	return path, nil
}

// failedStream is the output of a job whose runner could not start it
type failedStream struct {
	err error
}

func (s failedStream) Read([]byte) (int, error) { return 0, s.err }
func (s failedStream) Close() error              { return nil }

// FailedStream returns a stream that immediately fails with err, carrying
// err's message as the job's log.
func FailedStream(err error) io.ReadCloser {
	return failedStream{err: &StreamError{Err: err, Logs: []string{err.Error()}}}
}
