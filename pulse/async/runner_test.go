package async

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShellRunnerSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job, err := f.queue.CreateJob(ctx, CreateJobRequest{Tasks: EncodeTasks([]string{"echo extract", "echo 'load rows'"})})
	require.NoError(t, err)

	runner := NewShellRunner(f.queue, t.TempDir(), f.logger)
	stream, err := runner.Run(ctx, job)
	require.NoError(t, err)

	capture, err := f.joblog.Create(ctx, job.ID, stream)
	require.NoError(t, err)
	outcome := waitCapture(t, capture)
	assert.Equal(t, StatusSuccess, outcome.Status)

	entry, err := f.joblog.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "$ echo extract\nextract\n$ echo 'load rows'\nload rows", entry.Contents)
}

func TestShellRunnerStopsAtFirstFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job, err := f.queue.CreateJob(ctx, CreateJobRequest{Tasks: EncodeTasks([]string{
		"echo before",
		"sh -c 'echo oops >&2; exit 3'",
		"echo never",
	})})
	require.NoError(t, err)

	runner := NewShellRunner(f.queue, t.TempDir(), f.logger)
	stream, err := runner.Run(ctx, job)
	require.NoError(t, err)

	capture, err := f.joblog.Create(ctx, job.ID, stream)
	require.NoError(t, err)
	outcome := waitCapture(t, capture)
	assert.Equal(t, StatusFailure, outcome.Status)

	entry, err := f.joblog.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Contains(t, entry.Contents, "before")
	assert.Contains(t, entry.Contents, "oops")
	assert.Contains(t, entry.Contents, "task 2 failed")
	assert.NotContains(t, entry.Contents, "never")
}

func TestShellRunnerRejectsMalformedTasks(t *testing.T) {
	f := newFixture(t)
	runner := NewShellRunner(f.queue, t.TempDir(), f.logger)
	_, err := runner.Run(context.Background(), &Job{ID: 1, Tasks: "{"})
	assert.Error(t, err)
}

func TestShellRunnerPauseWritesCheckpointAndResumes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dir := t.TempDir()

	job, err := f.queue.CreateJob(ctx, CreateJobRequest{Tasks: EncodeTasks([]string{"echo one"})})
	require.NoError(t, err)
	_, err = f.queue.PauseJob(ctx, job.ID, "job.ckpt")
	require.NoError(t, err)

	runner := NewShellRunner(f.queue, dir, f.logger)
	runner.pollInterval = 10 * time.Millisecond
	stream, err := runner.Run(ctx, job)
	require.NoError(t, err)
	capture, err := f.joblog.Create(ctx, job.ID, stream)
	require.NoError(t, err)

	checkpoint := filepath.Join(dir, "job.ckpt")
	require.Eventually(t, func() bool {
		_, err := os.Stat(checkpoint)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	data, err := os.ReadFile(checkpoint)
	require.NoError(t, err)
	var cp Checkpoint
	require.NoError(t, json.Unmarshal(data, &cp))
	assert.Equal(t, job.ID, cp.JobID)
	assert.Equal(t, 0, cp.NextTask)
	assert.Equal(t, 1, cp.TotalTasks)

	select {
	case <-capture.Done():
		t.Fatal("paused job finished")
	default:
	}

	_, err = f.queue.ResumeJob(ctx, job.ID)
	require.NoError(t, err)

	outcome := waitCapture(t, capture)
	assert.Equal(t, StatusSuccess, outcome.Status)
	_, err = os.Stat(checkpoint)
	assert.True(t, os.IsNotExist(err), "checkpoint removed on resume")
}
