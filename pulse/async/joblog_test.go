package async

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/etlpulse/errors"
)

func TestJobLogCleanStreamSucceeds(t *testing.T) {
	reporter := newRecordingReporter()
	f := newFixture(t, WithFailureReporter(reporter))
	ctx := context.Background()
	job := f.createJob(t, scheduleID(1), 0)

	capture, err := f.joblog.Create(ctx, job.ID, strings.NewReader("a\nb\nc\n"))
	require.NoError(t, err)
	assert.Equal(t, job.ID, capture.Entry.ID)
	assert.True(t, capture.Entry.Captured)

	outcome := waitCapture(t, capture)
	assert.Equal(t, StatusSuccess, outcome.Status)
	assert.Equal(t, 3, outcome.Lines)
	assert.NoError(t, outcome.Err)

	entry, err := f.joblog.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\nc", entry.Contents)

	stored, err := f.queue.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, stored.Status)
	assert.False(t, stored.Running)

	f.joblog.Wait()
	assert.Empty(t, reporter.reported, "successful jobs are not reported")
}

func TestJobLogKeepsTrailingPartialLine(t *testing.T) {
	f := newFixture(t)
	job := f.createJob(t, nil, 0)

	capture, err := f.joblog.Create(context.Background(), job.ID, strings.NewReader("first\r\nlast-without-newline"))
	require.NoError(t, err)
	waitCapture(t, capture)

	entry, err := f.joblog.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "first\nlast-without-newline", entry.Contents)
}

func TestJobLogWithJobStatusFalseFailsOnCleanEnd(t *testing.T) {
	reporter := newRecordingReporter()
	f := newFixture(t, WithFailureReporter(reporter))
	job := f.createJob(t, nil, 0)

	capture, err := f.joblog.Create(context.Background(), job.ID, strings.NewReader("done\n"), WithJobStatus(false))
	require.NoError(t, err)
	outcome := waitCapture(t, capture)
	assert.Equal(t, StatusFailure, outcome.Status)
	assert.NoError(t, outcome.Err)

	select {
	case reported := <-reporter.reported:
		assert.Equal(t, job.ID, reported.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("failure was not reported")
	}
}

func TestJobLogStreamErrorKeepsBufferedLines(t *testing.T) {
	t.Log("The extractor prints two lines and then its connection drops")
	reporter := newRecordingReporter()
	f := newFixture(t, WithFailureReporter(reporter))
	ctx := context.Background()
	job := f.createJob(t, scheduleID(2), 0)

	capture, err := f.joblog.Create(ctx, job.ID, failingStream("x\ny\n", errors.New("connection reset")))
	require.NoError(t, err)
	outcome := waitCapture(t, capture)
	assert.Equal(t, StatusFailure, outcome.Status)
	assert.Error(t, outcome.Err)

	entry, err := f.joblog.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "x\ny", entry.Contents)

	stored, err := f.queue.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailure, stored.Status)

	select {
	case reported := <-reporter.reported:
		assert.Equal(t, job.ID, reported.ID)
		assert.Equal(t, StatusFailure, reported.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("failure was not reported")
	}
}

func TestJobLogStreamErrorWithLogsReplacesBuffer(t *testing.T) {
	f := newFixture(t)
	job := f.createJob(t, nil, 0)

	streamErr := &StreamError{Err: errors.New("exit 2"), Logs: []string{"stderr: bad input", "exit 2"}}
	capture, err := f.joblog.Create(context.Background(), job.ID, failingStream("partial\n", streamErr))
	require.NoError(t, err)
	waitCapture(t, capture)

	entry, err := f.joblog.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "stderr: bad input\nexit 2", entry.Contents)
}

func TestJobLogDuplicateCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.createJob(t, nil, 0)

	capture, err := f.joblog.Create(ctx, job.ID, strings.NewReader("one\n"))
	require.NoError(t, err)

	_, err = f.joblog.Create(ctx, job.ID, strings.NewReader("two\n"))
	assert.True(t, errors.IsAlreadyExists(err))

	waitCapture(t, capture)
	entry, err := f.joblog.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "one", entry.Contents, "the first stream wins")
}

func TestJobLogConcurrentCreateExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.createJob(t, nil, 0)

	var wg sync.WaitGroup
	results := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.joblog.Create(ctx, job.ID, strings.NewReader("line\n"))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, dup int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.IsAlreadyExists(err):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 3, dup)
	f.joblog.Wait()
}

func TestJobLogUnknownJob(t *testing.T) {
	f := newFixture(t)
	_, err := f.joblog.Create(context.Background(), 777, strings.NewReader(""))
	assert.True(t, errors.IsNotFoundError(err))
}

func TestJobLogMaxLinesKeepsNewest(t *testing.T) {
	f := newFixture(t, WithMaxLines(3))
	job := f.createJob(t, nil, 0)

	var b strings.Builder
	for i := 1; i <= 10; i++ {
		b.WriteString(strings.Repeat("l", i))
		b.WriteString("\n")
	}

	capture, err := f.joblog.Create(context.Background(), job.ID, strings.NewReader(b.String()))
	require.NoError(t, err)
	outcome := waitCapture(t, capture)
	assert.Equal(t, 3, outcome.Lines)

	entry, err := f.joblog.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "llllllll\nlllllllll\nllllllllll", entry.Contents)
}

func TestJobLogCreateReturnsBeforeStreamEnds(t *testing.T) {
	f := newFixture(t)
	job := f.createJob(t, nil, 0)

	pr, pw := io.Pipe()
	capture, err := f.joblog.Create(context.Background(), job.ID, pr)
	require.NoError(t, err)

	select {
	case <-capture.Done():
		t.Fatal("capture finished before the stream ended")
	default:
	}

	pw.Write([]byte("streamed\n"))
	pw.Close()
	outcome := waitCapture(t, capture)
	assert.Equal(t, StatusSuccess, outcome.Status)
}

func TestJobLogAlreadyFinalizedJob(t *testing.T) {
	reporter := newRecordingReporter()
	f := newFixture(t, WithFailureReporter(reporter))
	ctx := context.Background()
	job := f.createJob(t, nil, 0)

	_, err := f.queue.SetJobStatus(ctx, job.ID, false, StatusSuccess)
	require.NoError(t, err)

	_, err = f.joblog.Create(ctx, job.ID, failingStream("late output", errors.New("boom")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrStatusFinalized))

	stored, err := f.queue.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, stored.Status, "a finalized status never changes")

	entry, err := f.joblog.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, entry.Captured, "the log of a finished job is not claimed")
	assert.Empty(t, entry.Contents)

	f.joblog.Wait()
	assert.Empty(t, reporter.reported)
}

func TestJobLogReportsFailuresOutsideCapture(t *testing.T) {
	t.Log("Jobs failed through the queue directly still reach the reporter")
	reporter := newRecordingReporter()
	f := newFixture(t, WithFailureReporter(reporter))
	ctx := context.Background()

	failed := f.createJob(t, scheduleID(4), 0)
	_, err := f.queue.SetJobStatus(ctx, failed.ID, false, StatusFailure)
	require.NoError(t, err)

	succeeded := f.createJob(t, nil, 0)
	_, err = f.queue.SetJobStatus(ctx, succeeded.ID, false, StatusSuccess)
	require.NoError(t, err)

	f.joblog.Wait()
	require.Len(t, reporter.reported, 1)
	reported := <-reporter.reported
	assert.Equal(t, failed.ID, reported.ID)
	assert.Equal(t, StatusFailure, reported.Status)
}

func TestJobLogReportsJobsInterruptedByRestart(t *testing.T) {
	reporter := newRecordingReporter()
	f := newFixture(t, WithFailureReporter(reporter))
	ctx := context.Background()
	job := f.createJob(t, nil, 0)

	n, err := f.queue.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	f.joblog.Wait()
	require.Len(t, reporter.reported, 1)
	assert.Equal(t, job.ID, (<-reporter.reported).ID)
}

func TestJobLogSelect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.createJob(t, nil, 0)
	f.createJob(t, nil, 0)

	capture, err := f.joblog.Create(ctx, a.ID, strings.NewReader("x\n"))
	require.NoError(t, err)
	waitCapture(t, capture)

	captured := true
	entries, err := f.joblog.Select(ctx, LogFilter{Captured: &captured})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, a.ID, entries[0].ID)

	all, err := f.joblog.Select(ctx, LogFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
