package async

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	etltest "github.com/teranos/etlpulse/internal/testing"
	"github.com/teranos/etlpulse/internal/util"
)

const testWorker = "worker-test"

type fixture struct {
	queue  *Queue
	logs   *LogStore
	joblog *JobLog
	logger *zap.SugaredLogger
}

func newFixture(t *testing.T, opts ...JobLogOption) *fixture {
	t.Helper()
	db := etltest.CreateTestDB(t)
	log := zaptest.NewLogger(t).Sugar()
	queue := NewQueue(db, testWorker, log)
	logs := NewLogStore(db)
	return &fixture{
		queue:  queue,
		logs:   logs,
		joblog: NewJobLog(logs, queue, log, opts...),
		logger: log,
	}
}

func (f *fixture) createJob(t *testing.T, scheduleID *int64, priority int) *Job {
	t.Helper()
	job, err := f.queue.CreateJob(context.Background(), CreateJobRequest{
		ScheduleID: scheduleID,
		Priority:   priority,
		Tasks:      `["echo hi"]`,
	})
	require.NoError(t, err)
	return job
}

func scheduleID(id int64) *int64 { return util.Ptr(id) }

// recordingListener collects completions
type recordingListener struct {
	mu          sync.Mutex
	completions []Completion
}

func (r *recordingListener) JobCompleted(_ context.Context, c Completion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completions = append(r.completions, c)
	return nil
}

func (r *recordingListener) all() []Completion {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Completion(nil), r.completions...)
}

// recordingReporter collects reported failures
type recordingReporter struct {
	reported chan *Job
}

func newRecordingReporter() *recordingReporter {
	return &recordingReporter{reported: make(chan *Job, 16)}
}

func (r *recordingReporter) ReportFailure(_ context.Context, job *Job) {
	r.reported <- job
}

// erroringReader yields data then fails with err
type erroringReader struct {
	data io.Reader
	err  error
}

func (r *erroringReader) Read(p []byte) (int, error) {
	n, err := r.data.Read(p)
	if err == io.EOF {
		return n, r.err
	}
	return n, err
}

func failingStream(data string, err error) io.Reader {
	return &erroringReader{data: strings.NewReader(data), err: err}
}

func waitCapture(t *testing.T, c *Capture) Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	outcome, err := c.Wait(ctx)
	require.NoError(t, err)
	return outcome
}
