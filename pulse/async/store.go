package async

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/etlpulse/db"
	"github.com/teranos/etlpulse/errors"
)

// JobFilter selects jobs. Zero-valued fields do not constrain the query.
type JobFilter struct {
	IDs        []int64
	ScheduleID *int64
	WorkerID   string
	Running    *bool
	Status     *Status
	Limit      int
}

func (f JobFilter) where() *db.Where {
	w := db.NewWhere()
	if f.IDs != nil {
		ids := make([]interface{}, len(f.IDs))
		for i, id := range f.IDs {
			ids[i] = id
		}
		w.In("id", ids...)
	}
	if f.ScheduleID != nil {
		w.Eq("schedule_id", *f.ScheduleID)
	}
	if f.WorkerID != "" {
		w.Eq("worker_id", f.WorkerID)
	}
	if f.Running != nil {
		w.EqBool("running", *f.Running)
	}
	if f.Status != nil {
		w.Eq("status", string(*f.Status))
	}
	return w
}

// Store handles persistence of jobs and their empty log rows
type Store struct {
	db *sql.DB
}

// NewStore creates a new job store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a running job and its empty log row in one transaction.
// The log row shares the job's id.
func (s *Store) Create(ctx context.Context, req CreateJobRequest, now time.Time) (*Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin job transaction")
	}
	defer tx.Rollback()

	var scheduleID sql.NullInt64
	if req.ScheduleID != nil {
		scheduleID = sql.NullInt64{Int64: *req.ScheduleID, Valid: true}
	}
	var runNow sql.NullInt64
	if req.RunNowPriority != nil {
		runNow = sql.NullInt64{Int64: int64(*req.RunNowPriority), Valid: true}
	}
	tasks := req.Tasks
	if tasks == "" {
		tasks = "[]"
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO jobs (
			schedule_id, priority, run_now_priority,
			running, status, start_time, worker_id, tasks
		) VALUES (?, ?, ?, 1, '', ?, ?, ?)`,
		scheduleID, req.Priority, runNow, now, req.WorkerID, tasks,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to insert job")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read job id")
	}

	if _, err := tx.ExecContext(ctx, `UPDATE jobs SET log_id = ? WHERE id = ?`, id, id); err != nil {
		return nil, errors.Wrap(err, "failed to link job log")
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO job_logs (id, contents, captured, created_at, updated_at)
		VALUES (?, '', 0, ?, ?)`, id, now, now); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, errors.Wrapf(errors.ErrAlreadyExists, "job log %d", id)
		}
		return nil, errors.Wrap(err, "failed to insert job log")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit job")
	}

	return &Job{
		ID:             id,
		ScheduleID:     req.ScheduleID,
		Priority:       req.Priority,
		RunNowPriority: req.RunNowPriority,
		Running:        true,
		StartTime:      now,
		LogID:          id,
		WorkerID:       req.WorkerID,
		Tasks:          tasks,
	}, nil
}

// Get retrieves a job by id
func (s *Store) Get(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobSelectColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("job %d", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get job %d", id)
	}
	return job, nil
}

// Select returns jobs matching the filter, highest effective priority first,
// then oldest first.
func (s *Store) Select(ctx context.Context, filter JobFilter) ([]*Job, error) {
	clause, args := filter.where().Build()
	query := `SELECT ` + jobSelectColumns + ` FROM jobs` + clause +
		` ORDER BY COALESCE(run_now_priority, priority) DESC, start_time ASC, id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to select jobs")
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Finalize sets a terminal status if none is set yet.
// Returns false when the row was already finalized or does not exist.
func (s *Store) Finalize(ctx context.Context, id int64, status Status, endTime time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET running = 0, status = ?, end_time = ?
		WHERE id = ? AND status = ''`, string(status), endTime, id)
	if err != nil {
		return false, errors.Wrapf(err, "failed to finalize job %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read affected rows")
	}
	return n == 1, nil
}

// SetPausedFilename writes the pause checkpoint name of a running job.
// Returns false when the job is not running.
func (s *Store) SetPausedFilename(ctx context.Context, id int64, filename string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET paused_filename = ?
		WHERE id = ? AND running = 1`, filename, id)
	if err != nil {
		return false, errors.Wrapf(err, "failed to update paused filename of job %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read affected rows")
	}
	return n == 1, nil
}

// Delete removes finished jobs matching the filter together with their logs.
// Running jobs are never deleted.
func (s *Store) Delete(ctx context.Context, filter JobFilter) (int64, error) {
	w := filter.where().EqBool("running", false)
	clause, args := w.Build()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin delete transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM job_logs WHERE id IN (SELECT id FROM jobs`+clause+`)`, args...); err != nil {
		return 0, errors.Wrap(err, "failed to delete job logs")
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM jobs`+clause, args...)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete jobs")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read affected rows")
	}
	return n, tx.Commit()
}
