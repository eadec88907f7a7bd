package schedule

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/teranos/etlpulse/db"
	"github.com/teranos/etlpulse/errors"
)

// Filter selects schedules. Zero-valued fields do not constrain the query.
type Filter struct {
	IDs           []int64
	Name          string
	WorkerID      string
	Running       *bool
	ShouldRunNext *bool
}

func (f Filter) where() *db.Where {
	w := db.NewWhere()
	if f.IDs != nil {
		ids := make([]interface{}, len(f.IDs))
		for i, id := range f.IDs {
			ids[i] = id
		}
		w.In("id", ids...)
	}
	if f.Name != "" {
		w.Eq("name", f.Name)
	}
	if f.WorkerID != "" {
		w.Eq("worker_id", f.WorkerID)
	}
	if f.Running != nil {
		w.EqBool("running", *f.Running)
	}
	if f.ShouldRunNext != nil {
		w.EqBool("should_run_next", *f.ShouldRunNext)
	}
	return w
}

const scheduleSelectColumns = `id, name, cron, priority, running, should_run_next,
		tasks, last_run, last_modified, created_at, worker_id`

// Store handles persistence of schedules
type Store struct {
	db *sql.DB
}

// NewStore creates a new schedule store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func scanSchedule(row interface{ Scan(...interface{}) error }) (*Schedule, error) {
	var s Schedule
	var lastRun sql.NullTime
	err := row.Scan(
		&s.ID, &s.Name, &s.Cron, &s.Priority, &s.Running, &s.ShouldRunNext,
		&s.Tasks, &lastRun, &s.LastModified, &s.CreatedAt, &s.WorkerID,
	)
	if err != nil {
		return nil, err
	}
	if lastRun.Valid {
		t := lastRun.Time
		s.LastRun = &t
	}
	return &s, nil
}

// Create inserts a schedule
func (s *Store) Create(ctx context.Context, req CreateRequest, now time.Time) (*Schedule, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	tasks := req.Tasks
	if tasks == "" {
		tasks = "[]"
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO schedules (
			name, cron, priority, running, should_run_next,
			tasks, last_modified, created_at, worker_id
		) VALUES (?, ?, ?, 0, ?, ?, ?, ?, ?)`,
		req.Name, req.Cron, req.Priority, !req.Paused, tasks, now, now, req.WorkerID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create schedule")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read schedule id")
	}
	return s.Get(ctx, id)
}

// Get retrieves a schedule by id
func (s *Store) Get(ctx context.Context, id int64) (*Schedule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduleSelectColumns+` FROM schedules WHERE id = ?`, id)
	sched, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("schedule %d", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get schedule %d", id)
	}
	return sched, nil
}

// Name returns a schedule's name
func (s *Store) Name(ctx context.Context, id int64) (string, error) {
	sched, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return sched.Name, nil
}

// Select returns schedules matching filter ordered by id
func (s *Store) Select(ctx context.Context, filter Filter) ([]*Schedule, error) {
	clause, args := filter.where().Build()
	rows, err := s.db.QueryContext(ctx, `SELECT `+scheduleSelectColumns+` FROM schedules`+clause+` ORDER BY id`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to select schedules")
	}
	defer rows.Close()

	var schedules []*Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan schedule")
		}
		schedules = append(schedules, sched)
	}
	return schedules, rows.Err()
}

// Update applies req and bumps last_modified
func (s *Store) Update(ctx context.Context, id int64, req UpdateRequest, now time.Time) (*Schedule, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	set := []string{"last_modified = ?"}
	args := []interface{}{now}
	if req.Name != nil {
		set = append(set, "name = ?")
		args = append(args, *req.Name)
	}
	if req.Cron != nil {
		set = append(set, "cron = ?")
		args = append(args, *req.Cron)
	}
	if req.Priority != nil {
		set = append(set, "priority = ?")
		args = append(args, *req.Priority)
	}
	if req.Tasks != nil {
		set = append(set, "tasks = ?")
		args = append(args, *req.Tasks)
	}
	if req.ShouldRunNext != nil {
		set = append(set, "should_run_next = ?")
		args = append(args, *req.ShouldRunNext)
	}
	if req.WorkerID != nil {
		set = append(set, "worker_id = ?")
		args = append(args, *req.WorkerID)
	}

	query := `UPDATE schedules SET ` + strings.Join(set, ", ") + ` WHERE id = ?`
	args = append(args, id)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to update schedule %d", id)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, errors.NewNotFoundError("schedule %d", id)
	}
	return s.Get(ctx, id)
}

// Claim sets running and last_run if the schedule is idle and enabled.
// Exactly one concurrent caller gets true.
func (s *Store) Claim(ctx context.Context, id int64, now time.Time) (bool, error) {
	return s.claim(ctx, `UPDATE schedules SET running = 1, last_run = ?
		WHERE id = ? AND running = 0 AND should_run_next = 1`, id, now)
}

// ClaimRunNow is Claim without the should_run_next condition, for operator
// triggered runs of paused schedules.
func (s *Store) ClaimRunNow(ctx context.Context, id int64, now time.Time) (bool, error) {
	return s.claim(ctx, `UPDATE schedules SET running = 1, last_run = ?
		WHERE id = ? AND running = 0`, id, now)
}

func (s *Store) claim(ctx context.Context, query string, id int64, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, query, now, id)
	if err != nil {
		return false, errors.Wrapf(err, "failed to claim schedule %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read affected rows")
	}
	return n == 1, nil
}

// Release clears running. Returns false if it was not set.
func (s *Store) Release(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE schedules SET running = 0 WHERE id = ? AND running = 1`, id)
	if err != nil {
		return false, errors.Wrapf(err, "failed to release schedule %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read affected rows")
	}
	return n == 1, nil
}

// Delete removes idle schedules matching filter
func (s *Store) Delete(ctx context.Context, filter Filter) (int64, error) {
	clause, args := filter.where().EqBool("running", false).Build()
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules`+clause, args...)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete schedules")
	}
	return res.RowsAffected()
}
