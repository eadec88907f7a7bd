package async

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/etlpulse/db"
	"github.com/teranos/etlpulse/errors"
)

// LogEntry is the persisted output of one job. ID equals the job id.
type LogEntry struct {
	ID        int64     `json:"id"`
	Contents  string    `json:"contents"`
	Captured  bool      `json:"captured"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LogFilter selects job log entries
type LogFilter struct {
	IDs      []int64
	Captured *bool
	Limit    int
}

func (f LogFilter) where() *db.Where {
	w := db.NewWhere()
	if f.IDs != nil {
		ids := make([]interface{}, len(f.IDs))
		for i, id := range f.IDs {
			ids[i] = id
		}
		w.In("id", ids...)
	}
	if f.Captured != nil {
		w.EqBool("captured", *f.Captured)
	}
	return w
}

const logSelectColumns = `id, contents, captured, created_at, updated_at`

// LogStore handles persistence of job logs
type LogStore struct {
	db *sql.DB
}

// NewLogStore creates a new job log store
func NewLogStore(db *sql.DB) *LogStore {
	return &LogStore{db: db}
}

// Claim marks the entry as captured, inserting it first when the job was
// admitted without one. Exactly one claim per id succeeds; later claims
// fail with ErrAlreadyExists.
func (s *LogStore) Claim(ctx context.Context, id int64, now time.Time) (*LogEntry, error) {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO job_logs (id, contents, captured, created_at, updated_at)
		VALUES (?, '', 0, ?, ?)
		ON CONFLICT(id) DO NOTHING`, id, now, now); err != nil {
		return nil, errors.Wrapf(err, "failed to create job log %d", id)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE job_logs SET captured = 1, updated_at = ?
		WHERE id = ? AND captured = 0`, now, id)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to claim job log %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read affected rows")
	}
	if n == 0 {
		return nil, errors.Wrapf(errors.ErrAlreadyExists, "job log %d", id)
	}

	return s.Get(ctx, id)
}

// SaveContents replaces the contents of an entry
func (s *LogStore) SaveContents(ctx context.Context, id int64, contents string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE job_logs SET contents = ?, updated_at = ? WHERE id = ?`, contents, now, id)
	if err != nil {
		return errors.Wrapf(err, "failed to save job log %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if n == 0 {
		return errors.NewNotFoundError("job log %d", id)
	}
	return nil
}

// SaveUncaptured writes contents only while no capture owns the entry.
// Returns false when the entry is captured or missing.
func (s *LogStore) SaveUncaptured(ctx context.Context, id int64, contents string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE job_logs SET contents = ?, updated_at = ? WHERE id = ? AND captured = 0`, contents, now, id)
	if err != nil {
		return false, errors.Wrapf(err, "failed to save job log %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read affected rows")
	}
	return n == 1, nil
}

// Get retrieves an entry by job id
func (s *LogStore) Get(ctx context.Context, id int64) (*LogEntry, error) {
	var entry LogEntry
	err := s.db.QueryRowContext(ctx, `SELECT `+logSelectColumns+` FROM job_logs WHERE id = ?`, id).
		Scan(&entry.ID, &entry.Contents, &entry.Captured, &entry.CreatedAt, &entry.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("job log %d", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get job log %d", id)
	}
	return &entry, nil
}

// Select returns entries matching filter, newest first
func (s *LogStore) Select(ctx context.Context, filter LogFilter) ([]*LogEntry, error) {
	clause, args := filter.where().Build()
	query := `SELECT ` + logSelectColumns + ` FROM job_logs` + clause + ` ORDER BY id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to select job logs")
	}
	defer rows.Close()

	var entries []*LogEntry
	for rows.Next() {
		var entry LogEntry
		if err := rows.Scan(&entry.ID, &entry.Contents, &entry.Captured, &entry.CreatedAt, &entry.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan job log")
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}
