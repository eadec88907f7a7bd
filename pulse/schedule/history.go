package schedule

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/teranos/etlpulse/db"
	"github.com/teranos/etlpulse/errors"
)

// MaxLinesSaved bounds the number of meta lines kept per schedule
const MaxLinesSaved = 30

const historyTimeFormat = "2006-01-02T15:04:05.000Z"

// HistoryStatus is the outcome of a schedule's latest run
type HistoryStatus string

const (
	HistorySuccess HistoryStatus = "Success"
	HistoryFailure HistoryStatus = "Failure"
)

// HistoryEntry is the run summary of one schedule
type HistoryEntry struct {
	ID           int64         `json:"id"`
	ScheduleID   int64         `json:"schedule_id"`
	LastRun      *time.Time    `json:"last_run,omitempty"`
	LastSuccess  *time.Time    `json:"last_success,omitempty"`
	LastFailure  *time.Time    `json:"last_failure,omitempty"`
	NumberOfRuns int64         `json:"number_of_runs"`
	Status       HistoryStatus `json:"status"`
	Meta         string        `json:"meta"`
}

// MetaLines returns the meta text split into lines, oldest first
func (e *HistoryEntry) MetaLines() []string {
	if e.Meta == "" {
		return nil
	}
	return strings.Split(e.Meta, "\n")
}

// HistoryFilter selects history entries
type HistoryFilter struct {
	ScheduleIDs []int64
	Status      HistoryStatus
}

func (f HistoryFilter) where() *db.Where {
	w := db.NewWhere()
	if f.ScheduleIDs != nil {
		ids := make([]interface{}, len(f.ScheduleIDs))
		for i, id := range f.ScheduleIDs {
			ids[i] = id
		}
		w.In("schedule_id", ids...)
	}
	if f.Status != "" {
		w.Eq("status", string(f.Status))
	}
	return w
}

const historySelectColumns = `id, schedule_id, last_run, last_success, last_failure,
		number_of_runs, status, meta`

// History records per-schedule run counts, outcomes and a bounded meta log
type History struct {
	db  *sql.DB
	now func() time.Time
}

// NewHistory creates a history store
func NewHistory(db *sql.DB) *History {
	return &History{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func scanHistory(row interface{ Scan(...interface{}) error }) (*HistoryEntry, error) {
	var e HistoryEntry
	var lastRun, lastSuccess, lastFailure sql.NullTime
	var status string
	if err := row.Scan(&e.ID, &e.ScheduleID, &lastRun, &lastSuccess, &lastFailure,
		&e.NumberOfRuns, &status, &e.Meta); err != nil {
		return nil, err
	}
	e.Status = HistoryStatus(status)
	e.LastRun = nullTimePtr(lastRun)
	e.LastSuccess = nullTimePtr(lastSuccess)
	e.LastFailure = nullTimePtr(lastFailure)
	return &e, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// UpsertStatusSchedule records one finished run of scheduleID.
//
// It fails with ErrIntegrity when more than one entry exists for the
// schedule, ErrAlreadyExists when a concurrent writer inserted the first
// entry, and ErrStaleRecord when the entry vanished between read and write.
// Nothing is written in any of those cases.
func (h *History) UpsertStatusSchedule(ctx context.Context, scheduleID int64, success bool, meta string) (*HistoryEntry, error) {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin history transaction")
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT `+historySelectColumns+` FROM scheduler_logs WHERE schedule_id = ?`, scheduleID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read history of schedule %d", scheduleID)
	}
	var existing []*HistoryEntry
	for rows.Next() {
		e, err := scanHistory(rows)
		if err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "failed to scan history")
		}
		existing = append(existing, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, errors.Wrap(err, "failed to read history rows")
	}
	rows.Close()

	if len(existing) > 1 {
		return nil, errors.WithDetail(
			errors.Wrapf(errors.ErrIntegrity, "schedule %d has %d history entries", scheduleID, len(existing)),
			"scheduler_logs.schedule_id must be unique")
	}

	entry := &HistoryEntry{ScheduleID: scheduleID}
	if len(existing) == 1 {
		entry = existing[0]
	}

	now := h.now()
	entry.LastRun = &now
	entry.NumberOfRuns++
	if meta != "" {
		entry.Meta = appendMeta(entry.Meta, meta, now)
	}
	if success {
		entry.LastSuccess = &now
		entry.Status = HistorySuccess
	} else {
		entry.LastFailure = &now
		entry.Status = HistoryFailure
	}

	if entry.ID == 0 {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO scheduler_logs (
				schedule_id, last_run, last_success, last_failure,
				number_of_runs, status, meta
			) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			scheduleID, nullTime(entry.LastRun), nullTime(entry.LastSuccess), nullTime(entry.LastFailure),
			entry.NumberOfRuns, string(entry.Status), entry.Meta)
		if err != nil {
			if db.IsUniqueViolation(err) {
				return nil, errors.Wrapf(errors.ErrAlreadyExists, "history of schedule %d", scheduleID)
			}
			return nil, errors.Wrapf(err, "failed to insert history of schedule %d", scheduleID)
		}
		if entry.ID, err = res.LastInsertId(); err != nil {
			return nil, errors.Wrap(err, "failed to read history id")
		}
	} else {
		res, err := tx.ExecContext(ctx, `
			UPDATE scheduler_logs SET
				last_run = ?, last_success = ?, last_failure = ?,
				number_of_runs = ?, status = ?, meta = ?
			WHERE id = ? AND schedule_id = ?`,
			nullTime(entry.LastRun), nullTime(entry.LastSuccess), nullTime(entry.LastFailure),
			entry.NumberOfRuns, string(entry.Status), entry.Meta,
			entry.ID, scheduleID)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to update history of schedule %d", scheduleID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, errors.Wrap(err, "failed to read affected rows")
		}
		if n == 0 {
			return nil, errors.Wrapf(errors.ErrStaleRecord, "history %d of schedule %d", entry.ID, scheduleID)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit history")
	}
	return entry, nil
}

// appendMeta keeps the newest MaxLinesSaved-1 existing lines and appends a
// timestamped line for meta.
func appendMeta(existing, meta string, now time.Time) string {
	var lines []string
	if existing != "" {
		lines = strings.Split(existing, "\n")
	}
	if len(lines) > MaxLinesSaved-1 {
		lines = lines[len(lines)-(MaxLinesSaved-1):]
	}
	lines = append(lines, fmt.Sprintf("[%s]: %s", now.UTC().Format(historyTimeFormat), meta))
	return strings.Join(lines, "\n")
}

// Get retrieves a history entry by its id
func (h *History) Get(ctx context.Context, id int64) (*HistoryEntry, error) {
	row := h.db.QueryRowContext(ctx, `SELECT `+historySelectColumns+` FROM scheduler_logs WHERE id = ?`, id)
	e, err := scanHistory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("history %d", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get history %d", id)
	}
	return e, nil
}

// GetByScheduleID retrieves the history entry of a schedule
func (h *History) GetByScheduleID(ctx context.Context, scheduleID int64) (*HistoryEntry, error) {
	row := h.db.QueryRowContext(ctx, `SELECT `+historySelectColumns+` FROM scheduler_logs WHERE schedule_id = ?`, scheduleID)
	e, err := scanHistory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("history of schedule %d", scheduleID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get history of schedule %d", scheduleID)
	}
	return e, nil
}

// Select returns history entries matching filter ordered by schedule id
func (h *History) Select(ctx context.Context, filter HistoryFilter) ([]*HistoryEntry, error) {
	clause, args := filter.where().Build()
	rows, err := h.db.QueryContext(ctx, `SELECT `+historySelectColumns+` FROM scheduler_logs`+clause+` ORDER BY schedule_id`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to select history")
	}
	defer rows.Close()

	var entries []*HistoryEntry
	for rows.Next() {
		e, err := scanHistory(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan history")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
