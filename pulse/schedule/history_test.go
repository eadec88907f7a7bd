package schedule

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/etlpulse/errors"
	etltest "github.com/teranos/etlpulse/internal/testing"
)

func newTestHistory(t *testing.T) *History {
	h := NewHistory(etltest.CreateTestDB(t))
	clock := t0
	h.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return h
}

func TestHistory_FirstRunCreatesEntry(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	entry, err := h.UpsertStatusSchedule(ctx, 7, true, "job 1 SUCCESS")
	require.NoError(t, err)
	assert.NotZero(t, entry.ID)
	assert.Equal(t, int64(1), entry.NumberOfRuns)
	assert.Equal(t, HistorySuccess, entry.Status)
	require.NotNil(t, entry.LastSuccess)
	assert.Nil(t, entry.LastFailure)
	assert.Equal(t, "[2026-03-01T12:00:01.000Z]: job 1 SUCCESS", entry.Meta)

	got, err := h.GetByScheduleID(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, entry.ID, got.ID)
	assert.Equal(t, entry.Meta, got.Meta)

	byID, err := h.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), byID.ScheduleID)
}

func TestHistory_CountsRunsAndTracksOutcome(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	_, err := h.UpsertStatusSchedule(ctx, 1, true, "")
	require.NoError(t, err)
	entry, err := h.UpsertStatusSchedule(ctx, 1, false, "")
	require.NoError(t, err)

	assert.Equal(t, int64(2), entry.NumberOfRuns)
	assert.Equal(t, HistoryFailure, entry.Status)
	require.NotNil(t, entry.LastSuccess)
	require.NotNil(t, entry.LastFailure)
	assert.True(t, entry.LastFailure.After(*entry.LastSuccess))
	assert.Empty(t, entry.Meta, "no meta given, none recorded")

	all, err := h.Select(ctx, HistoryFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestHistory_MetaKeepsNewestLines(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	var entry *HistoryEntry
	var err error
	for i := 1; i <= MaxLinesSaved+5; i++ {
		entry, err = h.UpsertStatusSchedule(ctx, 3, true, fmt.Sprintf("run %d", i))
		require.NoError(t, err)
	}

	lines := entry.MetaLines()
	require.Len(t, lines, MaxLinesSaved)
	assert.Contains(t, lines[0], "]: run 6")
	assert.Contains(t, lines[MaxLinesSaved-1], fmt.Sprintf("]: run %d", MaxLinesSaved+5))

	pattern := regexp.MustCompile(`^\[\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z\]: run \d+$`)
	for i, line := range lines {
		assert.Regexp(t, pattern, line)
		if i > 0 {
			assert.Less(t, lines[i-1], line, "chronological")
		}
	}
	assert.Equal(t, int64(MaxLinesSaved+5), entry.NumberOfRuns)
}

func TestHistory_NotFound(t *testing.T) {
	h := newTestHistory(t)
	_, err := h.GetByScheduleID(context.Background(), 42)
	assert.True(t, errors.IsNotFoundError(err))
	_, err = h.Get(context.Background(), 42)
	assert.True(t, errors.IsNotFoundError(err))
}

var historyColumns = []string{"id", "schedule_id", "last_run", "last_success", "last_failure", "number_of_runs", "status", "meta"}

func newMockHistory(t *testing.T) (*History, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewHistory(db), mock
}

func TestHistory_DuplicateEntriesAreIntegrityErrors(t *testing.T) {
	h, mock := newMockHistory(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .* FROM scheduler_logs WHERE schedule_id = ?").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(historyColumns).
			AddRow(1, 5, nil, nil, nil, 1, "Success", "").
			AddRow(2, 5, nil, nil, nil, 1, "Success", ""))
	mock.ExpectRollback()

	_, err := h.UpsertStatusSchedule(context.Background(), 5, true, "x")
	assert.True(t, errors.Is(err, errors.ErrIntegrity))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistory_VanishedEntryIsStale(t *testing.T) {
	h, mock := newMockHistory(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .* FROM scheduler_logs WHERE schedule_id = ?").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(historyColumns).
			AddRow(1, 5, t0, t0, nil, 3, "Success", "[2026-03-01T12:00:00.000Z]: old"))
	mock.ExpectExec("UPDATE scheduler_logs SET").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := h.UpsertStatusSchedule(context.Background(), 5, false, "x")
	assert.True(t, errors.Is(err, errors.ErrStaleRecord))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistory_ConcurrentFirstInsertIsAlreadyExists(t *testing.T) {
	h, mock := newMockHistory(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .* FROM scheduler_logs WHERE schedule_id = ?").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(historyColumns))
	mock.ExpectExec("INSERT INTO scheduler_logs").
		WillReturnError(sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique})
	mock.ExpectRollback()

	_, err := h.UpsertStatusSchedule(context.Background(), 5, true, "")
	assert.True(t, errors.IsAlreadyExists(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
