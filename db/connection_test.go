package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestOpen_FileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pulse.db")

	db, err := Open(path, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer db.Close()

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var foreignKeys int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
	assert.Equal(t, 1, foreignKeys)

	var busyTimeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, 5000, busyTimeout)
}

func TestOpenAndMigrate(t *testing.T) {
	db, err := OpenAndMigrate(":memory:", nil)
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"schedules", "jobs", "job_logs", "scheduler_logs", "integrations"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name = ?", table).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db, err := Open(":memory:", nil)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Migrate(db, nil))
	require.NoError(t, Migrate(db, zaptest.NewLogger(t).Sugar()))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 6, count)
}

func TestIsUniqueViolation(t *testing.T) {
	db, err := OpenAndMigrate(":memory:", nil)
	require.NoError(t, err)
	defer db.Close()

	insert := "INSERT INTO job_logs (id, created_at, updated_at) VALUES (1, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)"
	_, err = db.Exec(insert)
	require.NoError(t, err)

	_, err = db.Exec(insert)
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
	assert.False(t, IsUniqueViolation(nil))
}

func TestIsDatabaseClosed(t *testing.T) {
	db, err := Open(":memory:", nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = db.Exec("SELECT 1")
	assert.True(t, IsDatabaseClosed(err))
	assert.True(t, IsDatabaseClosed(ErrDatabaseClosed))
	assert.False(t, IsDatabaseClosed(nil))
}
