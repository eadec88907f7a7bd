package testing

import (
	"database/sql"
	"testing"

	"github.com/teranos/etlpulse/db"
)

// CreateTestDB creates a migrated in-memory SQLite database.
// Automatically registers cleanup via t.Cleanup().
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	testDB, err := db.OpenAndMigrate(":memory:", nil)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		testDB.Close()
	})

	return testDB
}
