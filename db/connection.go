package db

import (
	"database/sql"
	"net/url"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/teranos/etlpulse/errors"
	"github.com/teranos/etlpulse/sym"
)

// Open opens a SQLite database at the specified path.
// Pragmas are passed in the DSN so every pooled connection gets them.
// The pool is limited to one connection: SQLite has a single writer and the
// stores rely on conditional updates being serialised.
// If logger is provided, logs database operations; otherwise operates silently.
func Open(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	if logger != nil {
		logger.Debugw("Opening database", "path", path, "symbol", sym.DB)
	}

	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "failed to connect to database %s", path)
	}

	if logger != nil {
		logger.Infow("Database opened successfully",
			"path", path,
			"symbol", sym.DB,
			"wal_mode", path != ":memory:",
			"foreign_keys", true,
		)
	}

	return db, nil
}

// OpenAndMigrate opens the database and applies pending migrations
func OpenAndMigrate(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	db, err := Open(path, logger)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db, logger); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to migrate database")
	}
	return db, nil
}

func dsn(path string) string {
	params := url.Values{}
	params.Set("_foreign_keys", "on")
	params.Set("_busy_timeout", "5000")
	params.Set("_txlock", "immediate")
	if path != ":memory:" {
		params.Set("_journal_mode", "WAL")
	}
	return "file:" + path + "?" + params.Encode()
}
