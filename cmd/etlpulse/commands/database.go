package commands

import (
	"database/sql"

	"github.com/spf13/cobra"

	"github.com/teranos/etlpulse/am"
	"github.com/teranos/etlpulse/db"
	"github.com/teranos/etlpulse/errors"
	"github.com/teranos/etlpulse/logger"
)

// loadConfig loads and validates the configuration
func loadConfig() (*am.Config, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// openDatabase opens and migrates the database named by --db, falling back
// to database.path from the configuration.
func openDatabase(cmd *cobra.Command, cfg *am.Config) (*sql.DB, error) {
	dbPath, _ := cmd.Flags().GetString("db")
	if dbPath == "" {
		dbPath = cfg.GetDatabasePath()
	}

	database, err := db.OpenAndMigrate(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}
	return database, nil
}
