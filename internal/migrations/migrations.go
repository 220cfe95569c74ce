package migrations

import (
	"database/sql"
	_ "embed"

	"github.com/keeperlabs/depositwatch/internal/db"
	"github.com/keeperlabs/depositwatch/internal/logger"
)

//go:embed 001_transactions.sql
var mig001 string

//go:embed 002_kv_store.sql
var mig002 string

func all() []db.Migration {
	return []db.Migration{
		{
			ID:  "001_transactions.sql",
			SQL: mig001,
		},
		{
			ID:  "002_kv_store.sql",
			SQL: mig002,
		},
	}
}

// RunMigrations applies all pending schema migrations to the database at dbPath.
func RunMigrations(dbPath string) error {
	return db.RunMigrations(dbPath, all())
}

// RunMigrationsDB applies all pending schema migrations on an open database.
func RunMigrationsDB(log *logger.Logger, database *sql.DB) error {
	return db.RunMigrationsDB(log, database, all())
}
