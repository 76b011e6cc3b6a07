package client

import (
	"database/sql"
	"embed"

	"github.com/aeolun/chirp/pkg/database/migrate"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// runMigrations brings the client state schema up to date. State is cheap to
// rebuild, so there is no backup step.
func runMigrations(db *sql.DB, logger zerolog.Logger) error {
	_, err := migrate.Run(db, migrationFiles, "migrations", migrate.Options{
		Logger: logger.With().Str("db", "state").Logger(),
	})
	return err
}
