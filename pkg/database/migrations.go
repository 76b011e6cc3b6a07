package database

import (
	"database/sql"
	"embed"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/aeolun/chirp/pkg/database/migrate"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// backupDatabase copies the database file before migrations touch it
func backupDatabase(dbPath string, currentVersion int, logger zerolog.Logger) error {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil
	}

	backupPath := fmt.Sprintf("%s.backup-v%d-%s", dbPath, currentVersion, time.Now().Format("20060102-150405"))

	src, err := os.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database for backup: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(backupPath)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to copy database: %w", err)
	}

	logger.Info().Str("backup", filepath.Base(backupPath)).Msg("created database backup")
	return nil
}

// runMigrations brings the journal schema up to date. An existing database
// is backed up first; a brand-new file has nothing to save.
func runMigrations(db *sql.DB, dbPath string, logger zerolog.Logger) error {
	_, err := migrate.Run(db, migrationFiles, "migrations", migrate.Options{
		Logger: logger,
		BeforeApply: func(currentVersion int, existing bool) error {
			if currentVersion == 0 && !existing {
				return nil
			}
			if err := backupDatabase(dbPath, currentVersion, logger); err != nil {
				return fmt.Errorf("failed to backup database: %w", err)
			}
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("%w\nRestore from backup if needed", err)
	}
	return nil
}
