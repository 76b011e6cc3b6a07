// Package migrate applies numbered SQL migrations ("001_initial.sql") to a
// SQLite database, tracking applied versions in schema_migrations.
package migrate

import (
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Migration is one numbered SQL file
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Options tune Run
type Options struct {
	Logger zerolog.Logger

	// BeforeApply runs once before any pending migration is applied.
	// existing reports whether the database already holds tables of its own.
	BeforeApply func(currentVersion int, existing bool) error
}

// Init ensures the schema_migrations table exists
func Init(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at INTEGER NOT NULL
		)
	`)
	return err
}

// CurrentVersion returns the highest applied version, 0 for none
func CurrentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

// Load reads every "<version>_<name>.sql" file in dir, sorted by version.
// Files without a numeric prefix are skipped.
func Load(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []Migration
	seen := make(map[int]string)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		_, rest, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		if other, dup := seen[version]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %d", other, name, version)
		}
		seen[version] = name

		content, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", name, err)
		}

		migrations = append(migrations, Migration{
			Version: version,
			Name:    strings.TrimSuffix(rest, ".sql"),
			SQL:     string(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// Apply runs one migration and records it in a single transaction
func Apply(db *sql.DB, m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.SQL); err != nil {
		return fmt.Errorf("migration SQL failed: %w", err)
	}

	_, err = tx.Exec(
		"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
		m.Version, m.Name, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}

// Run applies every migration in dir newer than the database's version and
// returns how many were applied
func Run(db *sql.DB, fsys fs.FS, dir string, opts Options) (int, error) {
	logger := opts.Logger

	if err := Init(db); err != nil {
		return 0, fmt.Errorf("failed to initialize migrations table: %w", err)
	}

	currentVersion, err := CurrentVersion(db)
	if err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}

	migrations, err := Load(fsys, dir)
	if err != nil {
		return 0, fmt.Errorf("failed to load migrations: %w", err)
	}

	var pending []Migration
	for _, m := range migrations {
		if m.Version > currentVersion {
			pending = append(pending, m)
		}
	}
	if len(pending) == 0 {
		logger.Debug().Int("version", currentVersion).Msg("database is up to date")
		return 0, nil
	}

	if opts.BeforeApply != nil {
		existing, err := hasUserTables(db)
		if err != nil {
			return 0, fmt.Errorf("failed to inspect database: %w", err)
		}
		if err := opts.BeforeApply(currentVersion, existing); err != nil {
			return 0, err
		}
	}

	logger.Info().
		Int("pending", len(pending)).
		Int("from", currentVersion).
		Int("to", pending[len(pending)-1].Version).
		Msg("running migrations")

	for i, m := range pending {
		if err := Apply(db, m); err != nil {
			return i, fmt.Errorf("failed to apply migration %d (%s): %w", m.Version, m.Name, err)
		}
		logger.Info().Int("version", m.Version).Str("name", m.Name).Msg("applied migration")
	}
	return len(pending), nil
}

// hasUserTables reports whether any table besides the bookkeeping ones exists
func hasUserTables(db *sql.DB) (bool, error) {
	var count int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM sqlite_master
		WHERE type = 'table' AND name NOT IN ('schema_migrations', 'sqlite_sequence')
	`).Scan(&count)
	return count > 0, err
}
