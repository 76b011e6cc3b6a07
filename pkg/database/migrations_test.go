package database

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aeolun/chirp/pkg/database/migrate"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

func TestMigrations(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(dbPath, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	// Check that schema_migrations table exists
	var tableName string
	err = db.conn.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='schema_migrations'").Scan(&tableName)
	if err != nil {
		t.Fatalf("schema_migrations table not found: %v", err)
	}

	// Check that migration 001 was applied
	var version int
	var name string
	err = db.conn.QueryRow("SELECT version, name FROM schema_migrations WHERE version=1").Scan(&version, &name)
	if err != nil {
		t.Fatalf("Migration 001 not found: %v", err)
	}
	if name != "initial" {
		t.Errorf("Expected name 'initial', got '%s'", name)
	}

	var count int
	err = db.conn.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='SessionEvent'").Scan(&count)
	if err != nil {
		t.Fatalf("Failed to check for SessionEvent: %v", err)
	}
	if count != 1 {
		t.Error("SessionEvent table not found")
	}
}

func TestMigrationBackup(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	// Create a database without the migration system (simulate an old version)
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	if _, err := conn.Exec("CREATE TABLE test_table (id INTEGER PRIMARY KEY)"); err != nil {
		t.Fatalf("Failed to create test table: %v", err)
	}
	conn.Close()

	db, err := Open(dbPath, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if !hasBackup(t, tmpDir) {
		t.Error("Backup file not created for an existing database")
	}
}

func TestNoBackupForNewDatabase(t *testing.T) {
	tmpDir := t.TempDir()

	db, err := Open(filepath.Join(tmpDir, "test.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if hasBackup(t, tmpDir) {
		t.Error("A fresh database should not be backed up")
	}
}

func hasBackup(t *testing.T, dir string) bool {
	t.Helper()
	files, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("Failed to read temp directory: %v", err)
	}
	for _, file := range files {
		// Backups are named like: test.db.backup-v0-<timestamp>
		if strings.HasPrefix(file.Name(), "test.db.backup") {
			return true
		}
	}
	return false
}

func TestMigrationIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db1, err := Open(dbPath, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to open database first time: %v", err)
	}
	var count1 int
	if err := db1.conn.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count1); err != nil {
		t.Fatalf("Failed to count migrations: %v", err)
	}
	db1.Close()

	db2, err := Open(dbPath, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to open database second time: %v", err)
	}
	defer db2.Close()

	var count2 int
	if err := db2.conn.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count2); err != nil {
		t.Fatalf("Failed to count migrations second time: %v", err)
	}

	// Should be the same (migrations should not re-run)
	if count1 != count2 {
		t.Errorf("Migration count changed: %d -> %d (migrations re-ran)", count1, count2)
	}
}

func TestLoadMigrations(t *testing.T) {
	migrations, err := migrate.Load(migrationFiles, "migrations")
	if err != nil {
		t.Fatalf("Failed to load migrations: %v", err)
	}

	if len(migrations) < 2 {
		t.Fatalf("Expected at least 2 migrations, got %d", len(migrations))
	}

	// Check that migrations are sorted by version
	for i := 0; i < len(migrations)-1; i++ {
		if migrations[i].Version >= migrations[i+1].Version {
			t.Errorf("Migrations not sorted: %d >= %d", migrations[i].Version, migrations[i+1].Version)
		}
	}

	if migrations[0].Version != 1 || migrations[0].Name != "initial" || migrations[0].SQL == "" {
		t.Errorf("Unexpected first migration: %+v", migrations[0])
	}
}
