package migrate

import (
	"bytes"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"m/002_add_index.sql": {Data: []byte("CREATE INDEX idx_item_name ON Item(name);")},
		"m/001_initial.sql":   {Data: []byte("CREATE TABLE Item (id INTEGER PRIMARY KEY, name TEXT);")},
		"m/README.md":         {Data: []byte("not a migration")},
		"m/notes.sql":         {Data: []byte("SELECT 1;")},
	}
}

func TestLoadSortsAndSkips(t *testing.T) {
	migrations, err := Load(testFS(), "m")
	require.NoError(t, err)
	require.Len(t, migrations, 2)

	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "initial", migrations[0].Name)
	assert.Equal(t, 2, migrations[1].Version)
	assert.Equal(t, "add_index", migrations[1].Name)
	assert.Contains(t, migrations[1].SQL, "CREATE INDEX")
}

func TestLoadRejectsDuplicateVersions(t *testing.T) {
	fsys := testFS()
	fsys["m/002_other.sql"] = &fstest.MapFile{Data: []byte("SELECT 1;")}

	_, err := Load(fsys, "m")
	assert.ErrorContains(t, err, "share version 2")
}

func TestLoadMissingDirectory(t *testing.T) {
	_, err := Load(fstest.MapFS{}, "missing")
	assert.Error(t, err)
}

func TestRunAppliesPendingOnce(t *testing.T) {
	db := openDB(t)
	var logs bytes.Buffer
	opts := Options{Logger: zerolog.New(&logs)}

	applied, err := Run(db, testFS(), "m", opts)
	require.NoError(t, err)
	assert.Equal(t, 2, applied)
	assert.Contains(t, logs.String(), `"message":"applied migration"`)

	version, err := CurrentVersion(db)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	applied, err = Run(db, testFS(), "m", opts)
	require.NoError(t, err)
	assert.Equal(t, 0, applied)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 2, count)
}

func TestRunCallsBeforeApply(t *testing.T) {
	db := openDB(t)

	type call struct {
		version  int
		existing bool
	}
	var calls []call
	opts := Options{
		Logger: zerolog.Nop(),
		BeforeApply: func(v int, existing bool) error {
			calls = append(calls, call{v, existing})
			return nil
		},
	}

	fsys := testFS()
	delete(fsys, "m/002_add_index.sql")
	_, err := Run(db, fsys, "m", opts)
	require.NoError(t, err)

	_, err = Run(db, testFS(), "m", opts)
	require.NoError(t, err)

	// Nothing pending: no call
	_, err = Run(db, testFS(), "m", opts)
	require.NoError(t, err)

	assert.Equal(t, []call{{0, false}, {1, true}}, calls)
}

func TestRunStopsWhenBeforeApplyFails(t *testing.T) {
	db := openDB(t)

	_, err := Run(db, testFS(), "m", Options{
		Logger:      zerolog.Nop(),
		BeforeApply: func(int, bool) error { return errors.New("no space for backup") },
	})
	assert.ErrorContains(t, err, "no space for backup")

	version, err := CurrentVersion(db)
	require.NoError(t, err)
	assert.Equal(t, 0, version)
}

func TestRunRollsBackFailedMigration(t *testing.T) {
	db := openDB(t)
	fsys := testFS()
	fsys["m/003_broken.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE Other (id INTEGER); NOT SQL;")}

	applied, err := Run(db, fsys, "m", Options{Logger: zerolog.Nop()})
	assert.ErrorContains(t, err, "failed to apply migration 3 (broken)")
	assert.Equal(t, 2, applied)

	version, err := CurrentVersion(db)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE name = 'Other'").Scan(&count))
	assert.Equal(t, 0, count)
}
