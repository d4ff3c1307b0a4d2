package state

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// forEachDriver runs fn against a migrated database for every driver.
// The cgo driver is skipped when the test binary was built without cgo.
func forEachDriver(t *testing.T, fn func(t *testing.T, db *DB)) {
	t.Helper()
	for _, driver := range []string{DriverModernc, DriverCGO} {
		t.Run(driver, func(t *testing.T) {
			db, err := Open(driver, filepath.Join(t.TempDir(), "test.db"))
			if err != nil && strings.Contains(err.Error(), "CGO_ENABLED=0") {
				t.Skip("cgo driver unavailable")
			}
			require.NoError(t, err)
			t.Cleanup(func() { db.Close() })
			require.NoError(t, db.Migrate())
			fn(t, db)
		})
	}
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "test.db")
	db, err := Open("", path)
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, path, db.Path())
	assert.Equal(t, DriverModernc, db.Driver())
	_, err = os.Stat(filepath.Dir(path))
	assert.NoError(t, err, "parent directories should be created")
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("postgres", filepath.Join(t.TempDir(), "test.db"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported sqlite driver")
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open(DriverModernc, "/proc/nonexistent/test.db")
	assert.Error(t, err)
}

func TestClose(t *testing.T) {
	db, err := Open(DriverModernc, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = db.Query("SELECT 1")
	assert.Error(t, err, "queries after close should fail")
}

func TestMigrate(t *testing.T) {
	forEachDriver(t, func(t *testing.T, db *DB) {
		for _, table := range []string{"schema_version", "sessions", "teammates"} {
			var count int
			require.NoError(t, db.QueryRow(
				"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count))
			assert.Equal(t, 1, count, "table %s", table)
		}
	})
}

func TestMigrate_Idempotent(t *testing.T) {
	forEachDriver(t, func(t *testing.T, db *DB) {
		for i := 0; i < 3; i++ {
			require.NoError(t, db.Migrate())
		}
		v, err := db.SchemaVersion()
		require.NoError(t, err)
		assert.Equal(t, 2, v)
	})
}

func TestTransaction_Rollback(t *testing.T) {
	forEachDriver(t, func(t *testing.T, db *DB) {
		rec := sampleRecord("s1")
		err := db.Transaction(func(tx *sql.Tx) error {
			if _, err := tx.Exec(`INSERT INTO sessions (id, status, config, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?)`, rec.Session.ID, "running", "{}",
				formatTime(rec.Session.CreatedAt), formatTime(rec.Session.UpdatedAt)); err != nil {
				return err
			}
			return errors.New("simulated error")
		})
		require.Error(t, err)

		var count int
		require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM sessions").Scan(&count))
		assert.Zero(t, count, "transaction should have rolled back")
	})
}

func TestFormatAndParseTime(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 891, time.FixedZone("x", 3600))
	parsed := parseTime(formatTime(now))
	assert.True(t, now.Equal(parsed), "got %v want %v", parsed, now)
	assert.True(t, parseTime("not a time").IsZero())
}
