package maintenance

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

// writeMinimalSQLite creates a tiny, well-formed SQLite file at path so
// PRAGMA integrity_check has something real to run against.
func writeMinimalSQLite(t *testing.T, path string) {
	t.Helper()
	conn, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Exec("CREATE TABLE probe (id INTEGER PRIMARY KEY, value TEXT)")
	require.NoError(t, err)
	_, err = conn.Exec("INSERT INTO probe (value) VALUES ('ok')")
	require.NoError(t, err)
}

func TestVerifyLatestBackupPicksMostRecentFile(t *testing.T) {
	dir := t.TempDir()

	older := filepath.Join(dir, "arena-20240101.db")
	newer := filepath.Join(dir, "arena-20240102.db")
	writeMinimalSQLite(t, older)
	writeMinimalSQLite(t, newer)

	now := time.Now()
	require.NoError(t, os.Chtimes(older, now.Add(-time.Hour), now.Add(-time.Hour)))
	require.NoError(t, os.Chtimes(newer, now, now))

	job := &DailyJob{backupDir: dir, log: testLogger()}
	require.NoError(t, job.verifyLatestBackup())
}

func TestVerifyLatestBackupReturnsNilWhenDirMissing(t *testing.T) {
	job := &DailyJob{backupDir: filepath.Join(t.TempDir(), "missing"), log: testLogger()}
	assert.NoError(t, job.verifyLatestBackup())
}

func TestQuickIntegrityCheckReportsOKForFreshDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh.db")
	writeMinimalSQLite(t, path)

	result, err := quickIntegrityCheck(path)
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}
