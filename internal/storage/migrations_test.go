package storage

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrationRunner_FreshDB(t *testing.T) {
	db := openTestDB(t)
	runner := NewMigrationRunner(db).WithJournalMode("memory")

	err := runner.Run()
	require.NoError(t, err)

	expectedTables := append([]string{"schema_migrations"}, Tables...)
	for _, table := range expectedTables {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}
}

func TestMigrationRunner_IndexesCreated(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, NewMigrationRunner(db).WithJournalMode("memory").Run())

	expectedIndexes := []string{
		"idx_feature_adoption_week",
		"idx_feature_adoption_name",
		"idx_cohort_retention_week",
		"idx_user_segments_week",
		"idx_user_segments_type",
		"idx_change_log_created",
		"idx_change_log_record",
	}
	for _, idx := range expectedIndexes {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='index' AND name=?", idx,
		).Scan(&name)
		require.NoError(t, err, "index %s should exist", idx)
	}
}

func TestMigrationRunner_Idempotent(t *testing.T) {
	db := openTestDB(t)
	runner := NewMigrationRunner(db).WithJournalMode("memory")

	require.NoError(t, runner.Run())
	require.NoError(t, runner.Run())

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 2, count)

	var defs int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM metric_definitions").Scan(&defs))
	assert.Equal(t, 15, defs, "seed must not duplicate on rerun")
}

func TestMigrationRunner_Version(t *testing.T) {
	db := openTestDB(t)
	runner := NewMigrationRunner(db).WithJournalMode("memory")
	require.NoError(t, runner.Run())

	v, err := runner.Version()
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestMigrationRunner_RejectsUnknownJournalMode(t *testing.T) {
	db := openTestDB(t)
	err := NewMigrationRunner(db).WithJournalMode("bogus; DROP TABLE x").Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported journal mode")
}

func TestMigrationRunner_ChangeLogIsAppendOnly(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, NewMigrationRunner(db).WithJournalMode("memory").Run())

	_, err := db.Exec(`INSERT INTO change_log (id, actor_name, change_description, affected_table, affected_record_id, created_at)
		VALUES ('c1', 'Unknown', 'x', 'weekly_logs', 'r1', '2024-01-01T00:00:00.000000000Z')`)
	require.NoError(t, err)

	_, err = db.Exec(`UPDATE change_log SET actor_name = 'someone' WHERE id = 'c1'`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")

	_, err = db.Exec(`DELETE FROM change_log WHERE id = 'c1'`)
	require.Error(t, err)
}

func TestMigrationRunner_WeekEndingUnique(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, NewMigrationRunner(db).WithJournalMode("memory").Run())

	insert := `INSERT INTO weekly_logs (id, week_ending, created_at) VALUES (?, '2024-01-07', '2024-01-07T00:00:00.000000000Z')`
	_, err := db.Exec(insert, "a")
	require.NoError(t, err)
	_, err = db.Exec(insert, "b")
	require.Error(t, err)
}

func TestMigrationRunner_FailedMigrationRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("PRAGMA journal_mode = WAL").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("PRAGMA foreign_keys = ON").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM schema_migrations WHERE version = \\?").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS weekly_logs").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	err = NewMigrationRunner(db).Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apply migration 1 (engagement_schema)")
	assert.NoError(t, mock.ExpectationsWereMet())
}
