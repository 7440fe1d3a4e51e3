package cli

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"os"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/vitals/internal/audit"
	"github.com/runnerr0/vitals/internal/config"
	"github.com/runnerr0/vitals/internal/logger"
	"github.com/runnerr0/vitals/internal/storage"
)

// captureOutput captures stdout during fn execution and returns it as a string.
func captureOutput(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

// newTestRuntime wires a runtime over an in-memory database with default
// config, acting as "tester".
func newTestRuntime(t *testing.T) *runtime {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, storage.NewMigrationRunner(db).WithJournalMode("memory").Run())
	store, err := storage.NewSQLiteStore(db)
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Export.Dir = t.TempDir()

	rt, err := newRuntime(cfg, store, logger.Nop(), "tester")
	require.NoError(t, err)
	rt.db = db
	return rt
}

// weekInput is a weekly log scoring 87 at DAU 150 and 67 at DAU 75.
func weekInput(week string, dau int) audit.WeeklyLogInput {
	return audit.WeeklyLogInput{
		WeekEnding:              storage.MustParseDate(week),
		DAU:                     dau,
		WAU:                     400,
		MAU:                     1000,
		AvgSessionLengthMinutes: 15,
		FeatureAdoption:         60,
		RetentionRate:           75,
		ChurnRate:               5,
		MobilePercentage:        70,
		DesktopPercentage:       30,
	}
}

func seedWeek(t *testing.T, rt *runtime, week string, dau int) *storage.WeeklyLog {
	t.Helper()
	row, err := rt.coord.AddWeeklyLog(context.Background(), weekInput(week, dau))
	require.NoError(t, err)
	return row
}
