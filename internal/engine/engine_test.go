package engine

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/runnerr0/vitals/internal/audit"
	"github.com/runnerr0/vitals/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func openTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, storage.NewMigrationRunner(db).WithJournalMode("memory").Run())
	store, err := storage.NewSQLiteStore(db)
	require.NoError(t, err)
	return store
}

func weeklyInput(week string, dau int) audit.WeeklyLogInput {
	return audit.WeeklyLogInput{
		WeekEnding:              storage.MustParseDate(week),
		DAU:                     dau,
		WAU:                     400,
		MAU:                     1000,
		AvgSessionLengthMinutes: 15,
		FeatureAdoption:         60,
		RetentionRate:           75,
		MobilePercentage:        70,
		DesktopPercentage:       30,
	}
}

// blockingStore holds ListWeeklyLogs until gate is closed.
type blockingStore struct {
	storage.Store
	gate    chan struct{}
	entered chan struct{}
}

func (b *blockingStore) ListWeeklyLogs(ctx context.Context, opts storage.ListOptions) ([]storage.WeeklyLog, error) {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	select {
	case <-b.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return b.Store.ListWeeklyLogs(ctx, opts)
}

type failingStore struct {
	storage.Store
	err error
}

func (f *failingStore) ListChangeLog(context.Context, storage.ListOptions) ([]storage.ChangeLogEntry, error) {
	return nil, f.err
}

func TestSummary_EmptyStore(t *testing.T) {
	e := New(openTestStore(t), nil)

	_, ok, err := e.Summary(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	entry, found := e.Cache().Get()
	require.True(t, found, "empty result is cached too")
	assert.False(t, entry.HasData)
}

func TestFetch_ReadsAllTables(t *testing.T) {
	store := openTestStore(t)
	snap, err := Fetch(context.Background(), store)
	require.NoError(t, err)

	assert.Empty(t, snap.WeeklyLogs)
	assert.NotNil(t, snap.WeeklyLogs)
	assert.NotEmpty(t, snap.MetricDefinitions, "definitions are seeded by migration")
	assert.NotNil(t, snap.ChangeLog)
}

func TestFetch_PropagatesFirstError(t *testing.T) {
	boom := errors.New("connection reset")
	_, err := Fetch(context.Background(), &failingStore{Store: openTestStore(t), err: boom})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "list_change_log")
}

func TestRefresh_ErrorLeavesCacheEmpty(t *testing.T) {
	e := New(&failingStore{Store: openTestStore(t), err: errors.New("down")}, nil)
	_, err := e.Refresh(context.Background())
	require.Error(t, err)

	_, found := e.Cache().Get()
	assert.False(t, found)
}

func TestDataChanged_RefreshesAfterMutation(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	e := New(store, nil)
	coord := audit.NewCoordinator(store, audit.Options{Transactional: true, Listener: e})

	_, ok, err := e.Summary(ctx)
	require.NoError(t, err)
	require.False(t, ok)
	before := e.Cache().Token()

	_, err = coord.AddWeeklyLog(ctx, weeklyInput("2024-03-03", 100))
	require.NoError(t, err)
	_, err = coord.AddWeeklyLog(ctx, weeklyInput("2024-03-10", 150))
	require.NoError(t, err)
	assert.Equal(t, before+2, e.Cache().Token())

	entry, found := e.Cache().Get()
	require.True(t, found)
	require.True(t, entry.HasData)
	assert.Equal(t, 150, entry.Summary.DAU)
	assert.Equal(t, 87, entry.Summary.EngagementScore)
	assert.InDelta(t, 50.0, entry.Summary.WeekOverWeekGrowth, 1e-9)

	snap, err := e.Current(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.WeeklyLogs, 2)
	assert.Len(t, snap.ChangeLog, 2)
}

func TestRefresh_StaleResultIsDiscarded(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	coord := audit.NewCoordinator(store, audit.Options{})
	_, err := coord.AddWeeklyLog(ctx, weeklyInput("2024-03-10", 150))
	require.NoError(t, err)

	bs := &blockingStore{Store: store, gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	e := New(bs, nil)

	done := make(chan error, 1)
	go func() {
		snap, err := e.Refresh(ctx)
		if err == nil && len(snap.WeeklyLogs) != 1 {
			err = errors.New("refresh returned wrong data")
		}
		done <- err
	}()

	<-bs.entered
	e.Cache().Invalidate()
	close(bs.gate)
	require.NoError(t, <-done)

	_, found := e.Cache().Get()
	assert.False(t, found, "a refresh started before invalidation must not populate the cache")

	// The next read refetches under the new token.
	summary, ok, err := e.Summary(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 150, summary.DAU)
	_, found = e.Cache().Get()
	assert.True(t, found)
}

func TestAccessors(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	e := New(store, nil)
	coord := audit.NewCoordinator(store, audit.Options{Listener: e, Transactional: true})

	_, err := coord.AddWeeklyLog(ctx, weeklyInput("2024-03-03", 120))
	require.NoError(t, err)
	_, err = coord.AddWeeklyLog(ctx, weeklyInput("2024-03-10", 150))
	require.NoError(t, err)
	_, err = coord.AddFeatureAdoption(ctx, audit.FeatureAdoptionInput{
		WeekEnding: storage.MustParseDate("2024-03-10"), FeatureName: "Journal", PercentageActiveUsers: 40,
	})
	require.NoError(t, err)
	_, err = coord.AddUserSegment(ctx, audit.UserSegmentInput{
		SegmentName: "Premium", SegmentType: storage.SegmentTier, WeekEnding: storage.MustParseDate("2024-03-10"), UserCount: 80,
	})
	require.NoError(t, err)
	_, err = coord.AddCohortRetention(ctx, audit.CohortRetentionInput{
		CohortSignupWeek: storage.MustParseDate("2024-02-04"), UserCount: 200, Day1Retention: 80, Day7Retention: 60, Day30Retention: 40,
	})
	require.NoError(t, err)

	trends, err := e.Trends(ctx)
	require.NoError(t, err)
	require.Len(t, trends.DAU, 2)
	assert.Equal(t, "2024-03-03", trends.DAU[0].Date)

	split, err := e.PlatformSplit(ctx)
	require.NoError(t, err)
	require.Len(t, split, 2)
	assert.Equal(t, 70.0, split[0].Value)

	segs, err := e.Segments(ctx, storage.SegmentTier)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, "Premium", segs[0].SegmentName)

	features, err := e.Features(ctx)
	require.NoError(t, err)
	require.Len(t, features, 1)

	ft, err := e.FeatureTrend(ctx, "Journal")
	require.NoError(t, err)
	assert.Len(t, ft, 1)

	curves, err := e.Cohorts(ctx, 5)
	require.NoError(t, err)
	require.Len(t, curves, 1)
	assert.Equal(t, 200, curves[0].UserCount)
}

func TestSnapshotExport(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	coord := audit.NewCoordinator(store, audit.Options{Transactional: true})
	_, err := coord.AddWeeklyLog(ctx, weeklyInput("2024-03-10", 150))
	require.NoError(t, err)

	snap, err := Fetch(ctx, store)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, snap.WriteCSV(&buf, storage.TableUserSegments))
	assert.Zero(t, buf.Len())

	require.NoError(t, snap.WriteCSV(&buf, storage.TableWeeklyLogs))
	assert.Contains(t, buf.String(), "2024-03-10")

	assert.ErrorIs(t, snap.WriteCSV(&buf, "users"), ErrUnknownTable)
	_, err = snap.Rows("users")
	assert.ErrorIs(t, err, ErrUnknownTable)
	n, err := snap.Rows(storage.TableChangeLog)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	dir := t.TempDir()
	day := time.Date(2024, 3, 12, 9, 0, 0, 0, time.UTC)
	path, err := snap.ExportFile(dir, storage.TableChangeLog, day)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "change_log_2024-03-12.csv"), path)
	_, err = os.Stat(path)
	require.NoError(t, err)

	path, err = snap.ExportFile(dir, storage.TableCohortRetention, day)
	require.NoError(t, err)
	assert.Empty(t, path)
}
