// Package engine loads the six engagement tables, keeps the derived summary
// cached, and refreshes both after every committed mutation.
package engine

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/runnerr0/vitals/internal/aggregate"
	"github.com/runnerr0/vitals/internal/cache"
	"github.com/runnerr0/vitals/internal/export"
	"github.com/runnerr0/vitals/internal/logger"
	"github.com/runnerr0/vitals/internal/metrics"
	"github.com/runnerr0/vitals/internal/storage"
)

// Snapshot is one consistent read of every table, each in the store's
// default order (newest first, definitions by name).
type Snapshot struct {
	WeeklyLogs        []storage.WeeklyLog
	FeatureAdoption   []storage.FeatureAdoption
	CohortRetention   []storage.CohortRetention
	UserSegments      []storage.UserSegment
	MetricDefinitions []storage.MetricDefinition
	ChangeLog         []storage.ChangeLogEntry
	FetchedAt         time.Time
}

// Fetch reads all six tables in parallel. The first failure cancels the
// remaining reads.
func Fetch(ctx context.Context, store storage.Store) (*Snapshot, error) {
	var snap Snapshot
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		snap.WeeklyLogs, err = timed(ctx, "list_"+storage.TableWeeklyLogs, store.ListWeeklyLogs)
		return err
	})
	g.Go(func() (err error) {
		snap.FeatureAdoption, err = timed(ctx, "list_"+storage.TableFeatureAdoption, store.ListFeatureAdoption)
		return err
	})
	g.Go(func() (err error) {
		snap.CohortRetention, err = timed(ctx, "list_"+storage.TableCohortRetention, store.ListCohortRetention)
		return err
	})
	g.Go(func() (err error) {
		snap.UserSegments, err = timed(ctx, "list_"+storage.TableUserSegments, store.ListUserSegments)
		return err
	})
	g.Go(func() (err error) {
		snap.MetricDefinitions, err = timed(ctx, "list_"+storage.TableMetricDefinitions, store.ListMetricDefinitions)
		return err
	})
	g.Go(func() (err error) {
		snap.ChangeLog, err = timed(ctx, "list_"+storage.TableChangeLog, store.ListChangeLog)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &snap, nil
}

func timed[T any](ctx context.Context, op string, list func(context.Context, storage.ListOptions) ([]T, error)) ([]T, error) {
	start := time.Now()
	rows, err := list(ctx, storage.ListOptions{})
	metrics.ObserveStoreOp(op, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if rows == nil {
		rows = []T{}
	}
	return rows, nil
}

// Engine serves read models over a store.
type Engine struct {
	store storage.Store
	cache *cache.SummaryCache
	log   *logger.Logger
	now   func() time.Time

	mu        sync.RWMutex
	snap      *Snapshot
	snapToken uint64
}

// New creates an Engine. Nothing is read until the first accessor call.
func New(store storage.Store, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{
		store: store,
		cache: cache.NewSummaryCache(),
		log:   log.With("component", "engine"),
		now:   time.Now,
	}
}

// Cache exposes the summary cache.
func (e *Engine) Cache() *cache.SummaryCache {
	return e.cache
}

// Refresh refetches every table and recomputes the summary. A refresh that
// was overtaken by a mutation returns its data to the caller but does not
// replace the cached view.
func (e *Engine) Refresh(ctx context.Context) (*Snapshot, error) {
	token := e.cache.Token()

	snap, err := Fetch(ctx, e.store)
	if err != nil {
		metrics.RecordCacheRefresh("error")
		return nil, err
	}
	snap.FetchedAt = e.now()

	summary, ok := aggregate.BuildSummary(snap.WeeklyLogs)

	e.mu.Lock()
	kept := e.cache.Set(token, summary, ok)
	if kept {
		e.snap = snap
		e.snapToken = token
	}
	e.mu.Unlock()

	if !kept {
		metrics.RecordCacheRefresh("discarded")
		e.log.Debug("discarded stale refresh", "token", token)
		return snap, nil
	}
	metrics.RecordCacheRefresh("stored")
	if ok {
		metrics.SetLatestScore(summary.EngagementScore)
	}
	e.log.Debug("refreshed", "weekly_logs", len(snap.WeeklyLogs), "change_log", len(snap.ChangeLog))
	return snap, nil
}

// DataChanged invalidates the cache and refetches. Refetch errors are logged;
// the next read retries.
func (e *Engine) DataChanged(ctx context.Context) {
	e.cache.Invalidate()
	if _, err := e.Refresh(ctx); err != nil {
		e.log.Warn("refresh after mutation failed", "error", err)
	}
}

// Current returns the cached snapshot, refreshing when it is missing or was
// invalidated.
func (e *Engine) Current(ctx context.Context) (*Snapshot, error) {
	e.mu.RLock()
	snap, token := e.snap, e.snapToken
	e.mu.RUnlock()
	if snap != nil && token == e.cache.Token() {
		return snap, nil
	}
	return e.Refresh(ctx)
}

// Summary returns the engagement summary. ok is false when no weekly log
// exists yet.
func (e *Engine) Summary(ctx context.Context) (aggregate.EngagementSummary, bool, error) {
	if entry, found := e.cache.Get(); found {
		return entry.Summary, entry.HasData, nil
	}
	snap, err := e.Refresh(ctx)
	if err != nil {
		return aggregate.EngagementSummary{}, false, err
	}
	summary, ok := aggregate.BuildSummary(snap.WeeklyLogs)
	return summary, ok, nil
}

// Trends returns the seven weekly series, oldest first.
func (e *Engine) Trends(ctx context.Context) (aggregate.Trends, error) {
	snap, err := e.Current(ctx)
	if err != nil {
		return aggregate.Trends{}, err
	}
	return aggregate.BuildTrends(snap.WeeklyLogs), nil
}

// PlatformSplit returns the mobile/desktop split of the latest week.
func (e *Engine) PlatformSplit(ctx context.Context) ([]aggregate.Slice, error) {
	snap, err := e.Current(ctx)
	if err != nil {
		return nil, err
	}
	return aggregate.PlatformSplit(snap.WeeklyLogs), nil
}

// Segments returns the latest week's segments, optionally of one type.
func (e *Engine) Segments(ctx context.Context, segmentType string) ([]storage.UserSegment, error) {
	snap, err := e.Current(ctx)
	if err != nil {
		return nil, err
	}
	return aggregate.LatestSegments(snap.UserSegments, segmentType), nil
}

// Cohorts returns retention curves for up to limit cohorts, newest first.
func (e *Engine) Cohorts(ctx context.Context, limit int) ([]aggregate.CohortCurve, error) {
	snap, err := e.Current(ctx)
	if err != nil {
		return nil, err
	}
	return aggregate.CohortCurves(snap.CohortRetention, limit), nil
}

// Features returns the latest week's feature adoption leaderboard.
func (e *Engine) Features(ctx context.Context) ([]storage.FeatureAdoption, error) {
	snap, err := e.Current(ctx)
	if err != nil {
		return nil, err
	}
	return aggregate.FeatureLeaderboard(snap.FeatureAdoption), nil
}

// FeatureTrend returns one feature's adoption over time.
func (e *Engine) FeatureTrend(ctx context.Context, featureName string) ([]aggregate.Point, error) {
	snap, err := e.Current(ctx)
	if err != nil {
		return nil, err
	}
	return aggregate.FeatureTrend(snap.FeatureAdoption, featureName), nil
}

// WriteCSV writes one table of the snapshot as CSV. An empty table writes
// nothing.
func (s *Snapshot) WriteCSV(w io.Writer, table string) error {
	switch table {
	case storage.TableWeeklyLogs:
		return export.WriteCSV(w, s.WeeklyLogs)
	case storage.TableFeatureAdoption:
		return export.WriteCSV(w, s.FeatureAdoption)
	case storage.TableCohortRetention:
		return export.WriteCSV(w, s.CohortRetention)
	case storage.TableUserSegments:
		return export.WriteCSV(w, s.UserSegments)
	case storage.TableMetricDefinitions:
		return export.WriteCSV(w, s.MetricDefinitions)
	case storage.TableChangeLog:
		return export.WriteCSV(w, s.ChangeLog)
	}
	return fmt.Errorf("%w: %q", ErrUnknownTable, table)
}

// Rows reports how many rows table holds in the snapshot.
func (s *Snapshot) Rows(table string) (int, error) {
	switch table {
	case storage.TableWeeklyLogs:
		return len(s.WeeklyLogs), nil
	case storage.TableFeatureAdoption:
		return len(s.FeatureAdoption), nil
	case storage.TableCohortRetention:
		return len(s.CohortRetention), nil
	case storage.TableUserSegments:
		return len(s.UserSegments), nil
	case storage.TableMetricDefinitions:
		return len(s.MetricDefinitions), nil
	case storage.TableChangeLog:
		return len(s.ChangeLog), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownTable, table)
}

// ExportFile writes table to dir as {table}_{date}.csv and returns the path,
// or "" when the table is empty.
func (s *Snapshot) ExportFile(dir, table string, now time.Time) (string, error) {
	switch table {
	case storage.TableWeeklyLogs:
		return export.ToFile(dir, table, s.WeeklyLogs, now)
	case storage.TableFeatureAdoption:
		return export.ToFile(dir, table, s.FeatureAdoption, now)
	case storage.TableCohortRetention:
		return export.ToFile(dir, table, s.CohortRetention, now)
	case storage.TableUserSegments:
		return export.ToFile(dir, table, s.UserSegments, now)
	case storage.TableMetricDefinitions:
		return export.ToFile(dir, table, s.MetricDefinitions, now)
	case storage.TableChangeLog:
		return export.ToFile(dir, table, s.ChangeLog, now)
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTable, table)
}
