package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/vitals/internal/storage"
)

func TestReconciler_CleanLogHasNoOrphans(t *testing.T) {
	store := openTestStore(t)
	c := NewCoordinator(store, Options{Transactional: true})
	ctx := context.Background()

	row, err := c.AddWeeklyLog(ctx, roundTripInput())
	require.NoError(t, err)
	require.NoError(t, c.UpdateWeeklyLog(ctx, row.ID, storage.Fields{"notes": "checked"}, UpdateOptions{}))
	_, err = c.AddUserSegment(ctx, UserSegmentInput{SegmentName: "Free", SegmentType: storage.SegmentTier, WeekEnding: storage.MustParseDate("2024-03-10")})
	require.NoError(t, err)

	rep, err := NewReconciler(store, c, nil).Run(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Checked)
	assert.Empty(t, rep.Orphans)
	assert.NotNil(t, rep.Orphans)
}

func TestReconciler_FindsAndRepairsLostEntries(t *testing.T) {
	base := openTestStore(t)
	flaky := &plainStore{Store: base}
	c := NewCoordinator(flaky, Options{})
	ctx := context.Background()

	// Insert audited, then one update whose audit append is lost.
	row, err := c.AddWeeklyLog(ctx, roundTripInput())
	require.NoError(t, err)
	flaky.failAppend = errors.New("network partition")
	require.NoError(t, c.UpdateWeeklyLog(ctx, row.ID, storage.Fields{"dau": 160}, UpdateOptions{}))

	cohort, err := c.AddCohortRetention(ctx, CohortRetentionInput{CohortSignupWeek: storage.MustParseDate("2024-01-07")})
	require.NoError(t, err)
	flaky.failAppend = nil

	r := NewReconciler(base, c, nil)
	checked, orphans, err := r.Find(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, checked)
	require.Len(t, orphans, 2)

	byTable := map[string]Orphan{}
	for _, o := range orphans {
		byTable[o.Table] = o
	}
	assert.Equal(t, row.ID, byTable[storage.TableWeeklyLogs].RecordID)
	assert.Equal(t, 1, byTable[storage.TableWeeklyLogs].Missing())
	assert.Equal(t, cohort.ID, byTable[storage.TableCohortRetention].RecordID)
	assert.Equal(t, 1, byTable[storage.TableCohortRetention].Missing())

	rep, err := r.Run(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Repaired)

	_, orphans, err = r.Find(ctx)
	require.NoError(t, err)
	assert.Empty(t, orphans)

	entries := changeLog(t, base)
	require.Len(t, entries, 3)
	var repairs int
	for _, e := range entries {
		if e.ActorName == ReconcilerActor.Name {
			repairs++
			require.NotNil(t, e.ComplianceNote)
			assert.Equal(t, "reconciliation", *e.Reason)
			assert.NotNil(t, e.NewValue)
		}
	}
	assert.Equal(t, 2, repairs)
}

func TestReconciler_RepairStopsOnAppendFailure(t *testing.T) {
	base := openTestStore(t)
	flaky := &plainStore{Store: base, failAppend: errors.New("down")}
	c := NewCoordinator(flaky, Options{})
	ctx := context.Background()

	_, err := c.AddFeatureAdoption(ctx, FeatureAdoptionInput{WeekEnding: storage.MustParseDate("2024-03-10"), FeatureName: "Journal"})
	require.NoError(t, err)

	rep, err := NewReconciler(base, c, nil).Run(ctx, true)
	require.Error(t, err)
	assert.Len(t, rep.Orphans, 1)
	assert.Equal(t, 0, rep.Repaired)
}

func TestReconciler_AnnotationsDoNotCountAsWrites(t *testing.T) {
	base := openTestStore(t)
	flaky := &plainStore{Store: base, failAppend: errors.New("timeout")}
	c := NewCoordinator(flaky, Options{})
	ctx := context.Background()

	row, err := c.AddWeeklyLog(ctx, roundTripInput())
	require.NoError(t, err)
	flaky.failAppend = nil

	note, err := c.LogChange(ctx, ChangeInput{
		Description: "Outage week, figures partial",
		Table:       storage.TableWeeklyLogs,
		RecordID:    row.ID,
		Annotation:  true,
	})
	require.NoError(t, err)
	assert.True(t, IsAnnotation(*note))

	_, orphans, err := NewReconciler(base, c, nil).Find(ctx)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, row.ID, orphans[0].RecordID)
	assert.Equal(t, 0, orphans[0].Found)
}

func TestReconciler_ConfirmationDefersUntilSecondPass(t *testing.T) {
	store := openTestStore(t)
	c := NewCoordinator(store, Options{})
	ctx := context.Background()
	r := NewReconciler(store, c, nil).WithConfirmation()

	row := &storage.WeeklyLog{WeekEnding: storage.MustParseDate("2024-03-10")}
	require.NoError(t, store.InsertWeeklyLog(ctx, row))

	rep, err := r.Run(ctx, true)
	require.NoError(t, err)
	assert.Len(t, rep.Orphans, 1)
	assert.Equal(t, 1, rep.Deferred)
	assert.Equal(t, 0, rep.Repaired)
	assert.Empty(t, changeLog(t, store))

	rep, err = r.Run(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Deferred)
	assert.Equal(t, 1, rep.Repaired)
	assert.Len(t, changeLog(t, store), 1)
}

func TestReconciler_ConfirmationSkipsLateAppend(t *testing.T) {
	store := openTestStore(t)
	c := NewCoordinator(store, Options{})
	ctx := context.Background()
	r := NewReconciler(store, c, nil).WithConfirmation()

	// The row is persisted and the pass runs before its audit append lands.
	row := &storage.WeeklyLog{WeekEnding: storage.MustParseDate("2024-03-10")}
	require.NoError(t, store.InsertWeeklyLog(ctx, row))
	rep, err := r.Run(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Deferred)

	_, err = c.LogChange(ctx, ChangeInput{
		Description: "Added weekly log for week ending 2024-03-10",
		Table:       storage.TableWeeklyLogs,
		RecordID:    row.ID,
	})
	require.NoError(t, err)

	rep, err = r.Run(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, rep.Orphans)
	assert.Equal(t, 0, rep.Repaired)
	assert.Len(t, changeLog(t, store), 1, "one write, one entry")
}
