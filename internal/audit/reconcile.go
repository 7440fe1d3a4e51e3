package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/runnerr0/vitals/internal/logger"
	"github.com/runnerr0/vitals/internal/metrics"
	"github.com/runnerr0/vitals/internal/storage"
)

// ReconcilerActor is the identity repair entries are attributed to.
var ReconcilerActor = Actor{Name: "reconciler"}

const repairNote = "entry reconstructed by reconciliation; original actor and before-value unknown"

// Orphan is a data row with fewer change-log entries than it has writes.
// Inserts account for one entry and every update of a versioned row for one
// more, so a weekly log at version 3 needs three.
type Orphan struct {
	Table     string    `json:"table"`
	RecordID  string    `json:"record_id"`
	Label     string    `json:"label"`
	Expected  int       `json:"expected_entries"`
	Found     int       `json:"found_entries"`
	CreatedAt time.Time `json:"created_at"`
	row       any
}

// Missing is the number of entries the row lacks.
func (o Orphan) Missing() int {
	return o.Expected - o.Found
}

// Report is the result of one reconciliation pass.
type Report struct {
	Checked  int      `json:"checked"`
	Orphans  []Orphan `json:"orphans"`
	Repaired int      `json:"repaired"`
	// Deferred counts orphans left for the next pass to confirm.
	Deferred int `json:"deferred,omitempty"`
}

// Reconciler finds data rows whose audit entries were lost, which can only
// happen on stores without transactions.
type Reconciler struct {
	store storage.Store
	coord *Coordinator
	log   *logger.Logger

	confirm bool
	mu      sync.Mutex
	seen    map[string]Orphan
}

// NewReconciler creates a Reconciler. coord is used for repairs.
func NewReconciler(store storage.Store, coord *Coordinator, log *logger.Logger) *Reconciler {
	if log == nil {
		log = logger.Nop()
	}
	return &Reconciler{store: store, coord: coord, log: log.With("component", "reconciler")}
}

// WithConfirmation makes Run repair only orphans that the previous Run
// reported with the same counts. A write whose audit append is still in
// flight during one pass has landed by the next and is never repaired.
func (r *Reconciler) WithConfirmation() *Reconciler {
	r.confirm = true
	return r
}

// confirmed returns the orphans seen unchanged on the previous pass and
// remembers this pass for the next one.
func (r *Reconciler) confirmed(orphans []Orphan) []Orphan {
	prev := r.seen
	r.seen = make(map[string]Orphan, len(orphans))
	var out []Orphan
	for _, o := range orphans {
		key := o.Table + "/" + o.RecordID
		r.seen[key] = o
		if p, ok := prev[key]; ok && p.Expected == o.Expected && p.Found == o.Found {
			out = append(out, o)
		}
	}
	return out
}

// Find lists every orphaned row, oldest first.
func (r *Reconciler) Find(ctx context.Context) (checked int, orphans []Orphan, err error) {
	entries, err := r.store.ListChangeLog(ctx, storage.ListOptions{})
	if err != nil {
		return 0, nil, fmt.Errorf("list change log: %w", err)
	}
	counts := make(map[string]int, len(entries))
	for _, e := range entries {
		if IsAnnotation(e) {
			continue
		}
		counts[e.AffectedTable+"/"+e.AffectedRecordID]++
	}

	check := func(table, id, label string, expected int, created time.Time, row any) {
		checked++
		found := counts[table+"/"+id]
		if found < expected {
			orphans = append(orphans, Orphan{
				Table: table, RecordID: id, Label: label,
				Expected: expected, Found: found, CreatedAt: created, row: row,
			})
		}
	}

	logs, err := r.store.ListWeeklyLogs(ctx, storage.ListOptions{})
	if err != nil {
		return 0, nil, fmt.Errorf("list weekly logs: %w", err)
	}
	for _, l := range logs {
		check(storage.TableWeeklyLogs, l.ID, "week ending "+l.WeekEnding.String(), int(l.Version), l.CreatedAt, l)
	}

	features, err := r.store.ListFeatureAdoption(ctx, storage.ListOptions{})
	if err != nil {
		return 0, nil, fmt.Errorf("list feature adoption: %w", err)
	}
	for _, f := range features {
		check(storage.TableFeatureAdoption, f.ID, f.FeatureName+", week ending "+f.WeekEnding.String(), 1, f.CreatedAt, f)
	}

	cohorts, err := r.store.ListCohortRetention(ctx, storage.ListOptions{})
	if err != nil {
		return 0, nil, fmt.Errorf("list cohort retention: %w", err)
	}
	for _, c := range cohorts {
		check(storage.TableCohortRetention, c.ID, "signup week "+c.CohortSignupWeek.String(), int(c.Version), c.CreatedAt, c)
	}

	segments, err := r.store.ListUserSegments(ctx, storage.ListOptions{})
	if err != nil {
		return 0, nil, fmt.Errorf("list user segments: %w", err)
	}
	for _, s := range segments {
		check(storage.TableUserSegments, s.ID, s.SegmentType+" "+s.SegmentName+", week ending "+s.WeekEnding.String(), 1, s.CreatedAt, s)
	}

	sort.SliceStable(orphans, func(i, j int) bool { return orphans[i].CreatedAt.Before(orphans[j].CreatedAt) })
	return checked, orphans, nil
}

// Repair appends one reconstructed entry per missing write. It stops at the
// first append failure and reports how many entries were written.
func (r *Reconciler) Repair(ctx context.Context, orphans []Orphan) (int, error) {
	repaired := 0
	for _, o := range orphans {
		for i := 0; i < o.Missing(); i++ {
			_, err := r.coord.LogChange(ctx, ChangeInput{
				Description:    fmt.Sprintf("Reconciled missing audit entry for %s %s", o.Table, o.Label),
				Reason:         "reconciliation",
				ComplianceNote: repairNote,
				Table:          o.Table,
				RecordID:       o.RecordID,
				New:            o.row,
				Actor:          &ReconcilerActor,
			})
			if err != nil {
				return repaired, err
			}
			repaired++
		}
	}
	return repaired, nil
}

// Run finds orphans and, when repair is set, appends the missing entries.
func (r *Reconciler) Run(ctx context.Context, repair bool) (Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	checked, orphans, err := r.Find(ctx)
	if err != nil {
		return Report{}, err
	}
	metrics.SetReconcileOrphans(len(orphans))

	rep := Report{Checked: checked, Orphans: orphans}
	if rep.Orphans == nil {
		rep.Orphans = []Orphan{}
	}
	if len(orphans) > 0 {
		r.log.Warn("rows without change-log entries", "orphans", len(orphans), "checked", checked)
	}

	fix := orphans
	if r.confirm {
		fix = r.confirmed(orphans)
		rep.Deferred = len(orphans) - len(fix)
	}
	if !repair || len(fix) == 0 {
		return rep, nil
	}

	rep.Repaired, err = r.Repair(ctx, fix)
	if err != nil {
		return rep, fmt.Errorf("repair after %d entries: %w", rep.Repaired, err)
	}
	r.log.Info("reconciliation repaired change log", "entries", rep.Repaired, "deferred", rep.Deferred)
	metrics.SetReconcileOrphans(rep.Deferred)
	return rep, nil
}
