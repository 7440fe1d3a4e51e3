// Package audit is the single write path for engagement data. Every create or
// update persists the row and then appends exactly one change-log entry
// carrying the actor, a description and before/after snapshots.
package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/runnerr0/vitals/internal/logger"
	"github.com/runnerr0/vitals/internal/metrics"
	"github.com/runnerr0/vitals/internal/scoring"
	"github.com/runnerr0/vitals/internal/storage"
)

// UpdatePolicy decides what happens to a stored engagement score when its
// inputs are edited.
type UpdatePolicy string

const (
	// PolicyRecompute rescores whenever a scoring input changes.
	PolicyRecompute UpdatePolicy = "recompute"
	// PolicyPreserve keeps the score as first computed.
	PolicyPreserve UpdatePolicy = "preserve"
)

// ParseUpdatePolicy accepts the config spelling of a policy.
func ParseUpdatePolicy(s string) (UpdatePolicy, error) {
	switch p := UpdatePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", PolicyRecompute:
		return PolicyRecompute, nil
	case PolicyPreserve:
		return PolicyPreserve, nil
	default:
		return "", fmt.Errorf("unknown score update policy %q (want recompute or preserve)", s)
	}
}

// scoringInputs are the weekly-log columns the engagement score reads.
var scoringInputs = []string{"dau", "avg_session_length_minutes", "feature_adoption", "retention_rate"}

var (
	// ErrNoChanges is returned for an update that carries nothing writable.
	ErrNoChanges = errors.New("update has no writable fields")
	// ErrAlreadySuperseded is returned when correcting a row that a newer
	// correction already replaces.
	ErrAlreadySuperseded = errors.New("record already superseded; correct the newest row instead")
)

// ChangeListener is told after every committed mutation.
type ChangeListener interface {
	DataChanged(ctx context.Context)
}

// Options configure a Coordinator.
type Options struct {
	Targets      scoring.Targets
	UpdatePolicy UpdatePolicy
	// Transactional wraps persist and audit in one transaction when the
	// store supports it.
	Transactional bool
	Actor         ActorResolver
	Listener      ChangeListener
	Logger        *logger.Logger
	Now           func() time.Time
	// ComplianceNotes maps "table.column" to the note recorded when an
	// update touches that column and the caller gave no note of its own.
	ComplianceNotes map[string]string
}

// Coordinator owns every write to the five data tables and the change log.
type Coordinator struct {
	store         storage.Store
	targets       scoring.Targets
	policy        UpdatePolicy
	transactional bool
	actor         ActorResolver
	listener      ChangeListener
	log           *logger.Logger
	now           func() time.Time
	notes         map[string]string
}

// NewCoordinator creates a Coordinator over store.
func NewCoordinator(store storage.Store, opts Options) *Coordinator {
	c := &Coordinator{
		store:         store,
		targets:       opts.Targets,
		policy:        opts.UpdatePolicy,
		transactional: opts.Transactional,
		actor:         opts.Actor,
		listener:      opts.Listener,
		log:           opts.Logger,
		now:           opts.Now,
		notes:         opts.ComplianceNotes,
	}
	if c.targets == (scoring.Targets{}) {
		c.targets = scoring.DefaultTargets
	}
	if c.policy == "" {
		c.policy = PolicyRecompute
	}
	if c.log == nil {
		c.log = logger.Nop()
	}
	c.log = c.log.With("component", "coordinator")
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// SetListener replaces the post-commit listener.
func (c *Coordinator) SetListener(l ChangeListener) {
	c.listener = l
}

// change is what a persist step reports for the audit entry.
type change struct {
	recordID       string
	description    string
	previous       any
	next           any
	complianceNote string
}

type mutation struct {
	table  string
	op     string
	reason string
	note   string
	// persist writes through s and describes the change. It runs inside the
	// transaction when one is available.
	persist func(ctx context.Context, s storage.Store) (change, error)
}

// mutate runs persist, then the audit append, then notifies the listener.
// The audit append never runs unless persist succeeded.
func (c *Coordinator) mutate(ctx context.Context, m mutation) error {
	actor := c.resolveActor(ctx)

	if tx, ok := c.store.(storage.Transactor); ok && c.transactional {
		err := tx.WithTx(ctx, func(s storage.Store) error {
			ch, err := c.timedPersist(ctx, s, m)
			if err != nil {
				return err
			}
			entry, err := c.entry(m, ch, actor)
			if err != nil {
				return err
			}
			if err := s.AppendChangeLog(ctx, entry); err != nil {
				return fmt.Errorf("append change log: %w", err)
			}
			return nil
		})
		metrics.RecordMutation(m.table, m.op, err)
		if err != nil {
			return err
		}
		c.notify(ctx)
		return nil
	}

	ch, err := c.timedPersist(ctx, c.store, m)
	metrics.RecordMutation(m.table, m.op, err)
	if err != nil {
		return err
	}

	entry, err := c.entry(m, ch, actor)
	if err == nil {
		err = c.store.AppendChangeLog(ctx, entry)
	}
	if err != nil {
		// The data write stands; the reconciler picks the gap up later.
		metrics.RecordAuditFailure(m.table)
		c.log.Error("change log append failed after successful write",
			"table", m.table,
			"record_id", ch.recordID,
			"op", m.op,
			"error", err,
		)
	}
	c.notify(ctx)
	return nil
}

func (c *Coordinator) timedPersist(ctx context.Context, s storage.Store, m mutation) (change, error) {
	start := time.Now()
	ch, err := m.persist(ctx, s)
	metrics.ObserveStoreOp(m.op+"_"+m.table, time.Since(start))
	return ch, err
}

func (c *Coordinator) notify(ctx context.Context) {
	if c.listener != nil {
		c.listener.DataChanged(ctx)
	}
}

func (c *Coordinator) resolveActor(ctx context.Context) Actor {
	if c.actor == nil {
		return Actor{Name: UnknownActor}
	}
	a, err := c.actor.CurrentActor(ctx)
	if err != nil {
		c.log.Warn("actor resolution failed", "error", err)
		return Actor{Name: UnknownActor}
	}
	if a == nil {
		return Actor{Name: UnknownActor}
	}
	out := *a
	if out.Name == "" {
		out.Name = UnknownActor
	}
	return out
}

func (c *Coordinator) entry(m mutation, ch change, actor Actor) (*storage.ChangeLogEntry, error) {
	prev, err := marshalSnapshot(ch.previous)
	if err != nil {
		return nil, err
	}
	next, err := marshalSnapshot(ch.next)
	if err != nil {
		return nil, err
	}
	note := m.note
	if note == "" {
		note = ch.complianceNote
	}
	return &storage.ChangeLogEntry{
		ActorID:           optional(actor.ID),
		ActorName:         actor.Name,
		ChangeDescription: ch.description,
		Reason:            optional(m.reason),
		AffectedTable:     m.table,
		AffectedRecordID:  ch.recordID,
		PreviousValue:     prev,
		NewValue:          next,
		ComplianceNote:    optional(note),
	}, nil
}

func marshalSnapshot(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// AnnotationPrefix starts the description of every annotation entry.
const AnnotationPrefix = "Annotation: "

// IsAnnotation reports whether e was written as an annotation rather than
// for a data write.
func IsAnnotation(e storage.ChangeLogEntry) bool {
	return strings.HasPrefix(e.ChangeDescription, AnnotationPrefix)
}

// LogChange appends one entry outside a data mutation, e.g. a repair or an
// annotation. The actor falls back to "Unknown", never to silence.
func (c *Coordinator) LogChange(ctx context.Context, in ChangeInput) (*storage.ChangeLogEntry, error) {
	if in.Table == "" || in.RecordID == "" {
		return nil, fmt.Errorf("log change: table and record id are required")
	}
	if in.Annotation && !strings.HasPrefix(in.Description, AnnotationPrefix) {
		in.Description = AnnotationPrefix + in.Description
	}
	actor := c.resolveActor(ctx)
	if in.Actor != nil {
		actor = *in.Actor
		if actor.Name == "" {
			actor.Name = UnknownActor
		}
	}
	entry, err := c.entry(
		mutation{table: in.Table, reason: in.Reason, note: in.ComplianceNote},
		change{recordID: in.RecordID, description: in.Description, previous: in.Previous, next: in.New},
		actor,
	)
	if err != nil {
		return nil, err
	}
	if err := c.store.AppendChangeLog(ctx, entry); err != nil {
		metrics.RecordAuditFailure(in.Table)
		return nil, fmt.Errorf("append change log: %w", err)
	}
	return entry, nil
}

// ── Weekly logs ────────────────────────────────────────────────

// AddWeeklyLog scores, stores and audits a new weekly log.
func (c *Coordinator) AddWeeklyLog(ctx context.Context, in WeeklyLogInput) (*storage.WeeklyLog, error) {
	score := scoring.ComputeEngagementScore(float64(in.DAU), in.AvgSessionLengthMinutes, in.FeatureAdoption, in.RetentionRate, c.targets)
	if !scoring.InRange(score) {
		c.log.Warn("engagement score out of range, check inputs",
			"week_ending", in.WeekEnding.String(), "score", score)
	}

	row := in.record(score)
	if row.RecordedBy == nil {
		if a := c.resolveActor(ctx); a.ID != "" {
			row.RecordedBy = &a.ID
		}
	}

	err := c.mutate(ctx, mutation{
		table: storage.TableWeeklyLogs,
		op:    "insert",
		persist: func(ctx context.Context, s storage.Store) (change, error) {
			if err := s.InsertWeeklyLog(ctx, row); err != nil {
				return change{}, err
			}
			payload, err := storage.Snapshot(in)
			if err != nil {
				return change{}, err
			}
			payload["engagement_score"] = score
			return change{
				recordID:    row.ID,
				description: "Added weekly log for week ending " + in.WeekEnding.String(),
				next:        payload,
			}, nil
		},
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// UpdateWeeklyLog applies a partial update. Caller-supplied engagement_score
// is dropped; under PolicyRecompute the score follows its inputs.
func (c *Coordinator) UpdateWeeklyLog(ctx context.Context, id string, updates storage.Fields, opts UpdateOptions) error {
	fields := make(storage.Fields, len(updates))
	for k, v := range updates {
		if k == "engagement_score" {
			c.log.Debug("ignoring caller-supplied engagement_score", "record_id", id)
			continue
		}
		fields[k] = v
	}
	norm, err := storage.NormalizeFields(storage.TableWeeklyLogs, fields)
	if err != nil {
		return err
	}
	if len(norm) == 0 {
		return ErrNoChanges
	}

	return c.mutate(ctx, mutation{
		table:  storage.TableWeeklyLogs,
		op:     "update",
		reason: opts.Reason,
		note:   opts.ComplianceNote,
		persist: func(ctx context.Context, s storage.Store) (change, error) {
			existing, err := s.GetWeeklyLog(ctx, id)
			if err != nil {
				return change{}, err
			}

			applied := copyFields(norm)
			if c.policy == PolicyRecompute && norm.Has(scoringInputs...) {
				merged := *existing
				if err := storage.Apply(&merged, norm); err != nil {
					return change{}, err
				}
				applied["engagement_score"] = scoring.ComputeEngagementScore(
					float64(merged.DAU), merged.AvgSessionLengthMinutes, merged.FeatureAdoption, merged.RetentionRate, c.targets)
			}

			if err := s.UpdateWeeklyLog(ctx, id, applied, opts.ExpectedVersion); err != nil {
				return change{}, err
			}

			return change{
				recordID: id,
				description: fmt.Sprintf("Updated weekly log for week ending %s (%s)",
					existing.WeekEnding, strings.Join(applied.SortedKeys(), ", ")),
				previous:       existing,
				next:           applied,
				complianceNote: c.complianceNote(storage.TableWeeklyLogs, norm),
			}, nil
		},
	})
}

// ── Feature adoption ───────────────────────────────────────────

// AddFeatureAdoption stores and audits one feature observation.
func (c *Coordinator) AddFeatureAdoption(ctx context.Context, in FeatureAdoptionInput) (*storage.FeatureAdoption, error) {
	row := in.record(nil)
	err := c.mutate(ctx, mutation{
		table: storage.TableFeatureAdoption,
		op:    "insert",
		persist: func(ctx context.Context, s storage.Store) (change, error) {
			if err := s.InsertFeatureAdoption(ctx, row); err != nil {
				return change{}, err
			}
			return change{
				recordID:    row.ID,
				description: fmt.Sprintf("Added feature adoption for %s, week ending %s", in.FeatureName, in.WeekEnding),
				next:        in,
			}, nil
		},
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// CorrectFeatureAdoption appends a row that supersedes supersededID. The
// original stays in place; readers skip superseded rows.
func (c *Coordinator) CorrectFeatureAdoption(ctx context.Context, supersededID string, in FeatureAdoptionInput, reason string) (*storage.FeatureAdoption, error) {
	row := in.record(&supersededID)
	err := c.mutate(ctx, mutation{
		table:  storage.TableFeatureAdoption,
		op:     "correct",
		reason: reason,
		persist: func(ctx context.Context, s storage.Store) (change, error) {
			original, err := s.GetFeatureAdoption(ctx, supersededID)
			if err != nil {
				return change{}, err
			}
			rows, err := s.ListFeatureAdoption(ctx, storage.ListOptions{})
			if err != nil {
				return change{}, err
			}
			for _, r := range rows {
				if r.SupersedesID != nil && *r.SupersedesID == supersededID {
					return change{}, fmt.Errorf("feature adoption %s: %w", supersededID, ErrAlreadySuperseded)
				}
			}
			if err := s.InsertFeatureAdoption(ctx, row); err != nil {
				return change{}, err
			}
			return change{
				recordID:    row.ID,
				description: fmt.Sprintf("Corrected feature adoption for %s, week ending %s", in.FeatureName, in.WeekEnding),
				previous:    original,
				next:        in,
			}, nil
		},
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// ── Cohort retention ───────────────────────────────────────────

// AddCohortRetention stores and audits a new signup cohort.
func (c *Coordinator) AddCohortRetention(ctx context.Context, in CohortRetentionInput) (*storage.CohortRetention, error) {
	row := in.record()
	err := c.mutate(ctx, mutation{
		table: storage.TableCohortRetention,
		op:    "insert",
		persist: func(ctx context.Context, s storage.Store) (change, error) {
			if err := s.InsertCohortRetention(ctx, row); err != nil {
				return change{}, err
			}
			return change{
				recordID:    row.ID,
				description: "Added cohort retention for signup week " + in.CohortSignupWeek.String(),
				next:        in,
			}, nil
		},
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// UpdateCohortRetention back-fills or corrects a cohort. updated_at always
// moves strictly forward.
func (c *Coordinator) UpdateCohortRetention(ctx context.Context, id string, updates storage.Fields, opts UpdateOptions) error {
	fields := make(storage.Fields, len(updates))
	for k, v := range updates {
		if k == "updated_at" {
			continue
		}
		fields[k] = v
	}
	norm, err := storage.NormalizeFields(storage.TableCohortRetention, fields)
	if err != nil {
		return err
	}
	if len(norm) == 0 {
		return ErrNoChanges
	}

	return c.mutate(ctx, mutation{
		table:  storage.TableCohortRetention,
		op:     "update",
		reason: opts.Reason,
		note:   opts.ComplianceNote,
		persist: func(ctx context.Context, s storage.Store) (change, error) {
			existing, err := s.GetCohortRetention(ctx, id)
			if err != nil {
				return change{}, err
			}
			applied := copyFields(norm)
			applied["updated_at"] = later(c.now().UTC(), existing.UpdatedAt)

			if err := s.UpdateCohortRetention(ctx, id, applied, opts.ExpectedVersion); err != nil {
				return change{}, err
			}
			return change{
				recordID: id,
				description: fmt.Sprintf("Updated cohort retention for signup week %s (%s)",
					existing.CohortSignupWeek, strings.Join(norm.SortedKeys(), ", ")),
				previous:       existing,
				next:           applied,
				complianceNote: c.complianceNote(storage.TableCohortRetention, norm),
			}, nil
		},
	})
}

// ── User segments ──────────────────────────────────────────────

// AddUserSegment stores and audits one segment observation.
func (c *Coordinator) AddUserSegment(ctx context.Context, in UserSegmentInput) (*storage.UserSegment, error) {
	row := in.record(nil)
	err := c.mutate(ctx, mutation{
		table: storage.TableUserSegments,
		op:    "insert",
		persist: func(ctx context.Context, s storage.Store) (change, error) {
			if err := s.InsertUserSegment(ctx, row); err != nil {
				return change{}, err
			}
			return change{
				recordID:    row.ID,
				description: fmt.Sprintf("Added %s segment %s for week ending %s", in.SegmentType, in.SegmentName, in.WeekEnding),
				next:        in,
			}, nil
		},
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// CorrectUserSegment appends a row that supersedes supersededID.
func (c *Coordinator) CorrectUserSegment(ctx context.Context, supersededID string, in UserSegmentInput, reason string) (*storage.UserSegment, error) {
	row := in.record(&supersededID)
	err := c.mutate(ctx, mutation{
		table:  storage.TableUserSegments,
		op:     "correct",
		reason: reason,
		persist: func(ctx context.Context, s storage.Store) (change, error) {
			original, err := s.GetUserSegment(ctx, supersededID)
			if err != nil {
				return change{}, err
			}
			rows, err := s.ListUserSegments(ctx, storage.ListOptions{})
			if err != nil {
				return change{}, err
			}
			for _, r := range rows {
				if r.SupersedesID != nil && *r.SupersedesID == supersededID {
					return change{}, fmt.Errorf("user segment %s: %w", supersededID, ErrAlreadySuperseded)
				}
			}
			if err := s.InsertUserSegment(ctx, row); err != nil {
				return change{}, err
			}
			return change{
				recordID:    row.ID,
				description: fmt.Sprintf("Corrected %s segment %s for week ending %s", in.SegmentType, in.SegmentName, in.WeekEnding),
				previous:    original,
				next:        in,
			}, nil
		},
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// complianceNote joins the configured notes for every touched column.
func (c *Coordinator) complianceNote(table string, fields storage.Fields) string {
	var notes []string
	for _, k := range fields.SortedKeys() {
		if n, ok := c.notes[table+"."+k]; ok && n != "" {
			notes = append(notes, n)
		}
	}
	return strings.Join(notes, "; ")
}

func copyFields(f storage.Fields) storage.Fields {
	out := make(storage.Fields, len(f)+1)
	for k, v := range f {
		out[k] = v
	}
	return out
}
