package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// Store is the record store boundary: list/get/insert per table, update for
// the two mutable tables, append for the change log. Inserts assign the ID
// and creation timestamp; callers never invent them.
type Store interface {
	ListWeeklyLogs(ctx context.Context, opts ListOptions) ([]WeeklyLog, error)
	GetWeeklyLog(ctx context.Context, id string) (*WeeklyLog, error)
	InsertWeeklyLog(ctx context.Context, log *WeeklyLog) error
	UpdateWeeklyLog(ctx context.Context, id string, fields Fields, expectedVersion int64) error

	ListFeatureAdoption(ctx context.Context, opts ListOptions) ([]FeatureAdoption, error)
	GetFeatureAdoption(ctx context.Context, id string) (*FeatureAdoption, error)
	InsertFeatureAdoption(ctx context.Context, row *FeatureAdoption) error

	ListCohortRetention(ctx context.Context, opts ListOptions) ([]CohortRetention, error)
	GetCohortRetention(ctx context.Context, id string) (*CohortRetention, error)
	InsertCohortRetention(ctx context.Context, row *CohortRetention) error
	UpdateCohortRetention(ctx context.Context, id string, fields Fields, expectedVersion int64) error

	ListUserSegments(ctx context.Context, opts ListOptions) ([]UserSegment, error)
	GetUserSegment(ctx context.Context, id string) (*UserSegment, error)
	InsertUserSegment(ctx context.Context, row *UserSegment) error

	ListMetricDefinitions(ctx context.Context, opts ListOptions) ([]MetricDefinition, error)

	ListChangeLog(ctx context.Context, opts ListOptions) ([]ChangeLogEntry, error)
	AppendChangeLog(ctx context.Context, entry *ChangeLogEntry) error

	Close() error
}

// Transactor is implemented by stores that can run several writes atomically.
type Transactor interface {
	WithTx(ctx context.Context, fn func(Store) error) error
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Column lists, in scan order.
const (
	weeklyLogColumns = "id, week_ending, dau, wau, mau, sessions_per_user, avg_session_length_minutes, " +
		"retention_rate, churn_rate, feature_adoption, engagement_score, nps_score, error_rate, " +
		"phi_opt_in_rate, mobile_percentage, desktop_percentage, conversion_rate, user_growth, " +
		"notes, metadata, recorded_by, version, created_at"
	featureAdoptionColumns = "id, week_ending, feature_name, feature_category, users_count, " +
		"percentage_active_users, avg_sessions_per_user, total_sessions, avg_duration_minutes, " +
		"notes, supersedes_id, created_at"
	cohortRetentionColumns = "id, cohort_signup_week, cohort_name, user_count, day_1_retention, " +
		"day_7_retention, day_14_retention, day_30_retention, day_60_retention, day_90_retention, " +
		"notes, version, created_at, updated_at"
	userSegmentColumns = "id, segment_name, segment_type, week_ending, user_count, dau, retention_rate, " +
		"engagement_score, avg_session_length, conversion_rate, notes, supersedes_id, created_at"
	metricDefinitionColumns = "id, metric_name, definition, formula, frequency, category, notes"
	changeLogColumns        = "id, actor_id, actor_name, change_description, reason, affected_table, " +
		"affected_record_id, previous_value, new_value, compliance_note, created_at"
)

// timestampLayout is fixed width so that TEXT ordering is chronological.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store backed by a SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	q    dbtx
	inTx bool
	now  func() time.Time
}

// NewSQLiteStore creates a new SQLiteStore from an already-opened and migrated database.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n); err != nil {
		return nil, fmt.Errorf("check schema: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("check schema: database has not been migrated")
	}
	return &SQLiteStore{db: db, q: db, now: time.Now}, nil
}

// SetClock overrides the creation-time source (tests).
func (s *SQLiteStore) SetClock(now func() time.Time) {
	s.now = now
}

// WithTx runs fn against a store bound to a single transaction. Nested calls
// reuse the outer transaction.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(&SQLiteStore{db: s.db, q: tx, inTx: true, now: s.now}); err != nil {
		return err
	}
	return tx.Commit()
}

// Close is a no-op; the underlying *sql.DB is owned by the caller.
func (s *SQLiteStore) Close() error {
	return nil
}

func newID() string {
	return uuid.NewString()
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// parseTimestamp tries several common SQLite timestamp formats.
func parseTimestamp(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05.999999999-07:00",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse timestamp: %s", s)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// mapError translates driver constraint errors into storage sentinels.
func mapError(err error) error {
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) && sqErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullableFloat(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullableString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return string(raw)
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	return &n.Float64
}

func stringPtr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	return &n.String
}

func encodeMetadata(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(data), nil
}

// sqlValue converts a normalized field value into a driver argument.
func sqlValue(v any) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		return encodeMetadata(x)
	case time.Time:
		return formatTimestamp(x), nil
	default:
		return v, nil
	}
}

// orderColumn resolves opts against the table's columns.
func orderColumn(columns string, opts ListOptions, defaultCol string, defaultDesc bool) (string, bool, error) {
	if opts.OrderBy == "" {
		return defaultCol, defaultDesc, nil
	}
	for _, c := range strings.Split(columns, ", ") {
		if c == opts.OrderBy {
			return c, opts.Descending, nil
		}
	}
	return "", false, fmt.Errorf("cannot order by %q: %w", opts.OrderBy, ErrUnknownField)
}

// orderClause renders ORDER BY/LIMIT; rowid breaks ties in insertion order.
func orderClause(columns string, opts ListOptions, defaultCol string, defaultDesc bool) (string, error) {
	col, desc, err := orderColumn(columns, opts, defaultCol, defaultDesc)
	if err != nil {
		return "", err
	}
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	clause := fmt.Sprintf(" ORDER BY %s %s, rowid %s", col, dir, dir)
	if opts.Limit > 0 {
		clause += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	return clause, nil
}

func listRows[T any](ctx context.Context, q dbtx, table, columns, order string, scan func(rowScanner) (T, error)) ([]T, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+columns+" FROM "+table+order)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func getRow[T any](ctx context.Context, q dbtx, table, columns, id string, scan func(rowScanner) (T, error)) (*T, error) {
	row := q.QueryRowContext(ctx, "SELECT "+columns+" FROM "+table+" WHERE id = ?", id)
	v, err := scan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
		}
		return nil, fmt.Errorf("get %s: %w", table, err)
	}
	return &v, nil
}

// updateRow applies fields to a versioned row. A positive expectedVersion
// turns the write into a compare-and-set.
func (s *SQLiteStore) updateRow(ctx context.Context, table, id string, fields Fields, expectedVersion int64) error {
	norm, err := NormalizeFields(table, fields)
	if err != nil {
		return err
	}
	if len(norm) == 0 {
		return fmt.Errorf("update %s %s: no fields given", table, id)
	}

	sets := make([]string, 0, len(norm)+1)
	args := make([]any, 0, len(norm)+2)
	for _, k := range norm.SortedKeys() {
		v, err := sqlValue(norm[k])
		if err != nil {
			return err
		}
		sets = append(sets, k+" = ?")
		args = append(args, v)
	}
	if table == TableCohortRetention && !norm.Has("updated_at") {
		sets = append(sets, "updated_at = ?")
		args = append(args, formatTimestamp(s.now()))
	}
	sets = append(sets, "version = version + 1")

	query := "UPDATE " + table + " SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	args = append(args, id)
	if expectedVersion > 0 {
		query += " AND version = ?"
		args = append(args, expectedVersion)
	}

	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", table, mapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var exists int
	if err := s.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+" WHERE id = ?", id).Scan(&exists); err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	if exists == 0 {
		return fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
	}
	return fmt.Errorf("%s %s at version %d: %w", table, id, expectedVersion, ErrStaleWrite)
}

// ── Weekly logs ────────────────────────────────────────────────

func scanWeeklyLog(sc rowScanner) (WeeklyLog, error) {
	var (
		l          WeeklyLog
		nps        sql.NullInt64
		meta       string
		recordedBy sql.NullString
		created    string
	)
	err := sc.Scan(
		&l.ID, &l.WeekEnding, &l.DAU, &l.WAU, &l.MAU, &l.SessionsPerUser, &l.AvgSessionLengthMinutes,
		&l.RetentionRate, &l.ChurnRate, &l.FeatureAdoption, &l.EngagementScore, &nps, &l.ErrorRate,
		&l.PHIOptInRate, &l.MobilePercentage, &l.DesktopPercentage, &l.ConversionRate, &l.UserGrowth,
		&l.Notes, &meta, &recordedBy, &l.Version, &created,
	)
	if err != nil {
		return l, err
	}
	l.NPSScore = intPtr(nps)
	l.RecordedBy = stringPtr(recordedBy)
	l.Metadata = map[string]any{}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &l.Metadata); err != nil {
			return l, fmt.Errorf("decode metadata: %w", err)
		}
	}
	l.CreatedAt, _ = parseTimestamp(created)
	return l, nil
}

// ListWeeklyLogs returns weekly logs, newest week first unless opts says otherwise.
func (s *SQLiteStore) ListWeeklyLogs(ctx context.Context, opts ListOptions) ([]WeeklyLog, error) {
	order, err := orderClause(weeklyLogColumns, opts, "week_ending", true)
	if err != nil {
		return nil, err
	}
	return listRows(ctx, s.q, TableWeeklyLogs, weeklyLogColumns, order, scanWeeklyLog)
}

// GetWeeklyLog retrieves a single weekly log by ID.
func (s *SQLiteStore) GetWeeklyLog(ctx context.Context, id string) (*WeeklyLog, error) {
	return getRow(ctx, s.q, TableWeeklyLogs, weeklyLogColumns, id, scanWeeklyLog)
}

// InsertWeeklyLog stores l and populates its ID, Version and CreatedAt.
func (s *SQLiteStore) InsertWeeklyLog(ctx context.Context, l *WeeklyLog) error {
	meta, err := encodeMetadata(l.Metadata)
	if err != nil {
		return err
	}
	id, created := newID(), s.now().UTC()

	_, err = s.q.ExecContext(ctx,
		"INSERT INTO weekly_logs ("+weeklyLogColumns+") VALUES ("+placeholders(23)+")",
		id, l.WeekEnding, l.DAU, l.WAU, l.MAU, l.SessionsPerUser, l.AvgSessionLengthMinutes,
		l.RetentionRate, l.ChurnRate, l.FeatureAdoption, l.EngagementScore, nullableInt(l.NPSScore), l.ErrorRate,
		l.PHIOptInRate, l.MobilePercentage, l.DesktopPercentage, l.ConversionRate, l.UserGrowth,
		l.Notes, meta, nullableString(l.RecordedBy), 1, formatTimestamp(created),
	)
	if err != nil {
		return fmt.Errorf("insert weekly log: %w", mapError(err))
	}

	l.ID, l.Version, l.CreatedAt = id, 1, created
	if l.Metadata == nil {
		l.Metadata = map[string]any{}
	}
	return nil
}

// UpdateWeeklyLog applies a partial update.
func (s *SQLiteStore) UpdateWeeklyLog(ctx context.Context, id string, fields Fields, expectedVersion int64) error {
	return s.updateRow(ctx, TableWeeklyLogs, id, fields, expectedVersion)
}

// ── Feature adoption ───────────────────────────────────────────

func scanFeatureAdoption(sc rowScanner) (FeatureAdoption, error) {
	var (
		f          FeatureAdoption
		supersedes sql.NullString
		created    string
	)
	err := sc.Scan(
		&f.ID, &f.WeekEnding, &f.FeatureName, &f.FeatureCategory, &f.UsersCount,
		&f.PercentageActiveUsers, &f.AvgSessionsPerUser, &f.TotalSessions, &f.AvgDurationMinutes,
		&f.Notes, &supersedes, &created,
	)
	if err != nil {
		return f, err
	}
	f.SupersedesID = stringPtr(supersedes)
	f.CreatedAt, _ = parseTimestamp(created)
	return f, nil
}

// ListFeatureAdoption returns feature adoption rows, newest week first by default.
func (s *SQLiteStore) ListFeatureAdoption(ctx context.Context, opts ListOptions) ([]FeatureAdoption, error) {
	order, err := orderClause(featureAdoptionColumns, opts, "week_ending", true)
	if err != nil {
		return nil, err
	}
	return listRows(ctx, s.q, TableFeatureAdoption, featureAdoptionColumns, order, scanFeatureAdoption)
}

// GetFeatureAdoption retrieves a single feature adoption row by ID.
func (s *SQLiteStore) GetFeatureAdoption(ctx context.Context, id string) (*FeatureAdoption, error) {
	return getRow(ctx, s.q, TableFeatureAdoption, featureAdoptionColumns, id, scanFeatureAdoption)
}

// InsertFeatureAdoption stores f and populates its ID and CreatedAt.
func (s *SQLiteStore) InsertFeatureAdoption(ctx context.Context, f *FeatureAdoption) error {
	id, created := newID(), s.now().UTC()
	_, err := s.q.ExecContext(ctx,
		"INSERT INTO feature_adoption ("+featureAdoptionColumns+") VALUES ("+placeholders(12)+")",
		id, f.WeekEnding, f.FeatureName, f.FeatureCategory, f.UsersCount,
		f.PercentageActiveUsers, f.AvgSessionsPerUser, f.TotalSessions, f.AvgDurationMinutes,
		f.Notes, nullableString(f.SupersedesID), formatTimestamp(created),
	)
	if err != nil {
		return fmt.Errorf("insert feature adoption: %w", mapError(err))
	}
	f.ID, f.CreatedAt = id, created
	return nil
}

// ── Cohort retention ───────────────────────────────────────────

func scanCohortRetention(sc rowScanner) (CohortRetention, error) {
	var (
		c                   CohortRetention
		name                sql.NullString
		d14, d60, d90       sql.NullFloat64
		created, updatedStr string
	)
	err := sc.Scan(
		&c.ID, &c.CohortSignupWeek, &name, &c.UserCount, &c.Day1Retention,
		&c.Day7Retention, &d14, &c.Day30Retention, &d60, &d90,
		&c.Notes, &c.Version, &created, &updatedStr,
	)
	if err != nil {
		return c, err
	}
	c.CohortName = stringPtr(name)
	c.Day14Retention, c.Day60Retention, c.Day90Retention = floatPtr(d14), floatPtr(d60), floatPtr(d90)
	c.CreatedAt, _ = parseTimestamp(created)
	c.UpdatedAt, _ = parseTimestamp(updatedStr)
	return c, nil
}

// ListCohortRetention returns cohorts, newest signup week first by default.
func (s *SQLiteStore) ListCohortRetention(ctx context.Context, opts ListOptions) ([]CohortRetention, error) {
	order, err := orderClause(cohortRetentionColumns, opts, "cohort_signup_week", true)
	if err != nil {
		return nil, err
	}
	return listRows(ctx, s.q, TableCohortRetention, cohortRetentionColumns, order, scanCohortRetention)
}

// GetCohortRetention retrieves a single cohort by ID.
func (s *SQLiteStore) GetCohortRetention(ctx context.Context, id string) (*CohortRetention, error) {
	return getRow(ctx, s.q, TableCohortRetention, cohortRetentionColumns, id, scanCohortRetention)
}

// InsertCohortRetention stores c and populates ID, Version, CreatedAt and UpdatedAt.
func (s *SQLiteStore) InsertCohortRetention(ctx context.Context, c *CohortRetention) error {
	id, created := newID(), s.now().UTC()
	_, err := s.q.ExecContext(ctx,
		"INSERT INTO cohort_retention ("+cohortRetentionColumns+") VALUES ("+placeholders(14)+")",
		id, c.CohortSignupWeek, nullableString(c.CohortName), c.UserCount, c.Day1Retention,
		c.Day7Retention, nullableFloat(c.Day14Retention), c.Day30Retention,
		nullableFloat(c.Day60Retention), nullableFloat(c.Day90Retention),
		c.Notes, 1, formatTimestamp(created), formatTimestamp(created),
	)
	if err != nil {
		return fmt.Errorf("insert cohort retention: %w", mapError(err))
	}
	c.ID, c.Version, c.CreatedAt, c.UpdatedAt = id, 1, created, created
	return nil
}

// UpdateCohortRetention applies a partial update.
func (s *SQLiteStore) UpdateCohortRetention(ctx context.Context, id string, fields Fields, expectedVersion int64) error {
	return s.updateRow(ctx, TableCohortRetention, id, fields, expectedVersion)
}

// ── User segments ──────────────────────────────────────────────

func scanUserSegment(sc rowScanner) (UserSegment, error) {
	var (
		u          UserSegment
		supersedes sql.NullString
		created    string
	)
	err := sc.Scan(
		&u.ID, &u.SegmentName, &u.SegmentType, &u.WeekEnding, &u.UserCount, &u.DAU, &u.RetentionRate,
		&u.EngagementScore, &u.AvgSessionLength, &u.ConversionRate, &u.Notes, &supersedes, &created,
	)
	if err != nil {
		return u, err
	}
	u.SupersedesID = stringPtr(supersedes)
	u.CreatedAt, _ = parseTimestamp(created)
	return u, nil
}

// ListUserSegments returns segment rows, newest week first by default.
func (s *SQLiteStore) ListUserSegments(ctx context.Context, opts ListOptions) ([]UserSegment, error) {
	order, err := orderClause(userSegmentColumns, opts, "week_ending", true)
	if err != nil {
		return nil, err
	}
	return listRows(ctx, s.q, TableUserSegments, userSegmentColumns, order, scanUserSegment)
}

// GetUserSegment retrieves a single segment row by ID.
func (s *SQLiteStore) GetUserSegment(ctx context.Context, id string) (*UserSegment, error) {
	return getRow(ctx, s.q, TableUserSegments, userSegmentColumns, id, scanUserSegment)
}

// InsertUserSegment stores u and populates its ID and CreatedAt.
func (s *SQLiteStore) InsertUserSegment(ctx context.Context, u *UserSegment) error {
	id, created := newID(), s.now().UTC()
	_, err := s.q.ExecContext(ctx,
		"INSERT INTO user_segments ("+userSegmentColumns+") VALUES ("+placeholders(13)+")",
		id, u.SegmentName, u.SegmentType, u.WeekEnding, u.UserCount, u.DAU, u.RetentionRate,
		u.EngagementScore, u.AvgSessionLength, u.ConversionRate, u.Notes,
		nullableString(u.SupersedesID), formatTimestamp(created),
	)
	if err != nil {
		return fmt.Errorf("insert user segment: %w", mapError(err))
	}
	u.ID, u.CreatedAt = id, created
	return nil
}

// ── Metric definitions ─────────────────────────────────────────

func scanMetricDefinition(sc rowScanner) (MetricDefinition, error) {
	var (
		d       MetricDefinition
		formula sql.NullString
	)
	err := sc.Scan(&d.ID, &d.MetricName, &d.Definition, &formula, &d.Frequency, &d.Category, &d.Notes)
	d.Formula = stringPtr(formula)
	return d, err
}

// ListMetricDefinitions returns the reference definitions, by name.
func (s *SQLiteStore) ListMetricDefinitions(ctx context.Context, opts ListOptions) ([]MetricDefinition, error) {
	order, err := orderClause(metricDefinitionColumns, opts, "metric_name", false)
	if err != nil {
		return nil, err
	}
	return listRows(ctx, s.q, TableMetricDefinitions, metricDefinitionColumns, order, scanMetricDefinition)
}

// ── Change log ─────────────────────────────────────────────────

func scanChangeLogEntry(sc rowScanner) (ChangeLogEntry, error) {
	var (
		e                     ChangeLogEntry
		actorID, reason, note sql.NullString
		prev, next            sql.NullString
		created               string
	)
	err := sc.Scan(
		&e.ID, &actorID, &e.ActorName, &e.ChangeDescription, &reason, &e.AffectedTable,
		&e.AffectedRecordID, &prev, &next, &note, &created,
	)
	if err != nil {
		return e, err
	}
	e.ActorID, e.Reason, e.ComplianceNote = stringPtr(actorID), stringPtr(reason), stringPtr(note)
	if prev.Valid {
		e.PreviousValue = json.RawMessage(prev.String)
	}
	if next.Valid {
		e.NewValue = json.RawMessage(next.String)
	}
	e.CreatedAt, _ = parseTimestamp(created)
	return e, nil
}

// ListChangeLog returns audit entries, newest first by default.
func (s *SQLiteStore) ListChangeLog(ctx context.Context, opts ListOptions) ([]ChangeLogEntry, error) {
	order, err := orderClause(changeLogColumns, opts, "created_at", true)
	if err != nil {
		return nil, err
	}
	return listRows(ctx, s.q, TableChangeLog, changeLogColumns, order, scanChangeLogEntry)
}

// AppendChangeLog stores e and populates its ID and CreatedAt.
func (s *SQLiteStore) AppendChangeLog(ctx context.Context, e *ChangeLogEntry) error {
	id, created := newID(), s.now().UTC()
	_, err := s.q.ExecContext(ctx,
		"INSERT INTO change_log ("+changeLogColumns+") VALUES ("+placeholders(11)+")",
		id, nullableString(e.ActorID), e.ActorName, e.ChangeDescription, nullableString(e.Reason),
		e.AffectedTable, e.AffectedRecordID, nullableJSON(e.PreviousValue), nullableJSON(e.NewValue),
		nullableString(e.ComplianceNote), formatTimestamp(created),
	)
	if err != nil {
		return fmt.Errorf("append change log: %w", mapError(err))
	}
	e.ID, e.CreatedAt = id, created
	return nil
}
