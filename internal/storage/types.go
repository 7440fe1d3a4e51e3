package storage

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Table names. These double as the affected_table value in the change log.
const (
	TableWeeklyLogs        = "weekly_logs"
	TableFeatureAdoption   = "feature_adoption"
	TableCohortRetention   = "cohort_retention"
	TableUserSegments      = "user_segments"
	TableMetricDefinitions = "metric_definitions"
	TableChangeLog         = "change_log"
)

// Tables lists every table the engine reads, in fetch order.
var Tables = []string{
	TableWeeklyLogs,
	TableFeatureAdoption,
	TableCohortRetention,
	TableUserSegments,
	TableMetricDefinitions,
	TableChangeLog,
}

// DateLayout is the wire and storage format of calendar dates.
const DateLayout = "2006-01-02"

// Date is a calendar date. A record dated D pertains to the 7-day period ending on D.
type Date struct {
	time.Time
}

// NewDate truncates t to its calendar date in UTC.
func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date{t}, nil
}

// MustParseDate is ParseDate for literals; it panics on malformed input.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	// Accept full timestamps as well, PostgREST renders date columns plainly
	// but timestamptz columns with a time part.
	if len(s) > len(DateLayout) {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("invalid date %q: %w", s, err)
		}
		*d = NewDate(t)
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Value implements driver.Valuer.
func (d Date) Value() (driver.Value, error) {
	return d.String(), nil
}

// Scan implements sql.Scanner for TEXT and DATETIME columns.
func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = Date{}
		return nil
	case time.Time:
		*d = NewDate(v)
		return nil
	case []byte:
		return d.UnmarshalText(v)
	case string:
		return d.UnmarshalText([]byte(v))
	default:
		return fmt.Errorf("cannot scan %T into Date", src)
	}
}

// Fields is a partial row keyed by column name, used for updates and snapshots.
type Fields map[string]any

// ListOptions controls ordering of list reads.
type ListOptions struct {
	OrderBy    string
	Descending bool
	Limit      int
}

// WeeklyLog is one row per reporting week.
type WeeklyLog struct {
	ID                      string         `json:"id"`
	WeekEnding              Date           `json:"week_ending"`
	DAU                     int            `json:"dau"`
	WAU                     int            `json:"wau"`
	MAU                     int            `json:"mau"`
	SessionsPerUser         float64        `json:"sessions_per_user"`
	AvgSessionLengthMinutes float64        `json:"avg_session_length_minutes"`
	RetentionRate           float64        `json:"retention_rate"`
	ChurnRate               float64        `json:"churn_rate"`
	FeatureAdoption         float64        `json:"feature_adoption"`
	EngagementScore         int            `json:"engagement_score"`
	NPSScore                *int           `json:"nps_score"`
	ErrorRate               float64        `json:"error_rate"`
	PHIOptInRate            float64        `json:"phi_opt_in_rate"`
	MobilePercentage        float64        `json:"mobile_percentage"`
	DesktopPercentage       float64        `json:"desktop_percentage"`
	ConversionRate          float64        `json:"conversion_rate"`
	UserGrowth              int            `json:"user_growth"`
	Notes                   string         `json:"notes"`
	Metadata                map[string]any `json:"metadata"`
	RecordedBy              *string        `json:"recorded_by"`
	Version                 int64          `json:"version"`
	CreatedAt               time.Time      `json:"created_at"`
}

// FeatureAdoption is one row per (feature, week). Rows are append-only; a
// correction is a new row whose SupersedesID points at the row it replaces.
type FeatureAdoption struct {
	ID                    string    `json:"id"`
	WeekEnding            Date      `json:"week_ending"`
	FeatureName           string    `json:"feature_name"`
	FeatureCategory       string    `json:"feature_category"`
	UsersCount            int       `json:"users_count"`
	PercentageActiveUsers float64   `json:"percentage_active_users"`
	AvgSessionsPerUser    float64   `json:"avg_sessions_per_user"`
	TotalSessions         int       `json:"total_sessions"`
	AvgDurationMinutes    float64   `json:"avg_duration_minutes"`
	Notes                 string    `json:"notes"`
	SupersedesID          *string   `json:"supersedes_id"`
	CreatedAt             time.Time `json:"created_at"`
}

// CohortRetention is one row per signup cohort. Later horizons are back-filled
// as the cohort ages, so the nullable ones start out nil.
type CohortRetention struct {
	ID               string    `json:"id"`
	CohortSignupWeek Date      `json:"cohort_signup_week"`
	CohortName       *string   `json:"cohort_name"`
	UserCount        int       `json:"user_count"`
	Day1Retention    float64   `json:"day_1_retention"`
	Day7Retention    float64   `json:"day_7_retention"`
	Day14Retention   *float64  `json:"day_14_retention"`
	Day30Retention   float64   `json:"day_30_retention"`
	Day60Retention   *float64  `json:"day_60_retention"`
	Day90Retention   *float64  `json:"day_90_retention"`
	Notes            string    `json:"notes"`
	Version          int64     `json:"version"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Segment types.
const (
	SegmentTier     = "tier"
	SegmentLocation = "location"
	SegmentDevice   = "device"
)

// UserSegment is one row per (segment, week).
type UserSegment struct {
	ID               string    `json:"id"`
	SegmentName      string    `json:"segment_name"`
	SegmentType      string    `json:"segment_type"`
	WeekEnding       Date      `json:"week_ending"`
	UserCount        int       `json:"user_count"`
	DAU              int       `json:"dau"`
	RetentionRate    float64   `json:"retention_rate"`
	EngagementScore  float64   `json:"engagement_score"`
	AvgSessionLength float64   `json:"avg_session_length"`
	ConversionRate   float64   `json:"conversion_rate"`
	Notes            string    `json:"notes"`
	SupersedesID     *string   `json:"supersedes_id"`
	CreatedAt        time.Time `json:"created_at"`
}

// MetricDefinition is static reference data.
type MetricDefinition struct {
	ID         string  `json:"id"`
	MetricName string  `json:"metric_name"`
	Definition string  `json:"definition"`
	Formula    *string `json:"formula"`
	Frequency  string  `json:"frequency"`
	Category   string  `json:"category"`
	Notes      string  `json:"notes"`
}

// ChangeLogEntry is an append-only audit record.
type ChangeLogEntry struct {
	ID                string          `json:"id"`
	ActorID           *string         `json:"actor_id"`
	ActorName         string          `json:"actor_name"`
	ChangeDescription string          `json:"change_description"`
	Reason            *string         `json:"reason"`
	AffectedTable     string          `json:"affected_table"`
	AffectedRecordID  string          `json:"affected_record_id"`
	PreviousValue     json.RawMessage `json:"previous_value"`
	NewValue          json.RawMessage `json:"new_value"`
	ComplianceNote    *string         `json:"compliance_note"`
	CreatedAt         time.Time       `json:"created_at"`
}
