package audit

import (
	"time"

	"github.com/runnerr0/vitals/internal/storage"
)

// WeeklyLogInput is a weekly log as submitted: no id, no timestamps and no
// engagement score, which is always derived.
type WeeklyLogInput struct {
	WeekEnding              storage.Date   `json:"week_ending" validate:"required"`
	DAU                     int            `json:"dau" validate:"min=0"`
	WAU                     int            `json:"wau" validate:"min=0"`
	MAU                     int            `json:"mau" validate:"min=0"`
	SessionsPerUser         float64        `json:"sessions_per_user" validate:"min=0"`
	AvgSessionLengthMinutes float64        `json:"avg_session_length_minutes" validate:"min=0"`
	RetentionRate           float64        `json:"retention_rate" validate:"min=0,max=100"`
	ChurnRate               float64        `json:"churn_rate" validate:"min=0,max=100"`
	FeatureAdoption         float64        `json:"feature_adoption" validate:"min=0,max=100"`
	NPSScore                *int           `json:"nps_score" validate:"omitempty,min=-100,max=100"`
	ErrorRate               float64        `json:"error_rate" validate:"min=0,max=100"`
	PHIOptInRate            float64        `json:"phi_opt_in_rate" validate:"min=0,max=100"`
	MobilePercentage        float64        `json:"mobile_percentage" validate:"min=0,max=100"`
	DesktopPercentage       float64        `json:"desktop_percentage" validate:"min=0,max=100"`
	ConversionRate          float64        `json:"conversion_rate" validate:"min=0,max=100"`
	UserGrowth              int            `json:"user_growth"`
	Notes                   string         `json:"notes"`
	Metadata                map[string]any `json:"metadata"`
	RecordedBy              *string        `json:"recorded_by"`
}

func (in WeeklyLogInput) record(score int) *storage.WeeklyLog {
	return &storage.WeeklyLog{
		WeekEnding:              in.WeekEnding,
		DAU:                     in.DAU,
		WAU:                     in.WAU,
		MAU:                     in.MAU,
		SessionsPerUser:         in.SessionsPerUser,
		AvgSessionLengthMinutes: in.AvgSessionLengthMinutes,
		RetentionRate:           in.RetentionRate,
		ChurnRate:               in.ChurnRate,
		FeatureAdoption:         in.FeatureAdoption,
		EngagementScore:         score,
		NPSScore:                in.NPSScore,
		ErrorRate:               in.ErrorRate,
		PHIOptInRate:            in.PHIOptInRate,
		MobilePercentage:        in.MobilePercentage,
		DesktopPercentage:       in.DesktopPercentage,
		ConversionRate:          in.ConversionRate,
		UserGrowth:              in.UserGrowth,
		Notes:                   in.Notes,
		Metadata:                in.Metadata,
		RecordedBy:              in.RecordedBy,
	}
}

// FeatureAdoptionInput is one feature observation for a week.
type FeatureAdoptionInput struct {
	WeekEnding            storage.Date `json:"week_ending" validate:"required"`
	FeatureName           string       `json:"feature_name" validate:"required,max=120"`
	FeatureCategory       string       `json:"feature_category" validate:"max=60"`
	UsersCount            int          `json:"users_count" validate:"min=0"`
	PercentageActiveUsers float64      `json:"percentage_active_users" validate:"min=0,max=100"`
	AvgSessionsPerUser    float64      `json:"avg_sessions_per_user" validate:"min=0"`
	TotalSessions         int          `json:"total_sessions" validate:"min=0"`
	AvgDurationMinutes    float64      `json:"avg_duration_minutes" validate:"min=0"`
	Notes                 string       `json:"notes"`
}

func (in FeatureAdoptionInput) record(supersedes *string) *storage.FeatureAdoption {
	return &storage.FeatureAdoption{
		WeekEnding:            in.WeekEnding,
		FeatureName:           in.FeatureName,
		FeatureCategory:       in.FeatureCategory,
		UsersCount:            in.UsersCount,
		PercentageActiveUsers: in.PercentageActiveUsers,
		AvgSessionsPerUser:    in.AvgSessionsPerUser,
		TotalSessions:         in.TotalSessions,
		AvgDurationMinutes:    in.AvgDurationMinutes,
		Notes:                 in.Notes,
		SupersedesID:          supersedes,
	}
}

// CohortRetentionInput is a signup cohort with the horizons observed so far.
type CohortRetentionInput struct {
	CohortSignupWeek storage.Date `json:"cohort_signup_week" validate:"required"`
	CohortName       *string      `json:"cohort_name" validate:"omitempty,max=120"`
	UserCount        int          `json:"user_count" validate:"min=0"`
	Day1Retention    float64      `json:"day_1_retention" validate:"min=0,max=100"`
	Day7Retention    float64      `json:"day_7_retention" validate:"min=0,max=100"`
	Day14Retention   *float64     `json:"day_14_retention" validate:"omitempty,min=0,max=100"`
	Day30Retention   float64      `json:"day_30_retention" validate:"min=0,max=100"`
	Day60Retention   *float64     `json:"day_60_retention" validate:"omitempty,min=0,max=100"`
	Day90Retention   *float64     `json:"day_90_retention" validate:"omitempty,min=0,max=100"`
	Notes            string       `json:"notes"`
}

func (in CohortRetentionInput) record() *storage.CohortRetention {
	return &storage.CohortRetention{
		CohortSignupWeek: in.CohortSignupWeek,
		CohortName:       in.CohortName,
		UserCount:        in.UserCount,
		Day1Retention:    in.Day1Retention,
		Day7Retention:    in.Day7Retention,
		Day14Retention:   in.Day14Retention,
		Day30Retention:   in.Day30Retention,
		Day60Retention:   in.Day60Retention,
		Day90Retention:   in.Day90Retention,
		Notes:            in.Notes,
	}
}

// UserSegmentInput is one segment observation for a week.
type UserSegmentInput struct {
	SegmentName      string       `json:"segment_name" validate:"required,max=120"`
	SegmentType      string       `json:"segment_type" validate:"required,oneof=tier location device"`
	WeekEnding       storage.Date `json:"week_ending" validate:"required"`
	UserCount        int          `json:"user_count" validate:"min=0"`
	DAU              int          `json:"dau" validate:"min=0"`
	RetentionRate    float64      `json:"retention_rate" validate:"min=0,max=100"`
	EngagementScore  float64      `json:"engagement_score" validate:"min=0,max=100"`
	AvgSessionLength float64      `json:"avg_session_length" validate:"min=0"`
	ConversionRate   float64      `json:"conversion_rate" validate:"min=0,max=100"`
	Notes            string       `json:"notes"`
}

func (in UserSegmentInput) record(supersedes *string) *storage.UserSegment {
	return &storage.UserSegment{
		SegmentName:      in.SegmentName,
		SegmentType:      in.SegmentType,
		WeekEnding:       in.WeekEnding,
		UserCount:        in.UserCount,
		DAU:              in.DAU,
		RetentionRate:    in.RetentionRate,
		EngagementScore:  in.EngagementScore,
		AvgSessionLength: in.AvgSessionLength,
		ConversionRate:   in.ConversionRate,
		Notes:            in.Notes,
		SupersedesID:     supersedes,
	}
}

// UpdateOptions qualify an update.
type UpdateOptions struct {
	// ExpectedVersion, when positive, makes the update fail with
	// storage.ErrStaleWrite if the row has moved on. Zero is last-write-wins.
	ExpectedVersion int64
	Reason          string
	ComplianceNote  string
}

// ChangeInput is a change-log entry before actor resolution.
type ChangeInput struct {
	Description    string
	Reason         string
	ComplianceNote string
	Table          string
	RecordID       string
	Previous       any
	New            any
	// Actor overrides the resolver when set.
	Actor *Actor
	// Annotation marks an entry that records no data write. Reconciliation
	// does not count it against the row.
	Annotation bool
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func later(now, prior time.Time) time.Time {
	if now.After(prior) {
		return now
	}
	return prior.Add(time.Microsecond)
}
