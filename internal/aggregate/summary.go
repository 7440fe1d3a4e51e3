// Package aggregate turns raw record collections into summaries, trend
// series and chart data. Everything here is pure: no I/O, no hidden state.
package aggregate

import (
	"sort"

	"github.com/runnerr0/vitals/internal/storage"
)

// EngagementSummary is the headline view over the most recent weekly log.
type EngagementSummary struct {
	WeekEnding         storage.Date  `json:"week_ending"`
	PreviousWeekEnding *storage.Date `json:"previous_week_ending"`
	DAU                int           `json:"dau"`
	WAU                int           `json:"wau"`
	MAU                int           `json:"mau"`
	SessionsPerUser    float64       `json:"sessions_per_user"`
	AvgSessionLength   float64       `json:"avg_session_length_minutes"`
	RetentionRate      float64       `json:"retention_rate"`
	ChurnRate          float64       `json:"churn_rate"`
	FeatureAdoption    float64       `json:"feature_adoption"`
	EngagementScore    int           `json:"engagement_score"`
	NPSScore           *int          `json:"nps_score"`
	ErrorRate          float64       `json:"error_rate"`
	PHIOptInRate       float64       `json:"phi_opt_in_rate"`
	MobilePercentage   float64       `json:"mobile_percentage"`
	DesktopPercentage  float64       `json:"desktop_percentage"`
	ConversionRate     float64       `json:"conversion_rate"`
	UserGrowth         int           `json:"user_growth"`
	WeekOverWeekGrowth float64       `json:"week_over_week_growth"`
}

// BuildSummary summarizes the newest log. ok is false when there are no logs,
// which callers render as "no data yet".
//
// Logs are expected newest first, as the store lists them; they are re-sorted
// on a copy so a caller-supplied order cannot change the result.
func BuildSummary(logs []storage.WeeklyLog) (EngagementSummary, bool) {
	if len(logs) == 0 {
		return EngagementSummary{}, false
	}
	sorted := sortedByWeek(logs, true)
	latest := sorted[0]

	s := EngagementSummary{
		WeekEnding:        latest.WeekEnding,
		DAU:               latest.DAU,
		WAU:               latest.WAU,
		MAU:               latest.MAU,
		SessionsPerUser:   latest.SessionsPerUser,
		AvgSessionLength:  latest.AvgSessionLengthMinutes,
		RetentionRate:     latest.RetentionRate,
		ChurnRate:         latest.ChurnRate,
		FeatureAdoption:   latest.FeatureAdoption,
		EngagementScore:   latest.EngagementScore,
		NPSScore:          latest.NPSScore,
		ErrorRate:         latest.ErrorRate,
		PHIOptInRate:      latest.PHIOptInRate,
		MobilePercentage:  latest.MobilePercentage,
		DesktopPercentage: latest.DesktopPercentage,
		ConversionRate:    latest.ConversionRate,
		UserGrowth:        latest.UserGrowth,
	}
	if len(sorted) > 1 {
		prev := sorted[1]
		s.PreviousWeekEnding = &prev.WeekEnding
		s.WeekOverWeekGrowth = Growth(latest.DAU, prev.DAU)
	}
	return s, true
}

// Growth is the percentage change from previous to current. A zero previous
// value yields 0 rather than an infinity.
func Growth(current, previous int) float64 {
	if previous == 0 {
		return 0
	}
	return float64(current-previous) / float64(previous) * 100
}

func sortedByWeek(logs []storage.WeeklyLog, newestFirst bool) []storage.WeeklyLog {
	out := make([]storage.WeeklyLog, len(logs))
	copy(out, logs)
	sort.SliceStable(out, func(i, j int) bool {
		if newestFirst {
			return out[i].WeekEnding.After(out[j].WeekEnding.Time)
		}
		return out[i].WeekEnding.Before(out[j].WeekEnding.Time)
	})
	return out
}
