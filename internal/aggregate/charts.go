package aggregate

import (
	"sort"
	"strings"

	"github.com/runnerr0/vitals/internal/storage"
)

// Slice is one labelled share of a whole, for pie and bar charts.
type Slice struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// PlatformSplit is the mobile/desktop share from the most recent weekly log.
func PlatformSplit(logs []storage.WeeklyLog) []Slice {
	if len(logs) == 0 {
		return []Slice{}
	}
	latest := sortedByWeek(logs, true)[0]
	return []Slice{
		{Name: "Mobile", Value: latest.MobilePercentage},
		{Name: "Desktop", Value: latest.DesktopPercentage},
	}
}

// excludeSuperseded drops every row some other row supersedes.
func excludeSuperseded[T any](rows []T, id func(T) string, supersedes func(T) *string) []T {
	replaced := make(map[string]bool)
	for _, r := range rows {
		if p := supersedes(r); p != nil {
			replaced[*p] = true
		}
	}
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		if !replaced[id(r)] {
			out = append(out, r)
		}
	}
	return out
}

// CurrentFeatureAdoption returns the observations not replaced by a correction.
func CurrentFeatureAdoption(rows []storage.FeatureAdoption) []storage.FeatureAdoption {
	return excludeSuperseded(rows,
		func(r storage.FeatureAdoption) string { return r.ID },
		func(r storage.FeatureAdoption) *string { return r.SupersedesID })
}

// CurrentUserSegments returns the observations not replaced by a correction.
func CurrentUserSegments(rows []storage.UserSegment) []storage.UserSegment {
	return excludeSuperseded(rows,
		func(r storage.UserSegment) string { return r.ID },
		func(r storage.UserSegment) *string { return r.SupersedesID })
}

// LatestSegments returns current segment rows of the most recent week,
// optionally restricted to one segment type, ordered by type then name.
func LatestSegments(rows []storage.UserSegment, segmentType string) []storage.UserSegment {
	var candidates []storage.UserSegment
	for _, r := range CurrentUserSegments(rows) {
		if segmentType == "" || r.SegmentType == segmentType {
			candidates = append(candidates, r)
		}
	}
	out := make([]storage.UserSegment, 0)
	if len(candidates) == 0 {
		return out
	}

	latest := candidates[0].WeekEnding
	for _, r := range candidates[1:] {
		if r.WeekEnding.After(latest.Time) {
			latest = r.WeekEnding
		}
	}
	for _, r := range candidates {
		if r.WeekEnding.Equal(latest.Time) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SegmentType != out[j].SegmentType {
			return out[i].SegmentType < out[j].SegmentType
		}
		return out[i].SegmentName < out[j].SegmentName
	})
	return out
}

// FeatureLeaderboard ranks the features of the most recent week by share of
// active users, highest first.
func FeatureLeaderboard(rows []storage.FeatureAdoption) []storage.FeatureAdoption {
	current := CurrentFeatureAdoption(rows)
	out := make([]storage.FeatureAdoption, 0)
	if len(current) == 0 {
		return out
	}

	latest := current[0].WeekEnding
	for _, r := range current[1:] {
		if r.WeekEnding.After(latest.Time) {
			latest = r.WeekEnding
		}
	}
	for _, r := range current {
		if r.WeekEnding.Equal(latest.Time) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PercentageActiveUsers != out[j].PercentageActiveUsers {
			return out[i].PercentageActiveUsers > out[j].PercentageActiveUsers
		}
		return strings.ToLower(out[i].FeatureName) < strings.ToLower(out[j].FeatureName)
	})
	return out
}

// HorizonPoint is a cohort's retention at day N after signup.
type HorizonPoint struct {
	Day       int     `json:"day"`
	Retention float64 `json:"retention"`
}

// CohortCurve is one cohort's retention decay, observed horizons only.
type CohortCurve struct {
	ID         string         `json:"id"`
	Label      string         `json:"label"`
	SignupWeek storage.Date   `json:"cohort_signup_week"`
	UserCount  int            `json:"user_count"`
	Points     []HorizonPoint `json:"points"`
}

// CohortCurves builds one curve per cohort, newest signup week first. limit
// caps the number of cohorts; zero means all.
func CohortCurves(cohorts []storage.CohortRetention, limit int) []CohortCurve {
	sorted := make([]storage.CohortRetention, len(cohorts))
	copy(sorted, cohorts)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CohortSignupWeek.After(sorted[j].CohortSignupWeek.Time)
	})
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}

	out := make([]CohortCurve, 0, len(sorted))
	for _, c := range sorted {
		label := c.CohortSignupWeek.String()
		if c.CohortName != nil && *c.CohortName != "" {
			label = *c.CohortName
		}
		points := []HorizonPoint{
			{Day: 1, Retention: c.Day1Retention},
			{Day: 7, Retention: c.Day7Retention},
		}
		if c.Day14Retention != nil {
			points = append(points, HorizonPoint{Day: 14, Retention: *c.Day14Retention})
		}
		points = append(points, HorizonPoint{Day: 30, Retention: c.Day30Retention})
		if c.Day60Retention != nil {
			points = append(points, HorizonPoint{Day: 60, Retention: *c.Day60Retention})
		}
		if c.Day90Retention != nil {
			points = append(points, HorizonPoint{Day: 90, Retention: *c.Day90Retention})
		}
		out = append(out, CohortCurve{
			ID:         c.ID,
			Label:      label,
			SignupWeek: c.CohortSignupWeek,
			UserCount:  c.UserCount,
			Points:     points,
		})
	}
	return out
}

func sortPoints(points []Point) {
	sort.SliceStable(points, func(i, j int) bool { return points[i].Date < points[j].Date })
}
