// Package scoring computes the composite engagement score.
package scoring

import "math"

// Term weights. Adoption and retention are already percentages, so their
// weight applies to the raw value.
const (
	weightDAU       = 0.4
	weightSession   = 0.2
	weightAdoption  = 0.2
	weightRetention = 0.2
)

// Targets are the values at which the DAU and session-length terms saturate.
type Targets struct {
	DAU           float64 `yaml:"target_dau" json:"target_dau"`
	SessionLength float64 `yaml:"target_session_minutes" json:"target_session_minutes"`
}

// DefaultTargets saturates at 150 daily actives and 15 minute sessions.
var DefaultTargets = Targets{DAU: 150, SessionLength: 15}

// Terms is the weighted contribution of each input, before rounding.
type Terms struct {
	DAU       float64 `json:"dau"`
	Session   float64 `json:"session"`
	Adoption  float64 `json:"adoption"`
	Retention float64 `json:"retention"`
}

// Total is the unrounded sum of the terms.
func (t Terms) Total() float64 {
	return t.DAU + t.Session + t.Adoption + t.Retention
}

// Breakdown returns the weighted terms behind a score.
func Breakdown(dau, avgSessionLengthMinutes, featureAdoptionRate, retentionRate float64, targets Targets) Terms {
	return Terms{
		DAU:       ratio(dau, targets.DAU) * 100 * weightDAU,
		Session:   ratio(avgSessionLengthMinutes, targets.SessionLength) * 100 * weightSession,
		Adoption:  featureAdoptionRate * weightAdoption,
		Retention: retentionRate * weightRetention,
	}
}

// ComputeEngagementScore blends activity, session depth, feature adoption and
// retention into a single score. Inputs in their expected ranges yield a
// value in [0,100]; negative inputs are not rejected and may push the result
// below zero, which callers can detect with InRange.
func ComputeEngagementScore(dau, avgSessionLengthMinutes, featureAdoptionRate, retentionRate float64, targets Targets) int {
	total := Breakdown(dau, avgSessionLengthMinutes, featureAdoptionRate, retentionRate, targets).Total()
	if math.IsNaN(total) {
		return 0
	}
	return int(math.Round(total))
}

// Score computes the engagement score against DefaultTargets.
func Score(dau, avgSessionLengthMinutes, featureAdoptionRate, retentionRate float64) int {
	return ComputeEngagementScore(dau, avgSessionLengthMinutes, featureAdoptionRate, retentionRate, DefaultTargets)
}

// InRange reports whether score lies in [0,100].
func InRange(score int) bool {
	return score >= 0 && score <= 100
}

// ratio is value/target capped at 1. A non-positive target contributes nothing.
func ratio(value, target float64) float64 {
	if target <= 0 {
		return 0
	}
	return math.Min(value/target, 1)
}
