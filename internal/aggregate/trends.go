package aggregate

import "github.com/runnerr0/vitals/internal/storage"

// Point is one chart sample.
type Point struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// Trends holds one series per tracked weekly metric, oldest week first.
type Trends struct {
	DAU             []Point `json:"dau"`
	WAU             []Point `json:"wau"`
	MAU             []Point `json:"mau"`
	EngagementScore []Point `json:"engagement_score"`
	RetentionRate   []Point `json:"retention_rate"`
	ChurnRate       []Point `json:"churn_rate"`
	NPS             []Point `json:"nps"`
}

// SeriesNames lists the trend series in display order.
var SeriesNames = []string{"dau", "wau", "mau", "engagement_score", "retention_rate", "churn_rate", "nps"}

// Series returns the named series, or nil for an unknown name.
func (t Trends) Series(name string) []Point {
	switch name {
	case "dau":
		return t.DAU
	case "wau":
		return t.WAU
	case "mau":
		return t.MAU
	case "engagement_score":
		return t.EngagementScore
	case "retention_rate":
		return t.RetentionRate
	case "churn_rate":
		return t.ChurnRate
	case "nps":
		return t.NPS
	}
	return nil
}

// BuildTrends projects logs into ascending-by-week series, one point per log
// in every series. A missing NPS is charted as 0.
func BuildTrends(logs []storage.WeeklyLog) Trends {
	sorted := sortedByWeek(logs, false)
	n := len(sorted)
	t := Trends{
		DAU:             make([]Point, 0, n),
		WAU:             make([]Point, 0, n),
		MAU:             make([]Point, 0, n),
		EngagementScore: make([]Point, 0, n),
		RetentionRate:   make([]Point, 0, n),
		ChurnRate:       make([]Point, 0, n),
		NPS:             make([]Point, 0, n),
	}
	for _, l := range sorted {
		date := l.WeekEnding.String()
		nps := 0.0
		if l.NPSScore != nil {
			nps = float64(*l.NPSScore)
		}
		t.DAU = append(t.DAU, Point{date, float64(l.DAU)})
		t.WAU = append(t.WAU, Point{date, float64(l.WAU)})
		t.MAU = append(t.MAU, Point{date, float64(l.MAU)})
		t.EngagementScore = append(t.EngagementScore, Point{date, float64(l.EngagementScore)})
		t.RetentionRate = append(t.RetentionRate, Point{date, l.RetentionRate})
		t.ChurnRate = append(t.ChurnRate, Point{date, l.ChurnRate})
		t.NPS = append(t.NPS, Point{date, nps})
	}
	return t
}

// FeatureTrend is the adoption percentage of one feature over time, oldest
// week first, using only current (non-superseded) observations.
func FeatureTrend(rows []storage.FeatureAdoption, featureName string) []Point {
	current := CurrentFeatureAdoption(rows)
	out := make([]Point, 0)
	for _, r := range current {
		if r.FeatureName == featureName {
			out = append(out, Point{r.WeekEnding.String(), r.PercentageActiveUsers})
		}
	}
	sortPoints(out)
	return out
}
