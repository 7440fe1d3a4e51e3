package storage

import "database/sql"

// migrateV002 seeds the metric definitions reference table. Uses INSERT OR
// IGNORE so re-running is safe.
func migrateV002(tx *sql.Tx) error {
	type definition struct {
		ID         string
		MetricName string
		Definition string
		Formula    any
		Frequency  string
		Category   string
	}

	defaults := []definition{
		// Activity
		{"def-dau", "DAU", "Daily active users averaged over the reporting week", nil, "weekly", "activity"},
		{"def-wau", "WAU", "Distinct users active at least once in the reporting week", nil, "weekly", "activity"},
		{"def-mau", "MAU", "Distinct users active in the 30 days ending on the week ending date", nil, "weekly", "activity"},
		{"def-sessions", "Sessions per user", "Average sessions per active user", "total_sessions / wau", "weekly", "activity"},
		{"def-session-length", "Avg session length", "Mean session duration in minutes", nil, "weekly", "activity"},
		// Retention
		{"def-retention", "Retention rate", "Share of last week's active users active again this week", "returning_users / prior_wau * 100", "weekly", "retention"},
		{"def-churn", "Churn rate", "Share of last week's active users not seen this week", "100 - retention_rate", "weekly", "retention"},
		{"def-cohort", "Cohort retention", "Share of a signup cohort still active N days after signup", "active_on_day_n / cohort_size * 100", "per cohort", "retention"},
		// Composite
		{"def-engagement", "Engagement score", "Composite 0-100 blend of activity, session depth, adoption and retention",
			"min(dau/150,1)*40 + min(session/15,1)*20 + adoption*0.2 + retention*0.2", "weekly", "composite"},
		{"def-adoption", "Feature adoption", "Share of active users who used a feature in the week", "feature_users / wau * 100", "weekly", "adoption"},
		{"def-wow", "Week-over-week growth", "Percentage change in DAU between the two most recent weeks", "(dau - prev_dau) / prev_dau * 100", "weekly", "growth"},
		// Quality and compliance
		{"def-nps", "NPS", "Net promoter score from in-app surveys", "promoters% - detractors%", "weekly", "satisfaction"},
		{"def-error-rate", "Error rate", "Share of requests that failed", nil, "weekly", "quality"},
		{"def-phi-opt-in", "PHI opt-in rate", "Share of users who consented to health-data processing", nil, "weekly", "compliance"},
		{"def-conversion", "Conversion rate", "Share of free users who upgraded in the week", nil, "weekly", "growth"},
	}

	const insertSQL = `INSERT OR IGNORE INTO metric_definitions (id, metric_name, definition, formula, frequency, category) VALUES (?, ?, ?, ?, ?, ?)`

	for _, d := range defaults {
		if _, err := tx.Exec(insertSQL, d.ID, d.MetricName, d.Definition, d.Formula, d.Frequency, d.Category); err != nil {
			return err
		}
	}

	return nil
}
