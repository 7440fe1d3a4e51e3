package config

// DefaultComplianceNotes returns the columns whose edits are flagged in the
// change log, keyed "table.column". These cover PHI consent reporting and
// the free-text fields where identifying details tend to leak in.
func DefaultComplianceNotes() map[string]string {
	return map[string]string{
		// Consent
		"weekly_logs.phi_opt_in_rate": "PHI opt-in rate changed; review consent reporting",

		// Attribution
		"weekly_logs.recorded_by": "Attribution of reported metrics changed",

		// Free text
		"weekly_logs.notes":            "Notes changed; confirm they contain no PHI",
		"weekly_logs.metadata":         "Metadata changed; confirm it contains no PHI",
		"cohort_retention.notes":       "Notes changed; confirm they contain no PHI",
		"cohort_retention.cohort_name": "Cohort label changed; confirm it contains no PHI",
	}
}
