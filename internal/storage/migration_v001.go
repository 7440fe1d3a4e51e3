package storage

import "database/sql"

// migrateV001 creates the engagement schema: the five data tables, the
// change log and their indexes. Every statement uses IF NOT EXISTS for
// idempotency.
func migrateV001(tx *sql.Tx) error {
	stmts := []string{
		// ── Tables ──────────────────────────────────────────────

		`CREATE TABLE IF NOT EXISTS weekly_logs (
			id                         TEXT PRIMARY KEY,
			week_ending                TEXT NOT NULL UNIQUE,
			dau                        INTEGER NOT NULL DEFAULT 0,
			wau                        INTEGER NOT NULL DEFAULT 0,
			mau                        INTEGER NOT NULL DEFAULT 0,
			sessions_per_user          REAL NOT NULL DEFAULT 0,
			avg_session_length_minutes REAL NOT NULL DEFAULT 0,
			retention_rate             REAL NOT NULL DEFAULT 0,
			churn_rate                 REAL NOT NULL DEFAULT 0,
			feature_adoption           REAL NOT NULL DEFAULT 0,
			engagement_score           INTEGER NOT NULL DEFAULT 0,
			nps_score                  INTEGER CHECK (nps_score IS NULL OR nps_score BETWEEN -100 AND 100),
			error_rate                 REAL NOT NULL DEFAULT 0,
			phi_opt_in_rate            REAL NOT NULL DEFAULT 0,
			mobile_percentage          REAL NOT NULL DEFAULT 0,
			desktop_percentage         REAL NOT NULL DEFAULT 0,
			conversion_rate            REAL NOT NULL DEFAULT 0,
			user_growth                INTEGER NOT NULL DEFAULT 0,
			notes                      TEXT NOT NULL DEFAULT '',
			metadata                   TEXT NOT NULL DEFAULT '{}',
			recorded_by                TEXT,
			version                    INTEGER NOT NULL DEFAULT 1,
			created_at                 TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS feature_adoption (
			id                      TEXT PRIMARY KEY,
			week_ending             TEXT NOT NULL,
			feature_name            TEXT NOT NULL,
			feature_category        TEXT NOT NULL DEFAULT '',
			users_count             INTEGER NOT NULL DEFAULT 0,
			percentage_active_users REAL NOT NULL DEFAULT 0,
			avg_sessions_per_user   REAL NOT NULL DEFAULT 0,
			total_sessions          INTEGER NOT NULL DEFAULT 0,
			avg_duration_minutes    REAL NOT NULL DEFAULT 0,
			notes                   TEXT NOT NULL DEFAULT '',
			supersedes_id           TEXT REFERENCES feature_adoption(id),
			created_at              TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS cohort_retention (
			id                 TEXT PRIMARY KEY,
			cohort_signup_week TEXT NOT NULL,
			cohort_name        TEXT,
			user_count         INTEGER NOT NULL DEFAULT 0,
			day_1_retention    REAL NOT NULL DEFAULT 0,
			day_7_retention    REAL NOT NULL DEFAULT 0,
			day_14_retention   REAL,
			day_30_retention   REAL NOT NULL DEFAULT 0,
			day_60_retention   REAL,
			day_90_retention   REAL,
			notes              TEXT NOT NULL DEFAULT '',
			version            INTEGER NOT NULL DEFAULT 1,
			created_at         TEXT NOT NULL,
			updated_at         TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS user_segments (
			id                 TEXT PRIMARY KEY,
			segment_name       TEXT NOT NULL,
			segment_type       TEXT NOT NULL CHECK (segment_type IN ('tier', 'location', 'device')),
			week_ending        TEXT NOT NULL,
			user_count         INTEGER NOT NULL DEFAULT 0,
			dau                INTEGER NOT NULL DEFAULT 0,
			retention_rate     REAL NOT NULL DEFAULT 0,
			engagement_score   REAL NOT NULL DEFAULT 0,
			avg_session_length REAL NOT NULL DEFAULT 0,
			conversion_rate    REAL NOT NULL DEFAULT 0,
			notes              TEXT NOT NULL DEFAULT '',
			supersedes_id      TEXT REFERENCES user_segments(id),
			created_at         TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS metric_definitions (
			id          TEXT PRIMARY KEY,
			metric_name TEXT NOT NULL UNIQUE,
			definition  TEXT NOT NULL,
			formula     TEXT,
			frequency   TEXT NOT NULL DEFAULT 'weekly',
			category    TEXT NOT NULL DEFAULT '',
			notes       TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS change_log (
			id                 TEXT PRIMARY KEY,
			actor_id           TEXT,
			actor_name         TEXT NOT NULL,
			change_description TEXT NOT NULL,
			reason             TEXT,
			affected_table     TEXT NOT NULL,
			affected_record_id TEXT NOT NULL,
			previous_value     TEXT,
			new_value          TEXT,
			compliance_note    TEXT,
			created_at         TEXT NOT NULL
		)`,

		// The change log is append-only at the schema level too.
		`CREATE TRIGGER IF NOT EXISTS change_log_no_update
			BEFORE UPDATE ON change_log
			BEGIN SELECT RAISE(ABORT, 'change_log is append-only'); END`,
		`CREATE TRIGGER IF NOT EXISTS change_log_no_delete
			BEFORE DELETE ON change_log
			BEGIN SELECT RAISE(ABORT, 'change_log is append-only'); END`,

		// ── Indexes ────────────────────────────────────────────

		`CREATE INDEX IF NOT EXISTS idx_feature_adoption_week   ON feature_adoption(week_ending)`,
		`CREATE INDEX IF NOT EXISTS idx_feature_adoption_name   ON feature_adoption(feature_name, week_ending)`,
		`CREATE INDEX IF NOT EXISTS idx_cohort_retention_week   ON cohort_retention(cohort_signup_week)`,
		`CREATE INDEX IF NOT EXISTS idx_user_segments_week      ON user_segments(week_ending)`,
		`CREATE INDEX IF NOT EXISTS idx_user_segments_type      ON user_segments(segment_type, segment_name)`,
		`CREATE INDEX IF NOT EXISTS idx_change_log_created      ON change_log(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_change_log_record       ON change_log(affected_table, affected_record_id)`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}
