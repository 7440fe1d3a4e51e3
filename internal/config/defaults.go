package config

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Driver:            DriverSQLite,
			Path:              "~/.config/vitals",
			SQLiteFile:        "vitals.db",
			SQLiteJournalMode: "wal",
		},
		Supabase: SupabaseConfig{
			URL:            "",
			ServiceKey:     "",
			TimeoutSeconds: 30,
		},
		Scoring: ScoringConfig{
			TargetDAU:            150,
			TargetSessionMinutes: 15,
			UpdatePolicy:         "recompute",
		},
		Audit: AuditConfig{
			Transactional:     true,
			DefaultActor:      "",
			ReconcileSchedule: "@every 1h",
			ReconcileRepair:   false,
			ComplianceNotes:   DefaultComplianceNotes(),
		},
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           8722,
			MaxRequestSize: 1048576,
		},
		Export: ExportConfig{
			Dir: ".",
		},
		Logging: LoggingConfig{
			Level: "info",
			Mode:  "production",
		},
	}
}
