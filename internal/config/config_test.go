package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, "~/.config/vitals", cfg.Storage.Path)
	assert.Equal(t, "vitals.db", cfg.Storage.SQLiteFile)
	assert.Equal(t, "wal", cfg.Storage.SQLiteJournalMode)
	assert.Equal(t, 30, cfg.Supabase.TimeoutSeconds)
	assert.Empty(t, cfg.Supabase.URL)
	assert.Equal(t, 150.0, cfg.Scoring.TargetDAU)
	assert.Equal(t, 15.0, cfg.Scoring.TargetSessionMinutes)
	assert.Equal(t, "recompute", cfg.Scoring.UpdatePolicy)
	assert.True(t, cfg.Audit.Transactional)
	assert.Empty(t, cfg.Audit.DefaultActor)
	assert.Equal(t, "@every 1h", cfg.Audit.ReconcileSchedule)
	assert.False(t, cfg.Audit.ReconcileRepair)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8722, cfg.Server.Port)
	assert.Equal(t, 1048576, cfg.Server.MaxRequestSize)
	assert.Equal(t, ".", cfg.Export.Dir)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "production", cfg.Logging.Mode)

	assert.NoError(t, cfg.Validate())
}

func TestDefaultComplianceNotesArePopulated(t *testing.T) {
	notes := DefaultComplianceNotes()
	assert.NotEmpty(t, notes)

	assert.Contains(t, notes, "weekly_logs.phi_opt_in_rate")
	assert.Contains(t, notes, "cohort_retention.notes")
	for key := range notes {
		assert.Regexp(t, `^(weekly_logs|cohort_retention)\.[a-z_0-9]+$`, key)
	}
}

func TestLoadValidYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yamlContent := `
scoring:
  target_dau: 300
  update_policy: "preserve"
audit:
  reconcile_schedule: "*/15 * * * *"
server:
  port: 9999
logging:
  level: "debug"
`
	err := os.WriteFile(cfgPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(cfgPath)
	require.NoError(t, err)

	// Overridden values
	assert.Equal(t, 300.0, cfg.Scoring.TargetDAU)
	assert.Equal(t, "preserve", cfg.Scoring.UpdatePolicy)
	assert.Equal(t, "*/15 * * * *", cfg.Audit.ReconcileSchedule)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Non-overridden values remain defaults
	assert.Equal(t, 15.0, cfg.Scoring.TargetSessionMinutes)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.True(t, cfg.Audit.Transactional)
	assert.Equal(t, "~/.config/vitals", cfg.Storage.Path)
}

func TestLoadInvalidYAMLReturnsError(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	err := os.WriteFile(cfgPath, []byte(":::not valid yaml{{{"), 0644)
	require.NoError(t, err)

	_, err = Load(cfgPath)
	assert.Error(t, err)
}

func TestLoadNonExistentFileReturnsError(t *testing.T) {
	_, err := Load("/tmp/nonexistent_path_12345/config.yaml")
	assert.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"driver":   "storage:\n  driver: postgres\n",
		"policy":   "scoring:\n  update_policy: sometimes\n",
		"targets":  "scoring:\n  target_dau: -1\n",
		"schedule": "audit:\n  reconcile_schedule: \"every now and then\"\n",
		"port":     "server:\n  port: 70000\n",
		"mode":     "logging:\n  mode: chatty\n",
		"supabase": "storage:\n  driver: supabase\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			cfgPath := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0644))
			_, err := Load(cfgPath)
			assert.Error(t, err)
		})
	}
}

func TestLoadSupabaseKeyFromEnvironment(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	yamlContent := `
storage:
  driver: supabase
supabase:
  url: "https://project.supabase.co"
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(yamlContent), 0644))
	t.Setenv(EnvSupabaseServiceKey, "service-role-key")

	cfg, err := Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "service-role-key", cfg.Supabase.ServiceKey)
}

func TestLoadOrCreateCreatesDefaultsWhenMissing(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "sub", "deep", "config.yaml")

	cfg, err := LoadOrCreateAt(cfgPath)
	require.NoError(t, err)

	// Should return defaults
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, "recompute", cfg.Scoring.UpdatePolicy)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)

	// File should now exist on disk, private to the user
	info, statErr := os.Stat(cfgPath)
	require.NoError(t, statErr)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// File should be valid YAML loadable again
	cfg2, err := Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, cfg.Scoring.TargetDAU, cfg2.Scoring.TargetDAU)
	assert.Equal(t, cfg.Audit.ComplianceNotes, cfg2.Audit.ComplianceNotes)
}

func TestLoadOrCreateLoadsExistingFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yamlContent := `
export:
  dir: "/tmp/exports"
`
	err := os.WriteFile(cfgPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	cfg, err := LoadOrCreateAt(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/exports", cfg.Export.Dir)
	// Other fields remain defaults
	assert.Equal(t, "vitals.db", cfg.Storage.SQLiteFile)
}

func TestLoadOrCreateHonoursEnvPath(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "env.yaml")
	t.Setenv(EnvConfigPath, cfgPath)

	_, err := LoadOrCreate()
	require.NoError(t, err)
	_, err = os.Stat(cfgPath)
	assert.NoError(t, err)
}

func TestPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Path = "/var/lib/vitals"

	p, err := cfg.DBPath()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/vitals/vitals.db", p)

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	cfg.Export.Dir = "~/exports"
	d, err := cfg.ExportDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "exports"), d)

	assert.Equal(t, "127.0.0.1:8722", cfg.Addr())
}
