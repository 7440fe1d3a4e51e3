package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Default config file path.
const DefaultConfigPath = "~/.config/vitals/config.yaml"

// Environment overrides.
const (
	EnvConfigPath         = "VITALS_CONFIG"
	EnvSupabaseServiceKey = "VITALS_SUPABASE_SERVICE_KEY"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverSupabase = "supabase"
)

// Config holds all vitals configuration.
type Config struct {
	Storage  StorageConfig  `yaml:"storage"`
	Supabase SupabaseConfig `yaml:"supabase"`
	Scoring  ScoringConfig  `yaml:"scoring"`
	Audit    AuditConfig    `yaml:"audit"`
	Server   ServerConfig   `yaml:"server"`
	Export   ExportConfig   `yaml:"export"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type StorageConfig struct {
	Driver            string `yaml:"driver"`
	Path              string `yaml:"path"`
	SQLiteFile        string `yaml:"sqlite_file"`
	SQLiteJournalMode string `yaml:"sqlite_journal_mode"`
}

type SupabaseConfig struct {
	URL            string `yaml:"url"`
	ServiceKey     string `yaml:"service_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type ScoringConfig struct {
	TargetDAU            float64 `yaml:"target_dau"`
	TargetSessionMinutes float64 `yaml:"target_session_minutes"`
	UpdatePolicy         string  `yaml:"update_policy"`
}

type AuditConfig struct {
	Transactional     bool   `yaml:"transactional"`
	DefaultActor      string `yaml:"default_actor"`
	ReconcileSchedule string `yaml:"reconcile_schedule"`
	ReconcileRepair   bool   `yaml:"reconcile_repair"`
	// ComplianceNotes maps "table.column" to the note attached to updates
	// touching that column.
	ComplianceNotes map[string]string `yaml:"compliance_notes"`
}

type ServerConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	MaxRequestSize int    `yaml:"max_request_size"`
}

type ExportConfig struct {
	Dir string `yaml:"dir"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	Mode  string `yaml:"mode"`
}

// Load reads a YAML config file at path and merges it with defaults.
// Returns an error if the file cannot be read, contains invalid YAML or
// fails validation.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// The service key may be kept out of the file.
	if key := os.Getenv(EnvSupabaseServiceKey); key != "" {
		cfg.Supabase.ServiceKey = key
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.SQLiteFile == "" {
			return fmt.Errorf("config: storage.sqlite_file is required for the sqlite driver")
		}
	case DriverSupabase:
		if c.Supabase.URL == "" || c.Supabase.ServiceKey == "" {
			return fmt.Errorf("config: supabase.url and supabase.service_key (or %s) are required for the supabase driver", EnvSupabaseServiceKey)
		}
	default:
		return fmt.Errorf("config: unknown storage.driver %q (want %s or %s)", c.Storage.Driver, DriverSQLite, DriverSupabase)
	}

	switch strings.ToLower(c.Scoring.UpdatePolicy) {
	case "", "recompute", "preserve":
	default:
		return fmt.Errorf("config: unknown scoring.update_policy %q (want recompute or preserve)", c.Scoring.UpdatePolicy)
	}
	if c.Scoring.TargetDAU < 0 || c.Scoring.TargetSessionMinutes < 0 {
		return fmt.Errorf("config: scoring targets must not be negative")
	}

	if c.Audit.ReconcileSchedule != "" {
		if _, err := cron.ParseStandard(c.Audit.ReconcileSchedule); err != nil {
			return fmt.Errorf("config: audit.reconcile_schedule: %w", err)
		}
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}

	switch c.Logging.Mode {
	case "development", "production":
	default:
		return fmt.Errorf("config: unknown logging.mode %q (want development or production)", c.Logging.Mode)
	}
	return nil
}

// DBPath returns the expanded path of the SQLite database file.
func (c *Config) DBPath() (string, error) {
	dir, err := expandPath(c.Storage.Path)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, c.Storage.SQLiteFile), nil
}

// ExportDir returns the expanded export directory.
func (c *Config) ExportDir() (string, error) {
	return expandPath(c.Export.Dir)
}

// Addr returns the API listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// expandPath replaces a leading ~ with the user's home directory.
func expandPath(path string) (string, error) {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// LoadOrCreate loads the config from $VITALS_CONFIG, or the default path
// when that is unset. If the file does not exist, it creates the directory
// structure and writes defaults.
func LoadOrCreate() (*Config, error) {
	path := os.Getenv(EnvConfigPath)
	if path == "" {
		path = DefaultConfigPath
	}
	path, err := expandPath(path)
	if err != nil {
		return nil, err
	}
	return LoadOrCreateAt(path)
}

// LoadOrCreateAt loads the config from the given path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreateAt(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()

		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating config directory: %w", err)
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("marshaling default config: %w", err)
		}

		// May hold a service key once edited.
		if err := os.WriteFile(path, data, 0600); err != nil {
			return nil, fmt.Errorf("writing default config: %w", err)
		}

		return cfg, nil
	}

	return Load(path)
}
