package cli

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"

	"github.com/runnerr0/vitals/internal/audit"
	"github.com/runnerr0/vitals/internal/config"
	"github.com/runnerr0/vitals/internal/engine"
	"github.com/runnerr0/vitals/internal/logger"
	"github.com/runnerr0/vitals/internal/scoring"
	"github.com/runnerr0/vitals/internal/storage"
)

// runtime is what a command runs against: the configured store with its
// coordinator and read engine.
type runtime struct {
	cfg    *config.Config
	log    *logger.Logger
	store  storage.Store
	coord  *audit.Coordinator
	engine *engine.Engine

	// SQLite only.
	db     *sql.DB
	dbPath string
}

// loadConfig reads --config when given, else the default (created on first
// use).
func loadConfig(globals *GlobalFlags) (*config.Config, error) {
	if globals != nil && globals.Config != "" {
		return config.Load(globals.Config)
	}
	return config.LoadOrCreate()
}

// openRuntime loads config and opens the configured store.
func openRuntime(globals *GlobalFlags) (*runtime, error) {
	cfg, err := loadConfig(globals)
	if err != nil {
		return nil, err
	}

	level := cfg.Logging.Level
	if globals.Verbose {
		level = "debug"
	}
	log, err := logger.New(cfg.Logging.Mode, level)
	if err != nil {
		return nil, err
	}

	var (
		store  storage.Store
		db     *sql.DB
		dbPath string
	)
	if cfg.Storage.Driver == config.DriverSupabase && globals.DBPath == "" {
		store, err = storage.NewSupabaseStore(storage.SupabaseConfig{
			URL:        cfg.Supabase.URL,
			ServiceKey: cfg.Supabase.ServiceKey,
			Timeout:    time.Duration(cfg.Supabase.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("init store: %w", err)
		}
	} else {
		dbPath = globals.DBPath
		if dbPath == "" {
			if dbPath, err = cfg.DBPath(); err != nil {
				return nil, err
			}
		}
		var s *storage.SQLiteStore
		s, db, err = openSQLiteStore(dbPath, cfg.Storage.SQLiteJournalMode)
		if err != nil {
			return nil, err
		}
		store = s
	}

	rt, err := newRuntime(cfg, store, log, globals.Actor)
	if err != nil {
		store.Close()
		if db != nil {
			db.Close()
		}
		return nil, err
	}
	rt.db, rt.dbPath = db, dbPath
	return rt, nil
}

// openSQLiteStore opens the database at dbPath with migrations applied.
func openSQLiteStore(dbPath, journalMode string) (*storage.SQLiteStore, *sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	runner := storage.NewMigrationRunner(db).WithJournalMode(journalMode)
	if err := runner.Run(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}

	store, err := storage.NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("init store: %w", err)
	}
	return store, db, nil
}

// newRuntime wires the coordinator and engine over store. actor overrides
// audit.default_actor.
func newRuntime(cfg *config.Config, store storage.Store, log *logger.Logger, actor string) (*runtime, error) {
	policy, err := audit.ParseUpdatePolicy(cfg.Scoring.UpdatePolicy)
	if err != nil {
		return nil, err
	}
	if actor == "" {
		actor = cfg.Audit.DefaultActor
	}

	eng := engine.New(store, log)
	coord := audit.NewCoordinator(store, audit.Options{
		Targets: scoring.Targets{
			DAU:           cfg.Scoring.TargetDAU,
			SessionLength: cfg.Scoring.TargetSessionMinutes,
		},
		UpdatePolicy:    policy,
		Transactional:   cfg.Audit.Transactional,
		Actor:           audit.ContextActor{Fallback: audit.StaticActor{Name: actor}},
		Listener:        eng,
		Logger:          log,
		ComplianceNotes: cfg.Audit.ComplianceNotes,
	})

	return &runtime{cfg: cfg, log: log, store: store, coord: coord, engine: eng}, nil
}

// Close releases the store and flushes the logger.
func (rt *runtime) Close() error {
	err := rt.store.Close()
	if rt.db != nil {
		if cerr := rt.db.Close(); err == nil {
			err = cerr
		}
	}
	rt.log.Sync()
	return err
}

// withRuntime opens the runtime, runs fn and closes it.
func withRuntime(globals *GlobalFlags, fn func(*runtime) error) error {
	rt, err := openRuntime(globals)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt)
}

// printJSON writes v to stdout, indented.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseAssignments turns repeated key=value flags into update fields. Values
// stay strings; the store coerces them per column.
func parseAssignments(flag string, pairs []string) (storage.Fields, error) {
	fields := storage.Fields{}
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid %s value %q (want key=value)", flag, p)
		}
		if _, dup := fields[key]; dup {
			return nil, fmt.Errorf("%s %q given twice", flag, key)
		}
		fields[key] = value
	}
	return fields, nil
}

// parseOptionalInt parses an optional integer flag; "" is nil.
func parseOptionalInt(flag, s string) (*int, error) {
	if s == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s value %q: %w", flag, s, err)
	}
	return &n, nil
}

// parseOptionalFloat parses an optional number flag; "" is nil.
func parseOptionalFloat(flag, s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s value %q: %w", flag, s, err)
	}
	return &f, nil
}

// parseDate parses a required date flag.
func parseDate(flag, s string) (storage.Date, error) {
	if s == "" {
		return storage.Date{}, fmt.Errorf("--%s is required", flag)
	}
	d, err := storage.ParseDate(s)
	if err != nil {
		return storage.Date{}, fmt.Errorf("invalid --%s value %q: %w", flag, s, err)
	}
	return d, nil
}

// parseDuration parses a human-friendly duration string like "7d", "24h", "30d".
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty duration string")
	}
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid duration %q", s)
	}

	suffix := s[len(s)-1]
	numStr := s[:len(s)-1]

	n, err := strconv.Atoi(numStr)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}

	switch suffix {
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	default:
		return 0, fmt.Errorf("unknown duration suffix %q in %q", string(suffix), s)
	}
}

// formatBytes formats a byte count into a human-readable string.
func formatBytes(b int64) string {
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatNumber formats an int64 with comma separators.
func formatNumber(n int64) string {
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	s := strconv.FormatInt(n, 10)
	if len(s) <= 3 {
		return sign + s
	}

	var result strings.Builder
	result.WriteString(sign)
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
	}
	for i := remainder; i < len(s); i += 3 {
		if result.Len() > len(sign) {
			result.WriteByte(',')
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}

// formatPercent prints a percentage with one decimal.
func formatPercent(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64) + "%"
}
