package cli

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/runnerr0/vitals/internal/aggregate"
	"github.com/runnerr0/vitals/internal/config"
)

// statusJSON is the JSON output structure for the status command.
type statusJSON struct {
	Version           string                       `json:"version"`
	Driver            string                       `json:"driver"`
	DatabasePath      string                       `json:"database_path,omitempty"`
	DatabaseSizeBytes int64                        `json:"database_size_bytes"`
	HasData           bool                         `json:"has_data"`
	Summary           *aggregate.EngagementSummary `json:"summary,omitempty"`
	Platform          []aggregate.Slice            `json:"platform"`
}

// Execute implements the go-flags Commander interface for StatusCommand.
func (c *StatusCommand) Execute(args []string) error {
	return withRuntime(c.globals, func(rt *runtime) error {
		return c.executeWithRuntime(context.Background(), rt)
	})
}

// executeWithRuntime runs status against a provided runtime (for testing).
func (c *StatusCommand) executeWithRuntime(ctx context.Context, rt *runtime) error {
	summary, ok, err := rt.engine.Summary(ctx)
	if err != nil {
		return fmt.Errorf("load summary: %w", err)
	}
	platform, err := rt.engine.PlatformSplit(ctx)
	if err != nil {
		return fmt.Errorf("load platform split: %w", err)
	}

	driver := rt.cfg.Storage.Driver
	if rt.db != nil {
		driver = config.DriverSQLite
	}
	var dbSize int64
	if rt.db != nil {
		dbSize = getDatabaseSize(rt.db, rt.dbPath)
	}

	if c.globals != nil && c.globals.JSON {
		out := statusJSON{
			Version:           c.version,
			Driver:            driver,
			DatabasePath:      rt.dbPath,
			DatabaseSizeBytes: dbSize,
			HasData:           ok,
			Platform:          platform,
		}
		if ok {
			out.Summary = &summary
		}
		if out.Platform == nil {
			out.Platform = []aggregate.Slice{}
		}
		return printJSON(out)
	}

	fmt.Println("Vitals Status")
	fmt.Println("=============")
	fmt.Printf("Version:       %s\n", c.version)
	if rt.db != nil {
		fmt.Printf("Database:      %s (%s)\n", rt.dbPath, formatBytes(dbSize))
	} else {
		fmt.Printf("Database:      %s\n", driver)
	}
	fmt.Println()

	if !ok {
		fmt.Println("No data yet. Record a week with `vitals log`.")
		return nil
	}

	fmt.Printf("Week ending:   %s\n", summary.WeekEnding)
	fmt.Printf("DAU:           %s\n", formatNumber(int64(summary.DAU)))
	fmt.Printf("WAU:           %s\n", formatNumber(int64(summary.WAU)))
	fmt.Printf("MAU:           %s\n", formatNumber(int64(summary.MAU)))
	fmt.Printf("Score:         %d/100\n", summary.EngagementScore)
	fmt.Printf("Retention:     %s\n", formatPercent(summary.RetentionRate))
	fmt.Printf("Churn:         %s\n", formatPercent(summary.ChurnRate))
	if summary.NPSScore != nil {
		fmt.Printf("NPS:           %d\n", *summary.NPSScore)
	} else {
		fmt.Println("NPS:           n/a")
	}
	if summary.PreviousWeekEnding != nil {
		fmt.Printf("Growth:        %+.1f%% vs %s\n", summary.WeekOverWeekGrowth, summary.PreviousWeekEnding)
	} else {
		fmt.Println("Growth:        n/a (first week)")
	}

	if len(platform) > 0 {
		fmt.Println()
		fmt.Println("Platform:")
		for _, s := range platform {
			fmt.Printf("  %-20s %s\n", s.Name, formatPercent(s.Value))
		}
	}
	return nil
}

// getDatabaseSize returns the database file size in bytes.
// For on-disk databases, it uses os.Stat. For in-memory databases,
// it queries page_count * page_size.
func getDatabaseSize(db *sql.DB, dbPath string) int64 {
	if info, err := os.Stat(dbPath); err == nil {
		return info.Size()
	}

	var pageCount, pageSize int64
	if err := db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0
	}
	if err := db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0
	}
	return pageCount * pageSize
}
