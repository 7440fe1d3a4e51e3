package cli

import (
	"context"
	"fmt"
	"time"
)

// exportJSON is the JSON output structure for the export command.
type exportJSON struct {
	Table string `json:"table"`
	Rows  int    `json:"rows"`
	Path  string `json:"path,omitempty"`
}

// Execute implements the go-flags Commander interface for ExportCommand.
func (c *ExportCommand) Execute(args []string) error {
	if c.Table == "" {
		return fmt.Errorf("--table is required for export command")
	}
	return withRuntime(c.globals, func(rt *runtime) error {
		return c.executeWithRuntime(context.Background(), rt, time.Now())
	})
}

// executeWithRuntime writes the export dated now (injectable for tests).
func (c *ExportCommand) executeWithRuntime(ctx context.Context, rt *runtime, now time.Time) error {
	dir := c.Out
	if dir == "" {
		var err error
		if dir, err = rt.cfg.ExportDir(); err != nil {
			return err
		}
	}

	snap, err := rt.engine.Current(ctx)
	if err != nil {
		return fmt.Errorf("load %s: %w", c.Table, err)
	}
	rows, err := snap.Rows(c.Table)
	if err != nil {
		return err
	}
	path, err := snap.ExportFile(dir, c.Table, now)
	if err != nil {
		return fmt.Errorf("export %s: %w", c.Table, err)
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(exportJSON{Table: c.Table, Rows: rows, Path: path})
	}
	if path == "" {
		fmt.Printf("No rows in %s; nothing written\n", c.Table)
		return nil
	}
	fmt.Printf("Exported %s rows from %s to %s\n", formatNumber(int64(rows)), c.Table, path)
	return nil
}
