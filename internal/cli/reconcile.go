package cli

import (
	"context"
	"fmt"

	"github.com/runnerr0/vitals/internal/audit"
)

// Execute implements the go-flags Commander interface for ReconcileCommand.
func (c *ReconcileCommand) Execute(args []string) error {
	return withRuntime(c.globals, func(rt *runtime) error {
		return c.executeWithRuntime(context.Background(), rt)
	})
}

func (c *ReconcileCommand) executeWithRuntime(ctx context.Context, rt *runtime) error {
	rec := audit.NewReconciler(rt.store, rt.coord, rt.log)
	report, err := rec.Run(ctx, c.Repair)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(report)
	}

	fmt.Printf("Checked %s rows\n", formatNumber(int64(report.Checked)))
	if len(report.Orphans) == 0 {
		fmt.Println("Change log is complete")
		return nil
	}

	fmt.Printf("%d rows are missing change-log entries:\n", len(report.Orphans))
	for _, o := range report.Orphans {
		fmt.Printf("  %-18s %s  %s (missing %d of %d)\n", o.Table, o.RecordID, o.Label, o.Missing(), o.Expected)
	}
	if c.Repair {
		fmt.Printf("Appended %d repair entries\n", report.Repaired)
	} else {
		fmt.Println("Run with --repair to append the missing entries")
	}
	return nil
}
