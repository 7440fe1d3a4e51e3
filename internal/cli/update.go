package cli

import (
	"context"
	"fmt"

	"github.com/runnerr0/vitals/internal/audit"
	"github.com/runnerr0/vitals/internal/storage"
)

// Execute implements the go-flags Commander interface for UpdateLogCommand.
func (c *UpdateLogCommand) Execute(args []string) error {
	fields, err := updateFields(c.ID, c.Set)
	if err != nil {
		return err
	}
	return withRuntime(c.globals, func(rt *runtime) error {
		return c.executeWithRuntime(context.Background(), rt, fields)
	})
}

func (c *UpdateLogCommand) options() audit.UpdateOptions {
	return audit.UpdateOptions{ExpectedVersion: c.ExpectVersion, Reason: c.Reason, ComplianceNote: c.ComplianceNote}
}

// executeWithRuntime validates the merged row, applies the update and prints
// the row as stored.
func (c *UpdateLogCommand) executeWithRuntime(ctx context.Context, rt *runtime, fields storage.Fields) error {
	if err := audit.ValidateWeeklyLogUpdate(ctx, rt.store, c.ID, fields); err != nil {
		return err
	}
	if err := rt.coord.UpdateWeeklyLog(ctx, c.ID, fields, c.options()); err != nil {
		return fmt.Errorf("updating weekly log: %w", err)
	}
	row, err := rt.store.GetWeeklyLog(ctx, c.ID)
	if err != nil {
		return err
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(row)
	}
	fmt.Printf("Updated weekly log %s (week ending %s), now version %d\n", row.ID, row.WeekEnding, row.Version)
	fmt.Printf("  Changed: %v\n", fields.SortedKeys())
	fmt.Printf("  Engagement score: %d/100\n", row.EngagementScore)
	return nil
}

// Execute implements the go-flags Commander interface for CohortUpdateCommand.
func (c *CohortUpdateCommand) Execute(args []string) error {
	fields, err := updateFields(c.ID, c.Set)
	if err != nil {
		return err
	}
	return withRuntime(c.globals, func(rt *runtime) error {
		return c.executeWithRuntime(context.Background(), rt, fields)
	})
}

func (c *CohortUpdateCommand) options() audit.UpdateOptions {
	return audit.UpdateOptions{ExpectedVersion: c.ExpectVersion, Reason: c.Reason, ComplianceNote: c.ComplianceNote}
}

func (c *CohortUpdateCommand) executeWithRuntime(ctx context.Context, rt *runtime, fields storage.Fields) error {
	if err := audit.ValidateCohortRetentionUpdate(ctx, rt.store, c.ID, fields); err != nil {
		return err
	}
	if err := rt.coord.UpdateCohortRetention(ctx, c.ID, fields, c.options()); err != nil {
		return fmt.Errorf("updating cohort: %w", err)
	}
	row, err := rt.store.GetCohortRetention(ctx, c.ID)
	if err != nil {
		return err
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(row)
	}
	fmt.Printf("Updated cohort %s (signup week %s), now version %d\n", row.ID, row.CohortSignupWeek, row.Version)
	fmt.Printf("  Changed: %v\n", fields.SortedKeys())
	return nil
}

// updateFields checks the shared --id/--set flags.
func updateFields(id string, set []string) (storage.Fields, error) {
	if id == "" {
		return nil, fmt.Errorf("--id is required")
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("at least one --set key=value is required")
	}
	return parseAssignments("--set", set)
}
