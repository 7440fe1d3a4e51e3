package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/runnerr0/vitals/internal/storage"
)

// changeFilter selects change-log entries.
type changeFilter struct {
	Since  time.Time
	Tables map[string]bool
	Record string
	Actor  string
}

func (f changeFilter) match(e storage.ChangeLogEntry) bool {
	if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
		return false
	}
	if len(f.Tables) > 0 && !f.Tables[e.AffectedTable] {
		return false
	}
	if f.Record != "" && e.AffectedRecordID != f.Record {
		return false
	}
	if f.Actor != "" && e.ActorName != f.Actor {
		return false
	}
	return true
}

// filterChanges applies f, then offset and limit. Input order is kept.
func filterChanges(entries []storage.ChangeLogEntry, f changeFilter, offset, limit int) []storage.ChangeLogEntry {
	out := make([]storage.ChangeLogEntry, 0)
	skipped := 0
	for _, e := range entries {
		if !f.match(e) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Execute implements the go-flags Commander interface for ChangesCommand.
func (c *ChangesCommand) Execute(args []string) error {
	return withRuntime(c.globals, func(rt *runtime) error {
		return c.executeWithRuntime(context.Background(), rt)
	})
}

// executeWithRuntime lists the change log against a provided runtime (for testing).
func (c *ChangesCommand) executeWithRuntime(ctx context.Context, rt *runtime) error {
	if c.Limit < 0 || c.Offset < 0 {
		return fmt.Errorf("--limit and --offset must not be negative")
	}

	f := changeFilter{Record: c.Record, Actor: c.Actor}
	if c.Since != "" {
		dur, err := parseDuration(c.Since)
		if err != nil {
			return fmt.Errorf("invalid --since value %q: %w", c.Since, err)
		}
		f.Since = time.Now().Add(-dur)
	}
	if len(c.Table) > 0 {
		f.Tables = make(map[string]bool, len(c.Table))
		for _, t := range c.Table {
			f.Tables[t] = true
		}
	}

	entries, err := rt.store.ListChangeLog(ctx, storage.ListOptions{})
	if err != nil {
		return fmt.Errorf("list change log: %w", err)
	}
	results := filterChanges(entries, f, c.Offset, c.Limit)

	if c.globals != nil && c.globals.JSON {
		return printJSON(results)
	}
	return c.printHuman(results)
}

func (c *ChangesCommand) printHuman(results []storage.ChangeLogEntry) error {
	if len(results) == 0 {
		fmt.Println("No changes found")
		return nil
	}

	entryWord := "entries"
	if len(results) == 1 {
		entryWord = "entry"
	}
	fmt.Printf("Found %d %s\n\n", len(results), entryWord)

	for i, e := range results {
		printChange(i+1+c.Offset, e)
		if i < len(results)-1 {
			fmt.Println()
		}
	}
	return nil
}

// printChange prints one entry in the human layout shared with show.
func printChange(n int, e storage.ChangeLogEntry) {
	fmt.Printf("%d. %s\n", n, e.ChangeDescription)
	fmt.Printf("   %s · %s/%s · %s\n",
		e.CreatedAt.Local().Format("2006-01-02 15:04"), e.AffectedTable, e.AffectedRecordID, e.ActorName)
	if e.Reason != nil {
		fmt.Printf("   Reason: %s\n", *e.Reason)
	}
	if e.ComplianceNote != nil {
		fmt.Printf("   Compliance: %s\n", *e.ComplianceNote)
	}
}
