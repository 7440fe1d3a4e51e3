package cli

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/runnerr0/vitals/internal/storage"
)

// showJSON is the JSON output structure for the show command.
type showJSON struct {
	Table   string                   `json:"table"`
	Record  any                      `json:"record"`
	History []storage.ChangeLogEntry `json:"history"`
}

// Execute implements the go-flags Commander interface for ShowCommand.
func (c *ShowCommand) Execute(args []string) error {
	if c.ID == "" {
		return fmt.Errorf("--id is required for show command")
	}
	return withRuntime(c.globals, func(rt *runtime) error {
		return c.executeWithRuntime(context.Background(), rt)
	})
}

func (c *ShowCommand) executeWithRuntime(ctx context.Context, rt *runtime) error {
	record, err := getRecord(ctx, rt.store, c.Table, c.ID)
	if err != nil {
		return err
	}
	entries, err := rt.store.ListChangeLog(ctx, storage.ListOptions{})
	if err != nil {
		return fmt.Errorf("list change log: %w", err)
	}
	history := filterChanges(entries, changeFilter{Record: c.ID, Tables: map[string]bool{c.Table: true}}, 0, 0)

	if (c.globals != nil && c.globals.JSON) || c.Format == "json" {
		return printJSON(showJSON{Table: c.Table, Record: record, History: history})
	}

	fields, err := storage.Snapshot(record)
	if err != nil {
		return err
	}

	switch c.Format {
	case "md":
		return c.outputMarkdown(fields, history)
	case "full", "":
		c.outputFull(fields, history)
		return nil
	}
	return fmt.Errorf("unknown --format %q (want full, md or json)", c.Format)
}

func (c *ShowCommand) outputFull(fields storage.Fields, history []storage.ChangeLogEntry) {
	fmt.Printf("%s/%s\n", c.Table, c.ID)
	for _, k := range fields.SortedKeys() {
		if k == "id" {
			continue
		}
		fmt.Printf("  %-28s %v\n", k+":", display(fields[k]))
	}
	fmt.Println()
	fmt.Println("--- History ---")
	if len(history) == 0 {
		fmt.Println("No change-log entries")
		return
	}
	for i, e := range history {
		printChange(i+1, e)
	}
}

// outputMarkdown prints the record as YAML front matter followed by the
// history as a list.
func (c *ShowCommand) outputMarkdown(fields storage.Fields, history []storage.ChangeLogEntry) error {
	front, err := yaml.Marshal(map[string]any(fields))
	if err != nil {
		return fmt.Errorf("encode front matter: %w", err)
	}
	fmt.Println("---")
	fmt.Print(string(front))
	fmt.Println("---")
	fmt.Println()
	fmt.Printf("# %s %s\n", c.Table, c.ID)
	fmt.Println()
	if len(history) == 0 {
		fmt.Println("No change-log entries")
		return nil
	}
	for _, e := range history {
		fmt.Printf("- %s: %s (%s)\n", e.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"), e.ChangeDescription, e.ActorName)
	}
	return nil
}

func display(v any) any {
	if v == nil {
		return "-"
	}
	return v
}

// getRecord loads one row of a data table.
func getRecord(ctx context.Context, store storage.Store, table, id string) (any, error) {
	var (
		row any
		err error
	)
	switch table {
	case storage.TableWeeklyLogs:
		row, err = store.GetWeeklyLog(ctx, id)
	case storage.TableFeatureAdoption:
		row, err = store.GetFeatureAdoption(ctx, id)
	case storage.TableCohortRetention:
		row, err = store.GetCohortRetention(ctx, id)
	case storage.TableUserSegments:
		row, err = store.GetUserSegment(ctx, id)
	default:
		return nil, fmt.Errorf("cannot show records of table %q", table)
	}
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", table, id, err)
	}
	return row, nil
}
