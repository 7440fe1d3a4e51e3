package cli

import (
	"fmt"
	"os"

	goflags "github.com/jessevdk/go-flags"
)

// commands holds references to all subcommand structs for inspection/testing.
type commands struct {
	Status       *StatusCommand
	Log          *LogCommand
	UpdateLog    *UpdateLogCommand
	Feature      *FeatureCommand
	Cohort       *CohortCommand
	CohortUpdate *CohortUpdateCommand
	Segment      *SegmentCommand
	Trends       *TrendsCommand
	Changes      *ChangesCommand
	Show         *ShowCommand
	Definitions  *DefinitionsCommand
	Export       *ExportCommand
	Reconcile    *ReconcileCommand
	Serve        *ServeCommand
}

// buildParser constructs the go-flags parser with all subcommands registered.
func buildParser(version string) (*goflags.Parser, *GlobalFlags, *commands) {
	var globals GlobalFlags

	parser := goflags.NewParser(&globals, goflags.Default)
	parser.Name = "vitals"
	parser.LongDescription = "Engagement metrics for a mental-wellness app: weekly logs, cohorts, segments and an append-only change log."

	cmds := &commands{
		Status:       &StatusCommand{globals: &globals, version: version},
		Log:          &LogCommand{globals: &globals, version: version},
		UpdateLog:    &UpdateLogCommand{globals: &globals, version: version},
		Feature:      &FeatureCommand{globals: &globals, version: version},
		Cohort:       &CohortCommand{globals: &globals, version: version},
		CohortUpdate: &CohortUpdateCommand{globals: &globals, version: version},
		Segment:      &SegmentCommand{globals: &globals, version: version},
		Trends:       &TrendsCommand{globals: &globals, version: version},
		Changes:      &ChangesCommand{globals: &globals, version: version},
		Show:         &ShowCommand{globals: &globals, version: version},
		Definitions:  &DefinitionsCommand{globals: &globals, version: version},
		Export:       &ExportCommand{globals: &globals, version: version},
		Reconcile:    &ReconcileCommand{globals: &globals, version: version},
		Serve:        &ServeCommand{globals: &globals, version: version},
	}

	parser.AddCommand("status", "Show the engagement summary", "Show the latest week's engagement summary, platform split and growth.", cmds.Status)
	parser.AddCommand("log", "Record a weekly log", "Record a weekly log. The engagement score is computed, never entered.", cmds.Log)
	parser.AddCommand("update-log", "Update a weekly log", "Update fields of a weekly log with --set key=value.", cmds.UpdateLog)
	parser.AddCommand("feature", "Record feature adoption", "Record feature adoption for a week, or correct a row with --supersedes.", cmds.Feature)
	parser.AddCommand("cohort", "Record a signup cohort", "Record a signup cohort and the retention horizons observed so far.", cmds.Cohort)
	parser.AddCommand("cohort-update", "Update a cohort", "Back-fill or change cohort fields with --set key=value.", cmds.CohortUpdate)
	parser.AddCommand("segment", "Record a user segment", "Record a user segment for a week, or correct a row with --supersedes.", cmds.Segment)
	parser.AddCommand("trends", "Print trend series", "Print the weekly trend series, oldest week first.", cmds.Trends)
	parser.AddCommand("changes", "List the change log", "List change-log entries newest first, with optional filters.", cmds.Changes)
	parser.AddCommand("show", "Print a record and its history", "Print one record and every change-log entry that touched it.", cmds.Show)
	parser.AddCommand("definitions", "List metric definitions", "List the metric definitions reference table.", cmds.Definitions)
	parser.AddCommand("export", "Export a table as CSV", "Write one table to {table}_{date}.csv.", cmds.Export)
	parser.AddCommand("reconcile", "Check the change log for gaps", "Report rows that lack change-log entries; --repair appends them.", cmds.Reconcile)
	parser.AddCommand("serve", "Run the API server", "Run the JSON API, /metrics and scheduled reconciliation.", cmds.Serve)

	return parser, &globals, cmds
}

// Run is the main entry point for the vitals CLI using os.Args.
func Run(version string) error {
	return RunWithArgs(version, nil)
}

// RunWithArgs parses the given args (or os.Args if nil) and executes the matched subcommand.
func RunWithArgs(version string, args []string) error {
	// Handle --version before parser (go-flags requires a subcommand, but
	// --version is valid without one).
	checkArgs := args
	if checkArgs == nil {
		checkArgs = os.Args[1:]
	}
	for _, arg := range checkArgs {
		if arg == "--version" {
			fmt.Printf("vitals %s\n", version)
			return nil
		}
		if arg == "--" {
			break
		}
	}

	parser, _, _ := buildParser(version)

	var err error
	if args != nil {
		_, err = parser.ParseArgs(args)
	} else {
		_, err = parser.Parse()
	}

	if err != nil {
		if flagsErr, ok := err.(*goflags.Error); ok {
			if flagsErr.Type == goflags.ErrHelp {
				return nil
			}
		}
		return err
	}

	return nil
}
