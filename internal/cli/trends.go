package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/runnerr0/vitals/internal/aggregate"
)

// Execute implements the go-flags Commander interface for TrendsCommand.
func (c *TrendsCommand) Execute(args []string) error {
	return withRuntime(c.globals, func(rt *runtime) error {
		return c.executeWithRuntime(context.Background(), rt)
	})
}

func (c *TrendsCommand) executeWithRuntime(ctx context.Context, rt *runtime) error {
	trends, err := rt.engine.Trends(ctx)
	if err != nil {
		return fmt.Errorf("load trends: %w", err)
	}

	if c.Series != "" {
		points := trends.Series(c.Series)
		if points == nil {
			return fmt.Errorf("unknown series %q (want one of %s)", c.Series, strings.Join(aggregate.SeriesNames, ", "))
		}
		if c.globals != nil && c.globals.JSON {
			return printJSON(points)
		}
		for _, p := range points {
			fmt.Printf("%s  %s\n", p.Date, formatValue(p.Value))
		}
		return nil
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(trends)
	}
	if len(trends.DAU) == 0 {
		fmt.Println("No weekly logs recorded.")
		return nil
	}

	fmt.Printf("%-12s", "week")
	for _, name := range aggregate.SeriesNames {
		fmt.Printf(" %16s", name)
	}
	fmt.Println()
	// Every series has one point per log, in the same week order.
	for i, p := range trends.DAU {
		fmt.Printf("%-12s", p.Date)
		for _, name := range aggregate.SeriesNames {
			fmt.Printf(" %16s", formatValue(trends.Series(name)[i].Value))
		}
		fmt.Println()
	}
	return nil
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Execute implements the go-flags Commander interface for DefinitionsCommand.
func (c *DefinitionsCommand) Execute(args []string) error {
	return withRuntime(c.globals, func(rt *runtime) error {
		return c.executeWithRuntime(context.Background(), rt)
	})
}

func (c *DefinitionsCommand) executeWithRuntime(ctx context.Context, rt *runtime) error {
	snap, err := rt.engine.Current(ctx)
	if err != nil {
		return fmt.Errorf("load definitions: %w", err)
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(snap.MetricDefinitions)
	}
	for _, d := range snap.MetricDefinitions {
		fmt.Printf("%s [%s, %s]\n", d.MetricName, d.Category, d.Frequency)
		fmt.Printf("  %s\n", d.Definition)
		if d.Formula != nil {
			fmt.Printf("  Formula: %s\n", *d.Formula)
		}
	}
	return nil
}
