package cli

import (
	"context"
	"fmt"

	"github.com/runnerr0/vitals/internal/audit"
	"github.com/runnerr0/vitals/internal/storage"
	"github.com/runnerr0/vitals/internal/validation"
)

// Execute implements the go-flags Commander interface for LogCommand.
func (c *LogCommand) Execute(args []string) error {
	in, err := c.input()
	if err != nil {
		return err
	}
	return withRuntime(c.globals, func(rt *runtime) error {
		return c.executeWithRuntime(context.Background(), rt, in)
	})
}

// input builds and validates the weekly log from flags.
func (c *LogCommand) input() (audit.WeeklyLogInput, error) {
	week, err := parseDate("week", c.Week)
	if err != nil {
		return audit.WeeklyLogInput{}, err
	}
	nps, err := parseOptionalInt("nps", c.NPS)
	if err != nil {
		return audit.WeeklyLogInput{}, err
	}
	meta, err := parseAssignments("--meta", c.Meta)
	if err != nil {
		return audit.WeeklyLogInput{}, err
	}

	in := audit.WeeklyLogInput{
		WeekEnding:              week,
		DAU:                     c.DAU,
		WAU:                     c.WAU,
		MAU:                     c.MAU,
		SessionsPerUser:         c.SessionsPerUser,
		AvgSessionLengthMinutes: c.SessionLength,
		RetentionRate:           c.Retention,
		ChurnRate:               c.Churn,
		FeatureAdoption:         c.FeatureAdoption,
		NPSScore:                nps,
		ErrorRate:               c.ErrorRate,
		PHIOptInRate:            c.PHIOptIn,
		MobilePercentage:        c.Mobile,
		DesktopPercentage:       c.Desktop,
		ConversionRate:          c.Conversion,
		UserGrowth:              c.UserGrowth,
		Notes:                   c.Notes,
		Metadata:                map[string]any(meta),
	}
	if c.RecordedBy != "" {
		in.RecordedBy = &c.RecordedBy
	}
	if err := validation.ValidateStruct(&in); err != nil {
		return audit.WeeklyLogInput{}, err
	}
	return in, nil
}

// executeWithRuntime records the log against a provided runtime (used by tests).
func (c *LogCommand) executeWithRuntime(ctx context.Context, rt *runtime, in audit.WeeklyLogInput) error {
	row, err := rt.coord.AddWeeklyLog(ctx, in)
	if err != nil {
		return fmt.Errorf("storing weekly log: %w", err)
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(row)
	}
	fmt.Printf("Added weekly log %s for week ending %s\n", row.ID, row.WeekEnding)
	fmt.Printf("  DAU: %s  WAU: %s  MAU: %s\n",
		formatNumber(int64(row.DAU)), formatNumber(int64(row.WAU)), formatNumber(int64(row.MAU)))
	fmt.Printf("  Engagement score: %d/100\n", row.EngagementScore)
	return nil
}

// Execute implements the go-flags Commander interface for FeatureCommand.
func (c *FeatureCommand) Execute(args []string) error {
	in, err := c.input()
	if err != nil {
		return err
	}
	return withRuntime(c.globals, func(rt *runtime) error {
		return c.executeWithRuntime(context.Background(), rt, in)
	})
}

func (c *FeatureCommand) input() (audit.FeatureAdoptionInput, error) {
	week, err := parseDate("week", c.Week)
	if err != nil {
		return audit.FeatureAdoptionInput{}, err
	}
	in := audit.FeatureAdoptionInput{
		WeekEnding:            week,
		FeatureName:           c.Name,
		FeatureCategory:       c.Category,
		UsersCount:            c.Users,
		PercentageActiveUsers: c.Percent,
		AvgSessionsPerUser:    c.SessionsPerUser,
		TotalSessions:         c.TotalSessions,
		AvgDurationMinutes:    c.Duration,
		Notes:                 c.Notes,
	}
	if err := validation.ValidateStruct(&in); err != nil {
		return audit.FeatureAdoptionInput{}, err
	}
	return in, nil
}

func (c *FeatureCommand) executeWithRuntime(ctx context.Context, rt *runtime, in audit.FeatureAdoptionInput) error {
	var (
		row *storage.FeatureAdoption
		err error
	)
	if c.Supersedes != "" {
		row, err = rt.coord.CorrectFeatureAdoption(ctx, c.Supersedes, in, c.Reason)
	} else {
		row, err = rt.coord.AddFeatureAdoption(ctx, in)
	}
	if err != nil {
		return fmt.Errorf("storing feature adoption: %w", err)
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(row)
	}
	verb := "Added"
	if row.SupersedesID != nil {
		verb = "Corrected"
	}
	fmt.Printf("%s feature adoption %s: %s, week ending %s, %s of active users\n",
		verb, row.ID, row.FeatureName, row.WeekEnding, formatPercent(row.PercentageActiveUsers))
	if row.SupersedesID != nil {
		fmt.Printf("  Supersedes: %s\n", *row.SupersedesID)
	}
	return nil
}

// Execute implements the go-flags Commander interface for CohortCommand.
func (c *CohortCommand) Execute(args []string) error {
	in, err := c.input()
	if err != nil {
		return err
	}
	return withRuntime(c.globals, func(rt *runtime) error {
		return c.executeWithRuntime(context.Background(), rt, in)
	})
}

func (c *CohortCommand) input() (audit.CohortRetentionInput, error) {
	week, err := parseDate("signup-week", c.SignupWeek)
	if err != nil {
		return audit.CohortRetentionInput{}, err
	}
	in := audit.CohortRetentionInput{
		CohortSignupWeek: week,
		UserCount:        c.Users,
		Day1Retention:    c.Day1,
		Day7Retention:    c.Day7,
		Day30Retention:   c.Day30,
		Notes:            c.Notes,
	}
	if c.Name != "" {
		in.CohortName = &c.Name
	}
	if in.Day14Retention, err = parseOptionalFloat("day14", c.Day14); err != nil {
		return audit.CohortRetentionInput{}, err
	}
	if in.Day60Retention, err = parseOptionalFloat("day60", c.Day60); err != nil {
		return audit.CohortRetentionInput{}, err
	}
	if in.Day90Retention, err = parseOptionalFloat("day90", c.Day90); err != nil {
		return audit.CohortRetentionInput{}, err
	}
	if err := validation.ValidateStruct(&in); err != nil {
		return audit.CohortRetentionInput{}, err
	}
	return in, nil
}

func (c *CohortCommand) executeWithRuntime(ctx context.Context, rt *runtime, in audit.CohortRetentionInput) error {
	row, err := rt.coord.AddCohortRetention(ctx, in)
	if err != nil {
		return fmt.Errorf("storing cohort: %w", err)
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(row)
	}
	fmt.Printf("Added cohort %s for signup week %s (%s users)\n",
		row.ID, row.CohortSignupWeek, formatNumber(int64(row.UserCount)))
	return nil
}

// Execute implements the go-flags Commander interface for SegmentCommand.
func (c *SegmentCommand) Execute(args []string) error {
	in, err := c.input()
	if err != nil {
		return err
	}
	return withRuntime(c.globals, func(rt *runtime) error {
		return c.executeWithRuntime(context.Background(), rt, in)
	})
}

func (c *SegmentCommand) input() (audit.UserSegmentInput, error) {
	week, err := parseDate("week", c.Week)
	if err != nil {
		return audit.UserSegmentInput{}, err
	}
	in := audit.UserSegmentInput{
		SegmentName:      c.Name,
		SegmentType:      c.Type,
		WeekEnding:       week,
		UserCount:        c.Users,
		DAU:              c.DAU,
		RetentionRate:    c.Retention,
		EngagementScore:  c.Score,
		AvgSessionLength: c.SessionLength,
		ConversionRate:   c.Conversion,
		Notes:            c.Notes,
	}
	if err := validation.ValidateStruct(&in); err != nil {
		return audit.UserSegmentInput{}, err
	}
	return in, nil
}

func (c *SegmentCommand) executeWithRuntime(ctx context.Context, rt *runtime, in audit.UserSegmentInput) error {
	var (
		row *storage.UserSegment
		err error
	)
	if c.Supersedes != "" {
		row, err = rt.coord.CorrectUserSegment(ctx, c.Supersedes, in, c.Reason)
	} else {
		row, err = rt.coord.AddUserSegment(ctx, in)
	}
	if err != nil {
		return fmt.Errorf("storing user segment: %w", err)
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(row)
	}
	fmt.Printf("Added %s segment %s: %s, week ending %s (%s users)\n",
		row.SegmentType, row.ID, row.SegmentName, row.WeekEnding, formatNumber(int64(row.UserCount)))
	return nil
}
