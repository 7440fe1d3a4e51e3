package cli

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/vitals/internal/audit"
	"github.com/runnerr0/vitals/internal/storage"
)

// seedChanges records two weekly logs and a segment, the segment by "Rae".
func seedChanges(t *testing.T, rt *runtime) (first, second *storage.WeeklyLog) {
	t.Helper()
	first = seedWeek(t, rt, "2024-03-03", 100)
	second = seedWeek(t, rt, "2024-03-10", 150)

	ctx := audit.WithActor(context.Background(), audit.Actor{Name: "Rae"})
	_, err := rt.coord.AddUserSegment(ctx, audit.UserSegmentInput{
		SegmentName: "Premium", SegmentType: "tier", WeekEnding: storage.MustParseDate("2024-03-10"), UserCount: 50,
	})
	require.NoError(t, err)
	return first, second
}

func TestChanges_NewestFirst(t *testing.T) {
	rt := newTestRuntime(t)
	seedChanges(t, rt)

	cmd := &ChangesCommand{Limit: 20, globals: &GlobalFlags{}}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithRuntime(context.Background(), rt))
	})

	assert.Contains(t, output, "Found 3 entries")
	assert.Contains(t, output, "1. Added tier segment Premium")
	assert.Contains(t, output, "3. Added weekly log for week ending 2024-03-03")
	assert.Contains(t, output, "Rae")
	assert.Contains(t, output, "tester")
}

func TestChanges_Filters(t *testing.T) {
	rt := newTestRuntime(t)
	_, second := seedChanges(t, rt)

	cases := []struct {
		name string
		cmd  ChangesCommand
		want int
	}{
		{"table", ChangesCommand{Table: []string{"weekly_logs"}}, 2},
		{"tables", ChangesCommand{Table: []string{"weekly_logs", "user_segments"}}, 3},
		{"record", ChangesCommand{Record: second.ID}, 1},
		{"actor", ChangesCommand{Actor: "Rae"}, 1},
		{"since", ChangesCommand{Since: "1h"}, 3},
		{"limit", ChangesCommand{Limit: 2}, 2},
		{"offset", ChangesCommand{Offset: 2}, 1},
		{"offset past end", ChangesCommand{Offset: 5}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.cmd.globals = &GlobalFlags{JSON: true}
			output := captureOutput(t, func() {
				require.NoError(t, tc.cmd.executeWithRuntime(context.Background(), rt))
			})
			var entries []storage.ChangeLogEntry
			require.NoError(t, json.Unmarshal([]byte(output), &entries))
			assert.Len(t, entries, tc.want)
		})
	}
}

func TestChanges_InvalidFlags(t *testing.T) {
	rt := newTestRuntime(t)

	err := (&ChangesCommand{Since: "soon", globals: &GlobalFlags{}}).executeWithRuntime(context.Background(), rt)
	assert.ErrorContains(t, err, "invalid --since")

	err = (&ChangesCommand{Limit: -1, globals: &GlobalFlags{}}).executeWithRuntime(context.Background(), rt)
	assert.Error(t, err)
}

func TestChanges_Empty(t *testing.T) {
	rt := newTestRuntime(t)
	output := captureOutput(t, func() {
		require.NoError(t, (&ChangesCommand{globals: &GlobalFlags{}}).executeWithRuntime(context.Background(), rt))
	})
	assert.Contains(t, output, "No changes found")
}

func TestFilterChanges_Since(t *testing.T) {
	now := time.Date(2024, 3, 12, 12, 0, 0, 0, time.UTC)
	entries := []storage.ChangeLogEntry{
		{ID: "new", CreatedAt: now.Add(-time.Hour)},
		{ID: "old", CreatedAt: now.Add(-72 * time.Hour)},
	}
	got := filterChanges(entries, changeFilter{Since: now.Add(-24 * time.Hour)}, 0, 0)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].ID)
}

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"2w":  14 * 24 * time.Hour,
		"7d":  7 * 24 * time.Hour,
		"24h": 24 * time.Hour,
		"30m": 30 * time.Minute,
	}
	for in, want := range cases {
		got, err := parseDuration(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "d", "7y", "xd"} {
		_, err := parseDuration(bad)
		assert.Error(t, err, bad)
	}
}

func TestShow_FullWithHistory(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()
	row := seedWeek(t, rt, "2024-03-10", 150)
	require.NoError(t, rt.coord.UpdateWeeklyLog(ctx, row.ID, storage.Fields{"notes": "holiday week"}, audit.UpdateOptions{}))
	seedWeek(t, rt, "2024-03-17", 150)

	cmd := &ShowCommand{Table: "weekly_logs", ID: row.ID, Format: "full", globals: &GlobalFlags{}}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithRuntime(ctx, rt))
	})

	assert.Contains(t, output, "weekly_logs/"+row.ID)
	assert.Contains(t, output, "holiday week")
	assert.Contains(t, output, "--- History ---")
	assert.Contains(t, output, "1. Updated weekly log for week ending 2024-03-10 (notes)")
	assert.Contains(t, output, "2. Added weekly log for week ending 2024-03-10")
	assert.Contains(t, output, "Compliance: Notes changed; confirm they contain no PHI")
	assert.NotContains(t, output, "2024-03-17")
}

func TestShow_MarkdownAndJSON(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()
	row := seedWeek(t, rt, "2024-03-10", 150)

	md := captureOutput(t, func() {
		cmd := &ShowCommand{Table: "weekly_logs", ID: row.ID, Format: "md", globals: &GlobalFlags{}}
		require.NoError(t, cmd.executeWithRuntime(ctx, rt))
	})
	assert.Contains(t, md, "---\n")
	assert.Contains(t, md, "engagement_score: 87")
	assert.Contains(t, md, "# weekly_logs "+row.ID)

	out := captureOutput(t, func() {
		cmd := &ShowCommand{Table: "weekly_logs", ID: row.ID, Format: "json", globals: &GlobalFlags{}}
		require.NoError(t, cmd.executeWithRuntime(ctx, rt))
	})
	var result struct {
		Table   string                   `json:"table"`
		Record  storage.WeeklyLog        `json:"record"`
		History []storage.ChangeLogEntry `json:"history"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, row.ID, result.Record.ID)
	assert.Len(t, result.History, 1)
}

func TestShow_Errors(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()
	row := seedWeek(t, rt, "2024-03-10", 150)

	err := (&ShowCommand{Table: "weekly_logs", ID: "missing", globals: &GlobalFlags{}}).executeWithRuntime(ctx, rt)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = (&ShowCommand{Table: "change_log", ID: row.ID, globals: &GlobalFlags{}}).executeWithRuntime(ctx, rt)
	assert.Error(t, err)

	err = (&ShowCommand{Table: "weekly_logs", ID: row.ID, Format: "pdf", globals: &GlobalFlags{}}).executeWithRuntime(ctx, rt)
	assert.ErrorContains(t, err, "unknown --format")
}
