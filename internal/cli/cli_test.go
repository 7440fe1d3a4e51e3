package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	goflags "github.com/jessevdk/go-flags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionFlag(t *testing.T) {
	output := captureOutput(t, func() {
		err := RunWithArgs("0.1.0-test", []string{"--version"})
		assert.NoError(t, err)
	})
	assert.Contains(t, output, "vitals 0.1.0-test")
}

func TestVersionOutputFormat(t *testing.T) {
	output := captureOutput(t, func() {
		_ = RunWithArgs("1.2.3", []string{"--version"})
	})
	assert.Equal(t, "vitals 1.2.3", strings.TrimSpace(output))
}

// parseOnly builds the parser with command execution disabled.
func parseOnly(t *testing.T, args ...string) (*GlobalFlags, *commands, error) {
	t.Helper()
	parser, globals, cmds := buildParser("test")
	parser.Options &^= goflags.PrintErrors
	parser.CommandHandler = func(goflags.Commander, []string) error { return nil }
	_, err := parser.ParseArgs(args)
	return globals, cmds, err
}

func TestSubcommandsRecognized(t *testing.T) {
	for _, name := range []string{
		"status", "log", "update-log", "feature", "cohort", "cohort-update", "segment",
		"trends", "changes", "show", "definitions", "export", "reconcile", "serve",
	} {
		t.Run(name, func(t *testing.T) {
			_, _, err := parseOnly(t, name)
			assert.NoError(t, err)
		})
	}
}

func TestUnknownSubcommandRejected(t *testing.T) {
	_, _, err := parseOnly(t, "purge")
	assert.Error(t, err)
}

func TestGlobalFlagsParsed(t *testing.T) {
	globals, _, err := parseOnly(t, "--json", "--actor", "Dana", "--db-path", "/tmp/v.db", "--verbose", "status")
	require.NoError(t, err)
	assert.True(t, globals.JSON)
	assert.True(t, globals.Verbose)
	assert.Equal(t, "Dana", globals.Actor)
	assert.Equal(t, "/tmp/v.db", globals.DBPath)
}

func TestUpdateLogFlagsParsed(t *testing.T) {
	_, cmds, err := parseOnly(t, "update-log", "--id", "abc", "--set", "dau=120", "--set", "notes=holiday",
		"--expect-version", "2", "--reason", "late data")
	require.NoError(t, err)
	assert.Equal(t, "abc", cmds.UpdateLog.ID)
	assert.Equal(t, []string{"dau=120", "notes=holiday"}, cmds.UpdateLog.Set)
	assert.Equal(t, int64(2), cmds.UpdateLog.ExpectVersion)
	assert.Equal(t, "late data", cmds.UpdateLog.Reason)
}

func TestChangesDefaults(t *testing.T) {
	_, cmds, err := parseOnly(t, "changes")
	require.NoError(t, err)
	assert.Equal(t, 20, cmds.Changes.Limit)
	assert.Equal(t, 0, cmds.Changes.Offset)
}

func TestHelpIsNotAnError(t *testing.T) {
	captureOutput(t, func() {
		assert.NoError(t, RunWithArgs("test", []string{"--help"}))
	})
}

// TestRunWithArgs_EndToEnd drives the real command path against an on-disk
// database chosen by the config file.
func TestRunWithArgs_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	cfgYAML := "storage:\n  path: \"" + dir + "\"\n" +
		"logging:\n  mode: development\n  level: error\n" +
		"export:\n  dir: \"" + filepath.Join(dir, "out") + "\"\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfgYAML), 0600))

	captureOutput(t, func() {
		err := RunWithArgs("test", []string{"--config", cfgPath, "--actor", "Dana",
			"log", "--week", "2024-03-10", "--dau", "150", "--wau", "400", "--mau", "1000",
			"--session-length", "15", "--feature-adoption", "60", "--retention", "75",
			"--mobile", "70", "--desktop", "30", "--nps", "42"})
		require.NoError(t, err)
	})
	_, err := os.Stat(filepath.Join(dir, "vitals.db"))
	require.NoError(t, err)

	output := captureOutput(t, func() {
		require.NoError(t, RunWithArgs("test", []string{"--config", cfgPath, "--json", "status"}))
	})
	var status statusJSON
	require.NoError(t, json.Unmarshal([]byte(output), &status))
	assert.True(t, status.HasData)
	require.NotNil(t, status.Summary)
	assert.Equal(t, 87, status.Summary.EngagementScore)
	require.NotNil(t, status.Summary.NPSScore)
	assert.Equal(t, 42, *status.Summary.NPSScore)
	assert.Equal(t, filepath.Join(dir, "vitals.db"), status.DatabasePath)

	output = captureOutput(t, func() {
		require.NoError(t, RunWithArgs("test", []string{"--config", cfgPath, "changes", "--by", "Dana"}))
	})
	assert.Contains(t, output, "Found 1 entry")
	assert.Contains(t, output, "Dana")
}

func TestRunWithArgs_ValidationErrorStopsWrite(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("storage:\n  path: \""+dir+"\"\n"), 0600))

	captureOutput(t, func() {
		err := RunWithArgs("test", []string{"--config", cfgPath, "log", "--week", "2024-03-10", "--retention", "140"})
		assert.Error(t, err)
	})
	// Input is rejected before the store is opened.
	_, err := os.Stat(filepath.Join(dir, "vitals.db"))
	assert.True(t, os.IsNotExist(err))
}
