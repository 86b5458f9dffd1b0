package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
)

// executeCmd executes a sprig subcommand with captured output against an
// isolated database. Dev mode skips remote config validation.
func executeCmd(t *testing.T, args ...string) (stdout string, err error) {
	t.Helper()

	t.Setenv("SPRIG_DEV_MODE", "true")
	t.Setenv("SPRIG_CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))
	t.Setenv("SPRIG_DB_PATH", filepath.Join(t.TempDir(), "sprig.db"))

	// Cobra parses into package-level variables; reset stale values
	// from previous tests.
	statusJSONOutput = false
	syncForce = false

	outBuf := new(bytes.Buffer)
	rootCmd.SetOut(outBuf)
	rootCmd.SetErr(new(bytes.Buffer))
	rootCmd.SetArgs(args)

	err = rootCmd.Execute()

	rootCmd.SetOut(nil)
	rootCmd.SetErr(nil)
	rootCmd.SetArgs(nil)

	return outBuf.String(), err
}

func TestStatusCmd_FreshStore(t *testing.T) {
	out, err := executeCmd(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "Total runs") {
		t.Errorf("expected health table, got %q", out)
	}
	if !strings.Contains(out, "No runs recorded yet.") {
		t.Errorf("expected empty-run notice, got %q", out)
	}
}

func TestStatusCmd_JSON(t *testing.T) {
	out, err := executeCmd(t, "status", "--json")
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, out)
	}
	if _, ok := parsed["health"]; !ok {
		t.Error("expected health key in JSON output")
	}
	if _, ok := parsed["last_run"]; ok {
		t.Error("fresh store should have no last_run key")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
