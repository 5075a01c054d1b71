package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, data []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid JSON line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestOpen(t *testing.T) {
	t.Run("creates debug.log in the state directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), ".breakfix")

		logger, err := Open(dir, LevelDebug, DefaultRotationConfig())
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		logger.Info("hello")
		if err := logger.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}

		data, err := os.ReadFile(filepath.Join(dir, LogFileName))
		if err != nil {
			t.Fatalf("failed to read log file: %v", err)
		}
		lines := decodeLines(t, data)
		if len(lines) != 1 || lines[0]["msg"] != "hello" {
			t.Errorf("unexpected log content: %s", data)
		}
	})

	t.Run("close is idempotent", func(t *testing.T) {
		logger, err := Open(t.TempDir(), LevelInfo, RotationConfig{})
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		if err := logger.Close(); err != nil {
			t.Fatalf("first Close failed: %v", err)
		}
		if err := logger.Close(); err != nil {
			t.Errorf("second Close returned %v, want nil", err)
		}
	})
}

func TestLogLevels(t *testing.T) {
	tests := []struct {
		level string
		want  int
	}{
		{LevelDebug, 4},
		{LevelInfo, 3},
		{LevelWarn, 2},
		{LevelError, 1},
		{"bogus", 3},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(&buf, tt.level)
			logger.Debug("d")
			logger.Info("i")
			logger.Warn("w")
			logger.Error("e")

			if got := len(decodeLines(t, buf.Bytes())); got != tt.want {
				t.Errorf("got %d lines, want %d", got, tt.want)
			}
		})
	}
}

func TestContextAttributes(t *testing.T) {
	var buf bytes.Buffer
	base := New(&buf, LevelDebug)

	base.WithRun("run-1").
		WithGraph("project").
		WithNode("project.units").
		WithUnit("pkg.core.parse").
		Info("dispatching", "attempt", 2)

	lines := decodeLines(t, buf.Bytes())
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	want := map[string]any{
		"run_id":  "run-1",
		"graph":   "project",
		"node":    "project.units",
		"unit":    "pkg.core.parse",
		"attempt": float64(2),
	}
	for k, v := range want {
		if lines[0][k] != v {
			t.Errorf("%s = %v, want %v", k, lines[0][k], v)
		}
	}
}

func TestWithReplacesExistingKey(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelInfo).WithGraph("project").WithNode("project.units")

	logger.WithGraph("unit").WithNode("unit.red").Info("nested")

	line := buf.String()
	if strings.Count(line, `"graph"`) != 1 || strings.Count(line, `"node"`) != 1 {
		t.Errorf("expected a single graph and node key, got %s", line)
	}
	if !strings.Contains(line, `"graph":"unit"`) || !strings.Contains(line, `"node":"unit.red"`) {
		t.Errorf("expected nested values to win, got %s", line)
	}
}

func TestChildDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := New(&buf, LevelInfo).WithRun("r")
	_ = parent.WithUnit("u")
	_ = parent.With("k", "v", 42, "skipped")

	parent.Info("parent")
	line := buf.String()
	if strings.Contains(line, `"unit"`) || strings.Contains(line, `"k"`) {
		t.Errorf("parent picked up child attributes: %s", line)
	}
}

func TestWithSkipsNonStringKeys(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, LevelInfo).With(1, "x", "ok", true).Info("m")

	lines := decodeLines(t, buf.Bytes())
	if lines[0]["ok"] != true {
		t.Errorf("ok = %v, want true", lines[0]["ok"])
	}
}

func TestNopLogger(t *testing.T) {
	logger := NopLogger()
	logger.Error("nothing happens")
	if err := logger.Close(); err != nil {
		t.Errorf("Close() = %v, want nil", err)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"Warn", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if len(ValidLevels()) != 4 {
		t.Errorf("ValidLevels() = %v", ValidLevels())
	}
}
