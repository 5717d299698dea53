package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.expected {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestInitJSONFormat(t *testing.T) {
	var buf bytes.Buffer

	loggerMu.Lock()
	defaultLogger = slog.New(slog.NewJSONHandler(&buf, nil))
	loggerMu.Unlock()

	WithComponent("scheduler").Info("pipeline archived", slog.String("pipeline_id", "p-1"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not valid JSON: %v", err)
	}
	if entry["component"] != "scheduler" {
		t.Errorf("component = %v, want scheduler", entry["component"])
	}
	if entry["pipeline_id"] != "p-1" {
		t.Errorf("pipeline_id = %v, want p-1", entry["pipeline_id"])
	}
}

func TestWithPipeline(t *testing.T) {
	var buf bytes.Buffer

	loggerMu.Lock()
	defaultLogger = slog.New(slog.NewTextHandler(&buf, nil))
	loggerMu.Unlock()

	WithPipeline("p-42").Info("pipeline added")

	out := buf.String()
	for _, want := range []string{"pipeline_id=p-42", "pipeline added"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}
