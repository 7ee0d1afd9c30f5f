package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func resetLogger() {
	logger = nil
	once = sync.Once{}
}

func TestSetupWriterJSON(t *testing.T) {
	resetLogger()
	t.Cleanup(resetLogger)

	var buf bytes.Buffer
	SetupWriter(&buf, "DEBUG", "json")
	if logger == nil {
		t.Fatal("Logger should not be nil")
	}

	Debug("probe", "k", "v")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["msg"] != "probe" {
		t.Errorf("Expected msg 'probe', got %v", out["msg"])
	}
}

func TestSetupWriterTextAndLevel(t *testing.T) {
	resetLogger()
	t.Cleanup(resetLogger)

	var buf bytes.Buffer
	SetupWriter(&buf, "warn", "text")

	Info("hidden")
	Warn("shown")

	got := buf.String()
	if strings.Contains(got, "hidden") {
		t.Errorf("info line should be filtered at WARN, got %q", got)
	}
	if !strings.Contains(got, "msg=shown") {
		t.Errorf("expected text-format warn line, got %q", got)
	}
}

func TestParseLevelFallback(t *testing.T) {
	if got := parseLevel("bogus"); got != slog.LevelInfo {
		t.Errorf("parseLevel(bogus) = %v, want INFO", got)
	}
	if got := parseLevel("error"); got != slog.LevelError {
		t.Errorf("parseLevel(error) = %v, want ERROR", got)
	}
}

func TestContextHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))
	t.Cleanup(resetLogger)

	WithComponent("tfvc").Info("hello")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["component"] != "tfvc" {
		t.Errorf("Expected component 'tfvc', got %v", out["component"])
	}
}

func TestWithRun(t *testing.T) {
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))
	t.Cleanup(resetLogger)

	WithRun("run-123").Info("run msg")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["run_id"] != "run-123" {
		t.Errorf("Expected run_id 'run-123', got %v", out["run_id"])
	}
}
