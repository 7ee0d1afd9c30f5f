package doctor

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/tfsync/internal/config"
)

func validConfig() *config.Config {
	return &config.Config{
		LogLevel:  "info",
		LogFormat: "json",
		State:     config.StateConfig{Path: "/tmp/tfsync.db"},
		Build: config.BuildConfig{
			Builder: "win-release",
			Worker:  "agent-07",
			Workdir: "/build/win-release",
		},
		Source: config.SourceConfig{
			RepoURL:   "https://tfs.example.com/DefaultCollection",
			Branch:    "$/proj/main",
			BranchDir: "s",
			Mode:      "incremental",
			ToolPath:  "tf.exe",
			Timeout:   20 * time.Minute,
		},
	}
}

func newDoctor(cfg *config.Config) *Doctor {
	d := New(cfg)
	d.lookPath = func(bin string) (string, error) { return "/usr/local/bin/" + bin, nil }
	return d
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	r := newDoctor(validConfig()).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got: %v", r.Warnings)
	}
}

func TestValidate_LoaderProblemsBecomeErrors(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Build.Builder = ""
	cfg.Source.RepoURL = ""
	cfg.Source.Mode = "sideways"

	r := newDoctor(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasField(t, r.Errors, "config", "build.builder")
	assertHasField(t, r.Errors, "config", "source.repourl")
	assertHasField(t, r.Errors, "config", "source.mode")
}

func TestValidate_BranchNotServerPath(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Source.Branch = "proj/main"
	r := newDoctor(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "paths", "not a server path")
}

func TestValidate_SuspiciousPaths(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Source.Cloak = []string{"$/proj/main/docs", "docs", "docs"}
	cfg.Source.Map = []config.MapEntry{{Path: "$/proj/tools", Dest: "../tools"}}
	cfg.Source.BranchDir = "/elsewhere"

	r := newDoctor(cfg).Validate()
	if !r.Valid {
		t.Fatalf("path warnings must not invalidate: %v", r.Errors)
	}
	assertHasWarning(t, r, "paths", "cloak entries are relative")
	assertHasWarning(t, r, "paths", "duplicates source.cloak[1]")
	assertHasWarning(t, r, "paths", "map paths are relative")
	assertHasWarning(t, r, "paths", "will not be removed on clobber")
	assertHasWarning(t, r, "paths", "branchdir")
}

func TestValidate_ToolMissing(t *testing.T) {
	t.Parallel()
	d := New(validConfig())
	d.lookPath = func(string) (string, error) { return "", errors.New("not found") }
	r := d.Validate()
	if !r.Valid {
		t.Fatalf("missing tool is a warning, got errors: %v", r.Errors)
	}
	assertHasWarning(t, r, "tool", "not found on this machine")
}

func TestValidate_HalfCredentials(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Source.Username = "svc-build"
	r := newDoctor(cfg).Validate()
	assertHasWarning(t, r, "credentials", "only one of username and password")
}

func TestValidate_UnusedMethod(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Source.Method = "fresh"
	r := newDoctor(cfg).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	assertHasWarning(t, r, "unused", "no effect")
}

func TestValidate_ShortTimeout(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Source.Timeout = 10 * time.Second
	r := newDoctor(cfg).Validate()
	assertHasWarning(t, r, "timeout", "very short")
}

func TestValidate_APIWithoutToken(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.API.Listen = "127.0.0.1:8390"
	r := newDoctor(cfg).Validate()
	assertHasWarning(t, r, "api", "no authentication")
}

func TestValidate_UnresolvedEnvVars(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Source.Username = "${TFSYNC_DOCTOR_UNSET_USER}"
	cfg.Source.Password = "pw"
	cfg.Build.Env = map[string]string{"TF_HOME": "${TFSYNC_DOCTOR_UNSET_HOME}"}

	r := newDoctor(cfg).Validate()
	assertHasWarning(t, r, "env_vars", "TFSYNC_DOCTOR_UNSET_USER")
	assertHasWarning(t, r, "env_vars", "TFSYNC_DOCTOR_UNSET_HOME")
}

func TestValidate_PlaintextSecretsAndLock(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, config.DefaultFile)
	raw := `
build:
  builder: win-release
source:
  repourl: https://tfs.example.com/DefaultCollection
  branch: $/proj/main
  username: svc-build
  password: hunter2
api:
  token: ${TFSYNC_API_TOKEN}
`
	if err := os.WriteFile(path, []byte(raw), 0600); err != nil {
		t.Fatal(err)
	}

	cfg := validConfig()
	cfg.Path = path
	cfg.Source.Username = "svc-build"
	cfg.Source.Password = "hunter2"

	r := newDoctor(cfg).Validate()
	assertHasWarning(t, r, "secrets", "password is stored in plain text")
	for _, w := range r.Warnings {
		if w.Field == "api.token" && w.Category == "secrets" {
			t.Fatalf("interpolated token flagged as plain text: %v", w)
		}
	}
	assertHasWarning(t, r, "integrity", "config lock")

	if _, err := config.Lock(path, false); err != nil {
		t.Fatal(err)
	}
	r = newDoctor(cfg).Validate()
	for _, w := range r.Warnings {
		if w.Category == "integrity" {
			t.Fatalf("locked config still warned: %v", w)
		}
	}
}

func TestSplitProblem(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, field, msg string
	}{
		{"source.branch is required", "source.branch", "is required"},
		{"source.password: environment variable ${X} is not set", "source.password", "environment variable ${X} is not set"},
		{"log_level must be one of: debug", "log_level", "must be one of: debug"},
		{"something odd", "", "something odd"},
	}
	for _, tt := range tests {
		field, msg := splitProblem(tt.in)
		if field != tt.field || msg != tt.msg {
			t.Errorf("splitProblem(%q) = %q, %q; want %q, %q", tt.in, field, msg, tt.field, tt.msg)
		}
	}
}

func TestFormatHuman(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:    false,
		Errors:   []Issue{{Category: "config", Field: "source.branch", Message: "is required"}},
		Warnings: []Issue{{Category: "integrity", Message: "no .checksums manifest"}},
	}
	out := FormatHuman(r)
	if !strings.Contains(out, "Configuration invalid (1 error(s), 1 warning(s))") {
		t.Errorf("missing summary: %s", out)
	}
	if !strings.Contains(out, "ERROR [config] source.branch: is required") {
		t.Errorf("missing error line: %s", out)
	}
	if !strings.Contains(out, "WARN  [integrity] no .checksums manifest") {
		t.Errorf("missing warning line: %s", out)
	}

	if got := FormatHuman(&Result{Valid: true}); got != "Configuration valid.\n" {
		t.Errorf("FormatHuman(valid) = %q", got)
	}
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	out, err := FormatJSON(&Result{Valid: true, Warnings: []Issue{{Category: "api", Message: "m"}}})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"valid": true`) || !strings.Contains(out, `"category": "api"`) {
		t.Errorf("unexpected JSON: %s", out)
	}
}

func assertHasError(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, e := range r.Errors {
		if e.Category == category && strings.Contains(e.Message, substring) {
			return
		}
	}
	t.Fatalf("expected error with category=%q containing %q, got: %v", category, substring, r.Errors)
}

func assertHasWarning(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, w := range r.Warnings {
		if w.Category == category && (strings.Contains(w.Message, substring) || strings.Contains(w.Field, substring)) {
			return
		}
	}
	t.Fatalf("expected warning with category=%q containing %q, got: %v", category, substring, r.Warnings)
}

func assertHasField(t *testing.T, issues []Issue, category, field string) {
	t.Helper()
	for _, i := range issues {
		if i.Category == category && i.Field == field {
			return
		}
	}
	t.Fatalf("expected issue with category=%q field=%q, got: %v", category, field, issues)
}
