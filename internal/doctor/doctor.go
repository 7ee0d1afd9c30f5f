// Package doctor validates tfsync configuration beyond what loading enforces.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/tfsync/internal/config"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor inspects a configuration for problems and likely mistakes.
type Doctor struct {
	cfg      *config.Config
	lookPath func(string) (string, error)
}

// New creates a Doctor for a configuration loaded with config.LoadUnvalidated.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg, lookPath: exec.LookPath}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateConfig(r)
	d.validateBranchPaths(r)
	d.warnToolMissing(r)
	d.warnCredentials(r)
	d.warnPlaintextSecrets(r)
	d.warnMissingEnvVars(r)
	d.warnUnusedMethod(r)
	d.warnSuspiciousTimeout(r)
	d.warnAPI(r)
	d.warnUnlocked(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateConfig reports everything the loader's validation rejects.
func (d *Doctor) validateConfig(r *Result) {
	err := d.cfg.Validate()
	if err == nil {
		return
	}
	var verr *config.ValidationError
	if !errors.As(err, &verr) {
		d.addError(r, "config", "", err.Error())
		return
	}
	for _, p := range verr.Problems {
		field, msg := splitProblem(p)
		d.addError(r, "config", field, msg)
	}
}

// splitProblem splits "source.branch is required" into field and message.
func splitProblem(p string) (string, string) {
	field, rest, ok := strings.Cut(p, " ")
	if !ok || (!strings.Contains(field, ".") && !strings.Contains(field, "_")) {
		return "", p
	}
	return strings.TrimSuffix(field, ":"), strings.TrimSpace(rest)
}

// validateBranchPaths checks server paths and the sub-paths hung off them.
func (d *Doctor) validateBranchPaths(r *Result) {
	src := d.cfg.Source
	if src.Branch != "" && !strings.HasPrefix(src.Branch, "$/") {
		d.addError(r, "paths", "source.branch",
			fmt.Sprintf("branch %q is not a server path (expected $/...)", src.Branch))
	}

	seen := make(map[string]int)
	for i, c := range src.Cloak {
		field := fmt.Sprintf("source.cloak[%d]", i)
		if strings.HasPrefix(c, "$/") {
			d.addWarning(r, "paths", field,
				fmt.Sprintf("cloak %q looks like a full server path; cloak entries are relative to the branch", c))
		}
		if prev, ok := seen[c]; ok {
			d.addWarning(r, "paths", field,
				fmt.Sprintf("cloak %q duplicates source.cloak[%d]", c, prev))
		}
		seen[c] = i
	}

	for i, m := range src.Map {
		field := fmt.Sprintf("source.map[%d]", i)
		if strings.HasPrefix(m.Path, "$/") {
			d.addWarning(r, "paths", field+".path",
				fmt.Sprintf("map path %q looks like a full server path; map paths are relative to the branch", m.Path))
		}
		if escapes(m.Dest) {
			d.addWarning(r, "paths", field+".dest",
				fmt.Sprintf("map dest %q is outside the build directory and will not be removed on clobber", m.Dest))
		}
	}
	if escapes(src.BranchDir) {
		d.addWarning(r, "paths", "source.branchdir",
			fmt.Sprintf("branchdir %q is outside the build directory", src.BranchDir))
	}
}

func escapes(p string) bool {
	if p == "" {
		return false
	}
	if filepath.IsAbs(p) {
		return true
	}
	clean := filepath.Clean(p)
	return clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator))
}

// warnToolMissing warns when tf_bin is not on this machine's PATH. The check
// runs wherever `config check` runs, which may not be the build worker.
func (d *Doctor) warnToolMissing(r *Result) {
	bin := d.cfg.Source.ToolPath
	if bin == "" {
		return
	}
	if _, err := d.lookPath(bin); err != nil {
		d.addWarning(r, "tool", "source.tf_bin",
			fmt.Sprintf("%q not found on this machine: syncs here will abort with tool missing", bin))
	}
}

func (d *Doctor) warnCredentials(r *Result) {
	user, pass := d.cfg.Source.Username, d.cfg.Source.Password
	if (user == "") != (pass == "") {
		d.addWarning(r, "credentials", "source.username",
			"only one of username and password is set; the login flag is sent only when both are")
	}
}

// warnPlaintextSecrets reads the raw file so interpolated values can be told
// apart from literals.
func (d *Doctor) warnPlaintextSecrets(r *Result) {
	if d.cfg.Path == "" {
		return
	}
	data, err := os.ReadFile(d.cfg.Path)
	if err != nil {
		return
	}
	var raw struct {
		API struct {
			Token string `yaml:"token"`
		} `yaml:"api"`
		Source struct {
			Password string `yaml:"password"`
		} `yaml:"source"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return
	}
	if raw.Source.Password != "" && !envVarRe.MatchString(raw.Source.Password) {
		d.addWarning(r, "secrets", "source.password",
			"password is stored in plain text; use ${VAR} with .env or the environment")
	}
	if raw.API.Token != "" && !envVarRe.MatchString(raw.API.Token) {
		d.addWarning(r, "secrets", "api.token",
			"API token is stored in plain text; use ${VAR} with .env or the environment")
	}
}

var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// warnMissingEnvVars warns about ${VAR} left in fields where it is not fatal.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	fields := map[string]string{
		"source.repourl":  d.cfg.Source.RepoURL,
		"source.branch":   d.cfg.Source.Branch,
		"source.username": d.cfg.Source.Username,
		"source.tf_bin":   d.cfg.Source.ToolPath,
		"build.workdir":   d.cfg.Build.Workdir,
		"build.builder":   d.cfg.Build.Builder,
	}
	for i, a := range d.cfg.Source.ExtraArgs {
		fields[fmt.Sprintf("source.extra_args[%d]", i)] = a
	}
	for k, v := range d.cfg.Build.Env {
		fields["build.env."+k] = v
	}

	for _, field := range sortedKeys(fields) {
		for _, m := range envVarRe.FindAllStringSubmatch(fields[field], -1) {
			d.addWarning(r, "env_vars", field,
				fmt.Sprintf("environment variable ${%s} not set", m[1]))
		}
	}
}

func (d *Doctor) warnUnusedMethod(r *Result) {
	if d.cfg.Source.Method != "" {
		d.addWarning(r, "unused", "source.method",
			fmt.Sprintf("method %q is accepted for compatibility but has no effect; use mode", d.cfg.Source.Method))
	}
}

func (d *Doctor) warnSuspiciousTimeout(r *Result) {
	t := d.cfg.Source.Timeout
	if t > 0 && t < time.Minute {
		d.addWarning(r, "timeout", "source.timeout",
			fmt.Sprintf("timeout %s is very short for a full get", t))
	}
}

func (d *Doctor) warnAPI(r *Result) {
	if d.cfg.API.Listen != "" && d.cfg.API.Token == "" {
		d.addWarning(r, "api", "api.token",
			"history API has no authentication configured")
	}
}

func (d *Doctor) warnUnlocked(r *Result) {
	if d.cfg.Path == "" {
		return
	}
	if _, err := config.LoadChecksums(filepath.Dir(d.cfg.Path)); errors.Is(err, os.ErrNotExist) {
		d.addWarning(r, "integrity", "",
			"no .checksums manifest; run 'tfsync config lock' to detect unreviewed edits")
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}
	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
