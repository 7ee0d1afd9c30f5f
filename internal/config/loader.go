package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/tfsync/internal/tfvc"
)

const (
	// DefaultFile is looked up in the working directory when no path is given.
	DefaultFile = "tfsync.yaml"
	// EnvConfigPath names the environment variable holding the config path.
	EnvConfigPath = "TFSYNC_CONFIG"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

var validMethods = map[string]bool{"": true, "clean": true, "fresh": true, "clobber": true}

// ResolvePath picks the configuration file: explicit flag, then
// $TFSYNC_CONFIG, then ./tfsync.yaml.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return DefaultFile
}

// Load reads, verifies and validates the configuration at configPath. A
// directory is accepted and must contain tfsync.yaml.
func Load(configPath string) (*Config, error) {
	cfg, err := LoadUnvalidated(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadUnvalidated reads and verifies the configuration without validating
// it, so callers can apply overrides or report every problem themselves.
func LoadUnvalidated(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, DefaultFile)
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but %s not found: %s", DefaultFile, absPath)
		}
	}

	if err := VerifyChecksum(absPath); err != nil {
		return nil, err
	}
	if err := loadDotEnv(filepath.Dir(absPath)); err != nil {
		return nil, err
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}
	cfg.Path = absPath
	cfg = applyConfigDefaults(cfg)
	cfg.resolvePaths(filepath.Dir(absPath))
	return cfg, nil
}

// loadDotEnv loads .env next to the config file. Variables already set in the
// environment win.
func loadDotEnv(dir string) error {
	envPath := filepath.Join(dir, ".env")
	if _, err := os.Stat(envPath); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(envPath); err != nil {
		return fmt.Errorf("failed to load %s: %w", envPath, err)
	}
	return nil
}

func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML in %s: %w", path, err)
	}
	return &cfg, nil
}

// applyConfigDefaults fills values not explicitly set.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = defaults.LogFormat
	}
	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	if cfg.Build.Workdir == "" {
		cfg.Build.Workdir = defaults.Build.Workdir
	}
	if cfg.Build.Worker == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.Build.Worker = host
		}
	}
	if cfg.Source.BranchDir == "" {
		cfg.Source.BranchDir = defaults.Source.BranchDir
	}
	if cfg.Source.Mode == "" {
		cfg.Source.Mode = defaults.Source.Mode
	}
	if cfg.Source.ToolPath == "" {
		cfg.Source.ToolPath = defaults.Source.ToolPath
	}
	if cfg.Source.Timeout == 0 {
		cfg.Source.Timeout = defaults.Source.Timeout
	}
	return cfg
}

// resolvePaths makes local paths relative to the config file's directory.
func (c *Config) resolvePaths(base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	c.State.Path = abs(c.State.Path)
	c.Metrics.Textfile = abs(c.Metrics.Textfile)
	c.Build.Workdir = abs(c.Build.Workdir)
	c.Build.LockPath = abs(c.Build.LockPath)
}

// ApplyOverrides applies command line values on top of the file.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Revision != "" {
		c.Build.Revision = o.Revision
	}
	if o.Mode != "" {
		c.Source.Mode = o.Mode
	}
	if o.Builder != "" {
		c.Build.Builder = o.Builder
	}
	if o.Workdir != "" {
		if abs, err := filepath.Abs(o.Workdir); err == nil {
			c.Build.Workdir = abs
		} else {
			c.Build.Workdir = o.Workdir
		}
	}
}

// LockFile returns the path of the build directory lock.
func (c *Config) LockFile() string {
	if c.Build.LockPath != "" {
		return c.Build.LockPath
	}
	return filepath.Clean(c.Build.Workdir) + ".lock"
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is and caught by validation where it matters.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("log_level must be one of: debug, info, warn, error (got %q)", c.LogLevel)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		add("log_format must be json or text (got %q)", c.LogFormat)
	}
	if c.State.Retention < 0 {
		add("state.retention must not be negative")
	}

	if strings.TrimSpace(c.Build.Builder) == "" {
		add("build.builder is required")
	}
	if strings.TrimSpace(c.Build.Workdir) == "" {
		add("build.workdir is required")
	}

	if strings.TrimSpace(c.Source.RepoURL) == "" {
		add("source.repourl is required")
	}
	if strings.TrimSpace(c.Source.Branch) == "" {
		add("source.branch is required")
	}
	if _, err := tfvc.ParseMode(c.Source.Mode); err != nil {
		add("source.%v", err)
	}
	if !validMethods[c.Source.Method] {
		add("source.method %q is not one of [clean fresh clobber]", c.Source.Method)
	}
	if c.Source.Timeout <= 0 {
		add("source.timeout must be positive")
	}
	for i, m := range c.Source.Map {
		if strings.TrimSpace(m.Path) == "" || strings.TrimSpace(m.Dest) == "" {
			add("source.map[%d] needs both path and dest", i)
		}
	}

	if name := unresolvedVar(c.Source.Password); name != "" {
		add("source.password: environment variable ${%s} is not set", name)
	}
	if name := unresolvedVar(c.API.Token); name != "" {
		add("api.token: environment variable ${%s} is not set", name)
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func unresolvedVar(s string) string {
	if m := envVarPattern.FindStringSubmatch(s); len(m) > 1 {
		return m[1]
	}
	return ""
}

// ToSync converts the file configuration into the sync engine's inputs.
func (c *Config) ToSync() (tfvc.Config, tfvc.Identity, error) {
	mode, err := tfvc.ParseMode(c.Source.Mode)
	if err != nil {
		return tfvc.Config{}, tfvc.Identity{}, err
	}

	mappings := make([]tfvc.Mapping, 0, len(c.Source.Map))
	for _, m := range c.Source.Map {
		mappings = append(mappings, tfvc.Mapping{Path: m.Path, Dest: m.Dest})
	}

	sc := tfvc.Config{
		RepoURL:         c.Source.RepoURL,
		Branch:          c.Source.Branch,
		BranchDir:       c.Source.BranchDir,
		Mode:            mode,
		Mappings:        mappings,
		Cloaks:          append([]string(nil), c.Source.Cloak...),
		Username:        c.Source.Username,
		Password:        c.Source.Password,
		ExtraArgs:       append([]string(nil), c.Source.ExtraArgs...),
		ToolPath:        c.Source.ToolPath,
		Timeout:         c.Source.Timeout,
		Revision:        c.Build.Revision,
		Workdir:         c.Build.Workdir,
		Env:             c.Build.Env,
		ExplicitDecloak: c.Source.ExplicitDecloak,
	}
	id := tfvc.Identity{Builder: c.Build.Builder, Worker: c.Build.Worker}
	return sc, id, nil
}
