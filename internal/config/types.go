package config

import (
	"strings"
	"time"
)

// Config represents the complete tfsync configuration.
type Config struct {
	LogLevel  string        `yaml:"log_level"`
	LogFormat string        `yaml:"log_format"`
	State     StateConfig   `yaml:"state"`
	Metrics   MetricsConfig `yaml:"metrics,omitempty"`
	API       APIConfig     `yaml:"api,omitempty"`
	Build     BuildConfig   `yaml:"build"`
	Source    SourceConfig  `yaml:"source"`

	// Path is the absolute path the configuration was loaded from.
	Path string `yaml:"-"`
}

// StateConfig defines the run history database.
type StateConfig struct {
	Path string `yaml:"path"`
	// Retention prunes runs older than this after each sync. Zero keeps everything.
	Retention time.Duration `yaml:"retention,omitempty"`
}

// MetricsConfig defines metric export.
type MetricsConfig struct {
	// Textfile is written after every sync when set, for node_exporter style collectors.
	Textfile string `yaml:"textfile,omitempty"`
}

// APIConfig defines the read-only history API.
type APIConfig struct {
	Listen string `yaml:"listen"`
	Token  string `yaml:"token"`
}

// BuildConfig describes the builder and worker the sync runs for.
type BuildConfig struct {
	Builder  string            `yaml:"builder"`
	Worker   string            `yaml:"worker"`
	Workdir  string            `yaml:"workdir"`
	Revision string            `yaml:"revision,omitempty"`
	Env      map[string]string `yaml:"env,omitempty"`
	LockPath string            `yaml:"lock_path,omitempty"`
}

// SourceConfig describes the repository and the mapping set.
type SourceConfig struct {
	RepoURL   string        `yaml:"repourl"`
	Branch    string        `yaml:"branch"`
	BranchDir string        `yaml:"branchdir"`
	Mode      string        `yaml:"mode"`
	Method    string        `yaml:"method,omitempty"`
	ToolPath  string        `yaml:"tf_bin"`
	Timeout   time.Duration `yaml:"timeout"`
	Username  string        `yaml:"username,omitempty"`
	Password  string        `yaml:"password,omitempty"`
	ExtraArgs []string      `yaml:"extra_args,omitempty"`
	Cloak     []string      `yaml:"cloak,omitempty"`
	Map       []MapEntry    `yaml:"map,omitempty"`

	ExplicitDecloak bool `yaml:"explicit_decloak,omitempty"`
}

// MapEntry maps a sub-path of the branch to a local destination.
type MapEntry struct {
	Path string `yaml:"path"`
	Dest string `yaml:"dest"`
}

// ChecksumManifest is the .checksums file written by `tfsync config lock`.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// Overrides are command line values that take precedence over the file.
type Overrides struct {
	Revision string
	Mode     string
	Builder  string
	Workdir  string
}

// ValidationError collects every configuration problem found.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid configuration: " + e.Problems[0]
	}
	return "invalid configuration:\n  - " + strings.Join(e.Problems, "\n  - ")
}

// Defaults returns a Config with default values.
func Defaults() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		State: StateConfig{
			Path: "./data/tfsync.db",
		},
		API: APIConfig{
			Listen: "127.0.0.1:8390",
		},
		Build: BuildConfig{
			Workdir: "./build",
		},
		Source: SourceConfig{
			BranchDir: "s",
			Mode:      "incremental",
			ToolPath:  "tf.exe",
			Timeout:   20 * time.Minute,
		},
	}
}
