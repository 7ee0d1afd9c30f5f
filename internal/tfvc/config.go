package tfvc

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects how the local directory is brought up to date.
type Mode string

const (
	// ModeFull always discards the local directory.
	ModeFull Mode = "full"
	// ModeIncremental updates in place when the directory is recognizably ours.
	ModeIncremental Mode = "incremental"
)

// ParseMode accepts "full" or "incremental"; empty means incremental.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeIncremental:
		return ModeIncremental, nil
	case ModeFull:
		return ModeFull, nil
	default:
		return "", fmt.Errorf("mode %q is not one of [full incremental]", s)
	}
}

// Mapping maps a server sub-path below the branch to a local destination.
type Mapping struct {
	Path string
	Dest string
}

// Config is the immutable per-run configuration.
type Config struct {
	RepoURL   string
	Branch    string
	BranchDir string
	Mode      Mode
	Mappings  []Mapping
	Cloaks    []string

	Username string
	Password string

	ExtraArgs []string
	ToolPath  string
	Timeout   time.Duration

	// Revision pins the get; empty means latest.
	Revision string

	// Workdir is where every command runs and what a clobber removes.
	Workdir string
	Env     map[string]string

	// ExplicitDecloak issues a decloak for every cloaked folder of an existing
	// workspace before unmapping. Off by default: unmapping a parent already
	// drops the cloaks below it.
	ExplicitDecloak bool
}

const (
	defaultToolPath  = "tf.exe"
	defaultBranchDir = "s"
	defaultTimeout   = 20 * time.Minute
)

func (c Config) withDefaults() Config {
	if c.ToolPath == "" {
		c.ToolPath = defaultToolPath
	}
	if c.BranchDir == "" {
		c.BranchDir = defaultBranchDir
	}
	if c.Mode == "" {
		c.Mode = ModeIncremental
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	return c
}

func (c Config) validate() error {
	var problems []string
	if strings.TrimSpace(c.RepoURL) == "" {
		problems = append(problems, "repourl is required")
	}
	if strings.TrimSpace(c.Branch) == "" {
		problems = append(problems, "branch is required")
	}
	if c.Mode != ModeFull && c.Mode != ModeIncremental {
		problems = append(problems, fmt.Sprintf("mode %q is not one of [full incremental]", c.Mode))
	}
	if strings.TrimSpace(c.Workdir) == "" {
		problems = append(problems, "workdir is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// subPath joins a configured sub-path onto the branch server path.
func (c Config) subPath(p string) string {
	return strings.TrimRight(c.Branch, "/") + "/" + strings.TrimLeft(p, "/")
}

// Identity names the builder and worker running the sync.
type Identity struct {
	Builder string
	Worker  string
}

// WorkspaceName is the server-side workspace used by this builder.
func (id Identity) WorkspaceName() string {
	return "bb_" + id.Builder
}

func (id Identity) comment() string {
	return fmt.Sprintf("buildbot workspace for builder %s on worker %s", id.Builder, id.Worker)
}

// Change is the part of a build change the revision is taken from.
type Change struct {
	Revision string
}

// RevisionFromChanges returns the revision of the latest change, or "" to
// fetch the latest version.
func RevisionFromChanges(changes []Change) string {
	if len(changes) == 0 {
		return ""
	}
	return changes[len(changes)-1].Revision
}
