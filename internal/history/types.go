package history

import (
	"errors"
	"time"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Run is one sync as recorded in the ledger.
type Run struct {
	ID         string     `json:"id"`
	Builder    string     `json:"builder"`
	Worker     string     `json:"worker"`
	Workspace  string     `json:"workspace"`
	Branch     string     `json:"branch"`
	Mode       string     `json:"mode"`
	Revision   string     `json:"revision,omitempty"`
	Status     Status     `json:"status"`
	Decision   string     `json:"decision,omitempty"`
	Created    bool       `json:"created"`
	Commands   int        `json:"commands"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	LastError  *string    `json:"last_error,omitempty"`

	// Steps is only populated by GetRun.
	Steps []Command `json:"steps,omitempty"`
}

// Duration is the wall time of a finished run, or zero.
func (r Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Command is one tool invocation of a run. Args are already redacted.
type Command struct {
	Seq        int           `json:"seq"`
	Subcommand string        `json:"subcommand"`
	Args       []string      `json:"args"`
	Policy     string        `json:"policy"`
	ExitCode   int           `json:"exit_code"`
	TimedOut   bool          `json:"timed_out"`
	Failed     bool          `json:"failed"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// BeginRequest describes a run about to start.
type BeginRequest struct {
	Builder   string
	Worker    string
	Workspace string
	Branch    string
	Mode      string
	Revision  string
}

// ListFilter narrows ListRuns. Zero Limit means 50.
type ListFilter struct {
	Builder string
	Status  Status
	Limit   int
}

var ErrRunNotFound = errors.New("run not found")
