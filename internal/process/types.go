package process

import (
	"context"
	"io"
	"time"
)

//go:generate mockgen -destination=mocks/mock_executor.go -package=mocks github.com/mattjoyce/tfsync/internal/process Executor

// Executor runs one external command to completion.
//
// A non-nil error means the command could not be run at all (missing
// executable, unusable working directory) or ctx was cancelled. A command that
// ran and exited nonzero, or was killed by its timeout, is reported through
// Result with a nil error.
type Executor interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// Request describes a single command invocation.
type Request struct {
	Executable string
	Args       []string
	Dir        string
	// Env entries override the inherited process environment.
	Env     map[string]string
	Timeout time.Duration

	// LogEnviron dumps the effective environment to Log before starting.
	LogEnviron    bool
	CaptureStdout bool
	CaptureStderr bool

	// Log receives stdout and stderr whether or not they are captured.
	Log io.Writer
}

// Result is the outcome of a command that was started.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
	Duration time.Duration
}

// Failed reports whether the command should be classified as a failure.
func (r Result) Failed() bool {
	return r.TimedOut || r.ExitCode != 0
}
