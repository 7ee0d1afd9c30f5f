package tfvc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mattjoyce/tfsync/internal/process"
)

// FailurePolicy decides what a nonzero exit means for the run.
type FailurePolicy int

const (
	// Abandon aborts the run when the command fails.
	Abandon FailurePolicy = iota
	// Tolerate hands the result back to the caller whatever the exit code.
	Tolerate
)

func (p FailurePolicy) String() string {
	if p == Tolerate {
		return "tolerate"
	}
	return "abandon"
}

// Command is one tf invocation. The zero value is fatal on failure and
// carries the login flag when credentials are configured.
type Command struct {
	Args          []string
	CaptureStdout bool
	CaptureStderr bool
	OnFailure     FailurePolicy
	SkipLogin     bool
}

// CommandRecord is what a Recorder sees for every command that ran.
type CommandRecord struct {
	Seq       int
	Args      []string
	OnFailure FailurePolicy
	ExitCode  int
	TimedOut  bool
	Failed    bool
	Duration  time.Duration
	Err       string
}

// Subcommand returns the tf subcommand label ("workspaces", "workfold", ...),
// or "probe" for the bare tool check.
func (r CommandRecord) Subcommand() string {
	if len(r.Args) >= 2 && r.Args[0] == "vc" {
		return r.Args[1]
	}
	if len(r.Args) == 0 {
		return "probe"
	}
	return r.Args[0]
}

// Recorder observes every command of a run. Implementations must not fail
// the sync; they log their own errors.
type Recorder interface {
	RecordCommand(ctx context.Context, rec CommandRecord)
}

// runner builds argument vectors and executes them for a single run.
type runner struct {
	cfg       Config
	executor  process.Executor
	log       logSink
	recorders []Recorder
	logger    *slog.Logger

	// logEnviron is true until the first regular command has run.
	logEnviron bool
	seq        int
}

// do executes c with /noprompt, login and extra args appended.
func (r *runner) do(ctx context.Context, c Command) (process.Result, error) {
	if len(c.Args) == 0 {
		return process.Result{}, fmt.Errorf("no command specified")
	}

	args := make([]string, 0, len(c.Args)+2+len(r.cfg.ExtraArgs))
	args = append(args, c.Args...)
	args = append(args, "/noprompt")
	if !c.SkipLogin && r.cfg.Username != "" && r.cfg.Password != "" {
		args = append(args, fmt.Sprintf("/login:%s,%s", r.cfg.Username, r.cfg.Password))
	}
	args = append(args, r.cfg.ExtraArgs...)

	logEnviron := r.logEnviron
	r.logEnviron = false

	return r.execute(ctx, args, c, logEnviron)
}

// probe runs the bare tool with no arguments and reports whether it could be
// started and exited cleanly.
func (r *runner) probe(ctx context.Context) (bool, error) {
	res, err := r.execute(ctx, nil, Command{OnFailure: Tolerate}, false)
	if err != nil {
		return false, err
	}
	return !res.Failed(), nil
}

func (r *runner) execute(ctx context.Context, args []string, c Command, logEnviron bool) (process.Result, error) {
	r.seq++
	redacted := redactArgs(args)

	res, execErr := r.executor.Execute(ctx, process.Request{
		Executable:    r.cfg.ToolPath,
		Args:          args,
		Dir:           r.cfg.Workdir,
		Env:           r.cfg.Env,
		Timeout:       r.cfg.Timeout,
		LogEnviron:    logEnviron,
		CaptureStdout: c.CaptureStdout,
		CaptureStderr: c.CaptureStderr,
		Log:           r.log,
	})
	if execErr != nil && res.ExitCode == 0 {
		res.ExitCode = -1
	}

	failed := execErr != nil || res.Failed()
	rec := CommandRecord{
		Seq:       r.seq,
		Args:      redacted,
		OnFailure: c.OnFailure,
		ExitCode:  res.ExitCode,
		TimedOut:  res.TimedOut,
		Failed:    failed,
		Duration:  res.Duration,
	}
	if execErr != nil {
		rec.Err = execErr.Error()
	}
	for _, rc := range r.recorders {
		rc.RecordCommand(ctx, rec)
	}

	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(execErr, ctxErr) {
		return res, ctxErr
	}

	if !failed {
		r.logger.Debug("command succeeded", "args", redacted, "duration", res.Duration)
		return res, nil
	}

	r.logger.Warn("command failed",
		"args", redacted,
		"exit_code", res.ExitCode,
		"timed_out", res.TimedOut,
		"policy", c.OnFailure.String(),
		"error", execErr,
	)
	if c.OnFailure == Tolerate {
		return res, nil
	}
	return res, &CommandError{
		Args:     redacted,
		ExitCode: res.ExitCode,
		TimedOut: res.TimedOut,
		Err:      execErr,
	}
}

// redactArgs hides the password in a /login:user,password flag.
func redactArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if strings.HasPrefix(strings.ToLower(a), "/login:") {
			if user, _, ok := strings.Cut(a[len("/login:"):], ","); ok {
				a = "/login:" + user + ",********"
			}
		}
		out[i] = a
	}
	return out
}
