package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/mattjoyce/tfsync/internal/log"
)

const (
	// maxCaptureBytes caps captured stdout/stderr. Workspace listings for large
	// collections are the biggest thing we capture.
	maxCaptureBytes = 8 << 20

	// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	terminationGracePeriod = 5 * time.Second
)

// LocalExecutor runs commands on this machine.
type LocalExecutor struct {
	grace      time.Duration
	maxCapture int
	environ    func() []string
	logger     *slog.Logger
}

var _ Executor = (*LocalExecutor)(nil)

// NewLocalExecutor returns an executor that inherits the current process
// environment.
func NewLocalExecutor() *LocalExecutor {
	return &LocalExecutor{
		grace:      terminationGracePeriod,
		maxCapture: maxCaptureBytes,
		environ:    os.Environ,
		logger:     log.WithComponent("process"),
	}
}

// Execute starts the command, streams its output to req.Log and waits for it
// to exit, time out, or for ctx to be cancelled.
func (e *LocalExecutor) Execute(ctx context.Context, req Request) (Result, error) {
	if req.Executable == "" {
		return Result{ExitCode: -1}, fmt.Errorf("executable is empty")
	}
	if err := ctx.Err(); err != nil {
		return Result{ExitCode: -1}, err
	}

	if req.Dir != "" {
		// A build worker creates the working directory before running anything in it.
		if err := os.MkdirAll(req.Dir, 0o755); err != nil {
			return Result{ExitCode: -1}, fmt.Errorf("create working directory: %w", err)
		}
	}

	sink := req.Log
	if sink == nil {
		sink = io.Discard
	}

	env := overlayEnv(e.environ(), req.Env)
	if req.LogEnviron {
		writeEnviron(sink, env)
	}

	// Don't use CommandContext - termination is managed below.
	cmd := exec.Command(req.Executable, req.Args...)
	cmd.Dir = req.Dir
	cmd.Env = env
	cmd.WaitDelay = e.grace

	outBuf := &limitedBuffer{max: e.maxCapture}
	errBuf := &limitedBuffer{max: e.maxCapture}
	cmd.Stdout = sink
	cmd.Stderr = sink
	if req.CaptureStdout {
		cmd.Stdout = io.MultiWriter(outBuf, sink)
	}
	if req.CaptureStderr {
		cmd.Stderr = io.MultiWriter(errBuf, sink)
	}

	e.logger.Debug("starting command", "executable", req.Executable, "dir", req.Dir, "timeout", req.Timeout)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1, Duration: time.Since(start)}, fmt.Errorf("start %s: %w", req.Executable, err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	var timeout <-chan time.Time
	if req.Timeout > 0 {
		timer := time.NewTimer(req.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	result := func() Result {
		return Result{
			Stdout:   outBuf.String(),
			Stderr:   errBuf.String(),
			Duration: time.Since(start),
		}
	}

	select {
	case <-timeout:
		e.logger.Warn("command timed out, sending SIGTERM", "executable", req.Executable, "timeout", req.Timeout)
		e.terminate(cmd, waitErr)
		res := result()
		res.ExitCode = -1
		res.TimedOut = true
		fmt.Fprintf(sink, "\ncommand timed out after %s, killed\n", req.Timeout)
		return res, nil

	case <-ctx.Done():
		e.logger.Warn("context cancelled, terminating command", "executable", req.Executable)
		e.terminate(cmd, waitErr)
		res := result()
		res.ExitCode = -1
		return res, ctx.Err()

	case err := <-waitErr:
		res := result()
		if err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				res.ExitCode = -1
				return res, fmt.Errorf("wait for %s: %w", req.Executable, err)
			}
			res.ExitCode = exitErr.ExitCode()
			e.logger.Debug("command exited with non-zero status", "executable", req.Executable, "exit_code", res.ExitCode)
		}
		return res, nil
	}
}

// terminate sends SIGTERM, then SIGKILL once the grace period expires.
func (e *LocalExecutor) terminate(cmd *exec.Cmd, waitErr <-chan error) {
	if cmd.Process == nil {
		return
	}
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Windows has no SIGTERM; fall straight through to Kill.
		e.logger.Debug("failed to send SIGTERM", "error", err)
	}

	grace := time.NewTimer(e.grace)
	defer grace.Stop()

	select {
	case <-waitErr:
		return
	case <-grace.C:
		e.logger.Warn("command did not exit after SIGTERM, sending SIGKILL")
		if err := cmd.Process.Kill(); err != nil {
			e.logger.Error("failed to send SIGKILL", "error", err)
		}
		<-waitErr
	}
}

// overlayEnv applies overrides on top of base, replacing existing keys.
func overlayEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, replaced := overrides[key]; replaced {
			continue
		}
		out = append(out, kv)
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+overrides[k])
	}
	return out
}

func writeEnviron(w io.Writer, env []string) {
	sorted := append([]string(nil), env...)
	sort.Strings(sorted)

	var b strings.Builder
	b.WriteString("environment:\n")
	for _, kv := range sorted {
		b.WriteString("  ")
		b.WriteString(kv)
		b.WriteByte('\n')
	}
	_, _ = io.WriteString(w, b.String())
}

type limitedBuffer struct {
	max       int
	buf       bytes.Buffer
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if b.max <= 0 {
		return n, nil
	}
	remain := b.max - b.buf.Len()
	if remain > 0 {
		if remain > len(p) {
			remain = len(p)
		}
		_, _ = b.buf.Write(p[:remain])
	}
	if len(p) > remain {
		b.truncated = true
	}
	return n, nil
}

func (b *limitedBuffer) String() string { return b.buf.String() }
