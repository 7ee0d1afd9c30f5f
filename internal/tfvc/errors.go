package tfvc

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrToolNotInstalled means the tf executable could not be run at all.
	ErrToolNotInstalled = errors.New("tf tool is not installed on this worker")

	// ErrCorruptedListing means the workspace listing could not be parsed.
	// Proceeding would risk creating a workspace over an existing one.
	ErrCorruptedListing = errors.New("corrupted workspace listing")

	// ErrCommandFailed is wrapped by every fatal command failure.
	ErrCommandFailed = errors.New("tf command failed")

	// ErrInvalidConfig is returned before any command runs.
	ErrInvalidConfig = errors.New("invalid sync configuration")
)

// CommandError describes a fatal command failure. Args are redacted.
type CommandError struct {
	Args     []string
	ExitCode int
	TimedOut bool
	Err      error
}

func (e *CommandError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: tf %s", ErrCommandFailed, strings.Join(e.Args, " "))
	switch {
	case e.TimedOut:
		b.WriteString(": timed out")
	case e.Err != nil:
		fmt.Fprintf(&b, ": %v", e.Err)
	default:
		fmt.Fprintf(&b, ": exit code %d", e.ExitCode)
	}
	return b.String()
}

// Unwrap lets errors.Is match both ErrCommandFailed and the underlying cause.
func (e *CommandError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrCommandFailed, e.Err}
	}
	return []error{ErrCommandFailed}
}

// abortHeader is the short line written to the stdio log when a run aborts.
func abortHeader(err error) string {
	switch {
	case errors.Is(err, ErrToolNotInstalled):
		return "tf tool missing on worker, aborting"
	case errors.Is(err, ErrCorruptedListing):
		return "corrupted workspace listing, aborting"
	case errors.Is(err, ErrCommandFailed):
		return "tf command failed, aborting"
	default:
		return "sync aborted: " + err.Error()
	}
}
