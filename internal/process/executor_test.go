//go:build !windows

package process

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/tfsync/internal/log"
	"github.com/mattjoyce/tfsync/internal/stdio"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json") // Suppress logs in tests
	os.Exit(m.Run())
}

func newTestExecutor() *LocalExecutor {
	e := NewLocalExecutor()
	e.grace = 200 * time.Millisecond
	e.environ = func() []string { return []string{"PATH=" + os.Getenv("PATH"), "HOME=/nowhere"} }
	return e
}

func TestExecuteCapturesAndLogs(t *testing.T) {
	var sink bytes.Buffer
	stream := stdio.New(&sink)
	res, err := newTestExecutor().Execute(context.Background(), Request{
		Executable:    "/bin/sh",
		Args:          []string{"-c", "echo out; echo err 1>&2"},
		Dir:           t.TempDir(),
		Timeout:       5 * time.Second,
		CaptureStdout: true,
		CaptureStderr: true,
		Log:           stream,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.False(t, res.Failed())
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
	assert.Contains(t, sink.String(), "out\n")
	assert.Contains(t, sink.String(), "err\n")
}

func TestExecuteWithoutCaptureStillLogs(t *testing.T) {
	var sink bytes.Buffer
	res, err := newTestExecutor().Execute(context.Background(), Request{
		Executable: "/bin/sh",
		Args:       []string{"-c", "echo hidden"},
		Log:        &sink,
	})
	require.NoError(t, err)
	assert.Empty(t, res.Stdout)
	assert.Equal(t, "hidden\n", sink.String())
}

func TestExecuteNonZeroExit(t *testing.T) {
	res, err := newTestExecutor().Execute(context.Background(), Request{
		Executable: "/bin/sh",
		Args:       []string{"-c", "exit 100"},
	})
	require.NoError(t, err)
	assert.Equal(t, 100, res.ExitCode)
	assert.True(t, res.Failed())
}

func TestExecuteTimeoutKills(t *testing.T) {
	var sink bytes.Buffer
	start := time.Now()
	res, err := newTestExecutor().Execute(context.Background(), Request{
		Executable: "/bin/sh",
		Args:       []string{"-c", "sleep 30"},
		Timeout:    100 * time.Millisecond,
		Log:        &sink,
	})
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.True(t, res.Failed())
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Contains(t, sink.String(), "timed out")
}

func TestExecuteContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	res, err := newTestExecutor().Execute(ctx, Request{
		Executable: "/bin/sh",
		Args:       []string{"-c", "sleep 30"},
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, res.Failed())
}

func TestExecuteMissingExecutable(t *testing.T) {
	res, err := newTestExecutor().Execute(context.Background(), Request{
		Executable: filepath.Join(t.TempDir(), "tf.exe"),
	})
	assert.Error(t, err)
	assert.Equal(t, -1, res.ExitCode)
}

func TestExecuteCreatesWorkingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "build", "src")
	res, err := newTestExecutor().Execute(context.Background(), Request{
		Executable:    "/bin/sh",
		Args:          []string{"-c", "pwd"},
		Dir:           dir,
		CaptureStdout: true,
	})
	require.NoError(t, err)
	assert.DirExists(t, dir)
	assert.Equal(t, "src", filepath.Base(strings.TrimSpace(res.Stdout)))
}

func TestExecuteEnvironOverlayAndDump(t *testing.T) {
	var sink bytes.Buffer
	stream := stdio.New(&sink)
	res, err := newTestExecutor().Execute(context.Background(), Request{
		Executable:    "/bin/sh",
		Args:          []string{"-c", "echo $HOME:$TF_DIFF"},
		Env:           map[string]string{"HOME": "/home/build", "TF_DIFF": "none"},
		LogEnviron:    true,
		CaptureStdout: true,
		Log:           stream,
	})
	require.NoError(t, err)
	assert.Equal(t, "/home/build:none\n", res.Stdout)
	assert.True(t, strings.HasPrefix(sink.String(), "environment:\n"))
	assert.Contains(t, sink.String(), "  TF_DIFF=none\n")
	assert.NotContains(t, sink.String(), "HOME=/nowhere")
}

func TestOverlayEnv(t *testing.T) {
	got := overlayEnv([]string{"A=1", "B=2"}, map[string]string{"B": "3", "C": "4"})
	assert.Equal(t, []string{"A=1", "B=3", "C=4"}, got)
	assert.Equal(t, []string{"A=1"}, overlayEnv([]string{"A=1"}, nil))
}

func TestLimitedBuffer(t *testing.T) {
	b := &limitedBuffer{max: 4}
	n, err := b.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, "abcd", b.String())
	assert.True(t, b.truncated)
}
