// Package stdio implements the per-run "stdio" log: one append-only stream
// that receives every VCS command's stdout and stderr plus short status
// headers. Writes are serialized so output from consecutive commands stays in
// order.
package stdio

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// Log is safe for concurrent use; stdout and stderr of one subprocess are
// copied by separate goroutines.
type Log struct {
	mu      sync.Mutex
	w       io.Writer
	written int64
	err     error
}

// New returns a Log writing to w. A nil writer discards output.
func New(w io.Writer) *Log {
	if w == nil {
		w = io.Discard
	}
	return &Log{w: w}
}

// Write appends raw subprocess output.
func (l *Log) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writeLocked(p)
}

// AddHeader appends a status line such as "corrupted workspace listing, aborting".
func (l *Log) AddHeader(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if !strings.HasSuffix(msg, "\n") {
		msg += "\n"
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.writeLocked([]byte(msg))
}

// Written reports how many bytes reached the underlying writer.
func (l *Log) Written() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.written
}

// Err returns the first write error, if any. Later writes are dropped after
// an error so a broken sink never fails a sync.
func (l *Log) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *Log) writeLocked(p []byte) (int, error) {
	if l.err != nil {
		return len(p), nil
	}
	n, err := l.w.Write(p)
	l.written += int64(n)
	if err != nil {
		l.err = err
	}
	return len(p), nil
}
