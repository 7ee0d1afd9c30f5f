package tfvc

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattjoyce/tfsync/internal/log"
	"github.com/mattjoyce/tfsync/internal/process"
	"github.com/mattjoyce/tfsync/internal/stdio"
	"github.com/mattjoyce/tfsync/internal/workdir"
)

// logSink is the per-run stdio log.
type logSink interface {
	io.Writer
	AddHeader(format string, args ...any)
}

// Report describes a successful run.
type Report struct {
	Workspace string
	Created   bool
	Unmapped  []string
	Decision  Decision
	Revision  string
	Commands  int
	Duration  time.Duration
}

// Syncer runs the synchronization step. A Syncer may be reused; each Run
// starts from fresh per-run state.
type Syncer struct {
	cfg       Config
	id        Identity
	executor  process.Executor
	dirs      workdir.Manager
	log       logSink
	recorders []Recorder
	logger    *slog.Logger
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithExecutor replaces the local process executor.
func WithExecutor(e process.Executor) Option {
	return func(s *Syncer) { s.executor = e }
}

// WithWorkdir replaces the filesystem manager for the build directory.
func WithWorkdir(m workdir.Manager) Option {
	return func(s *Syncer) { s.dirs = m }
}

// WithLog sets the stdio log receiving command output.
func WithLog(l *stdio.Log) Option {
	return func(s *Syncer) { s.log = l }
}

// WithRecorder adds a command observer.
func WithRecorder(r Recorder) Option {
	return func(s *Syncer) {
		if r != nil {
			s.recorders = append(s.recorders, r)
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Syncer) { s.logger = l }
}

// New creates a Syncer for cfg, applying defaults for tool path, branch
// directory, mode and timeout.
func New(cfg Config, id Identity, opts ...Option) *Syncer {
	s := &Syncer{
		cfg:    cfg.withDefaults(),
		id:     id,
		logger: log.WithComponent("tfvc"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.executor == nil {
		s.executor = process.NewLocalExecutor()
	}
	if s.log == nil {
		s.log = stdio.New(io.Discard)
	}
	return s
}

// run is the state of one synchronization; nothing in it outlives Run.
type run struct {
	*runner
	id        Identity
	dirs      workdir.Manager
	workspace string
}

// Run performs the whole synchronization. Any fatal failure stops the run
// immediately; no further commands are issued and nothing is rolled back.
func (s *Syncer) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	report := Report{Revision: s.cfg.Revision}

	if err := s.cfg.validate(); err != nil {
		return report, err
	}

	dirs := s.dirs
	if dirs == nil {
		m, err := workdir.NewFSManager(s.cfg.Workdir)
		if err != nil {
			return report, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		dirs = m
	}

	r := &run{
		runner: &runner{
			cfg:        s.cfg,
			executor:   s.executor,
			log:        s.log,
			recorders:  s.recorders,
			logger:     s.logger,
			logEnviron: true,
		},
		id:        s.id,
		dirs:      dirs,
		workspace: s.id.WorkspaceName(),
	}
	report.Workspace = r.workspace

	err := r.sync(ctx, &report)
	report.Commands = r.seq
	report.Duration = time.Since(start)
	if err != nil {
		s.log.AddHeader("%s", abortHeader(err))
		s.logger.Error("sync failed", "workspace", r.workspace, "error", err)
		return report, err
	}

	s.logger.Info("sync complete",
		"workspace", r.workspace,
		"decision", report.Decision.String(),
		"revision", report.Revision,
		"commands", report.Commands,
		"duration", report.Duration,
	)
	return report, nil
}

func (r *run) sync(ctx context.Context, report *Report) error {
	installed, err := r.probe(ctx)
	if err != nil {
		return err
	}
	if !installed {
		return fmt.Errorf("%w: %s", ErrToolNotInstalled, r.cfg.ToolPath)
	}

	rec, err := r.reconcile(ctx)
	report.Created = rec.Created
	report.Unmapped = rec.Unmapped
	if err != nil {
		return err
	}

	decide, err := r.modeHandler(r.cfg.Mode)
	if err != nil {
		return err
	}
	decision, err := decide(ctx)
	if err != nil {
		return err
	}
	report.Decision = decision

	return r.apply(ctx, decision)
}

// isWithin reports whether child is root or below it.
func isWithin(root, child string) bool {
	rel, err := filepath.Rel(root, child)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
