package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/mattjoyce/tfsync/internal/config"
	"github.com/mattjoyce/tfsync/internal/history"
	"github.com/mattjoyce/tfsync/internal/lock"
	"github.com/mattjoyce/tfsync/internal/log"
	"github.com/mattjoyce/tfsync/internal/metrics"
	"github.com/mattjoyce/tfsync/internal/stdio"
	"github.com/mattjoyce/tfsync/internal/storage"
	"github.com/mattjoyce/tfsync/internal/tfvc"
)

func runSync(args []string) int {
	fs := newFlagSet("sync")
	configPath := fs.StringP("config", "c", "", "Path to configuration file or directory")
	revision := fs.String("revision", "", "Changeset to fetch (default: build.revision, then latest)")
	mode := fs.String("mode", "", "Override source.mode (full|incremental)")
	builder := fs.String("builder", "", "Override build.builder")
	workdirFlag := fs.String("workdir", "", "Override build.workdir")
	logPath := fs.String("log", "", "Append tool output to FILE instead of stdout")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "Unexpected argument: %s\n", fs.Arg(0))
		return exitUsage
	}

	cfg, err := config.LoadUnvalidated(config.ResolvePath(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitUsage
	}
	cfg.ApplyOverrides(config.Overrides{
		Revision: *revision,
		Mode:     *mode,
		Builder:  *builder,
		Workdir:  *workdirFlag,
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitUsage
	}
	syncCfg, id, err := cfg.ToSync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return exitUsage
	}

	log.Setup(cfg.LogLevel, cfg.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("tfsync starting", "version", version, "config", cfg.Path, "builder", id.Builder, "worker", id.Worker)

	buildLock, err := lock.Acquire(cfg.LockFile())
	if err != nil {
		logger.Error("failed to acquire build directory lock (another sync may be running)", "path", cfg.LockFile(), "error", err)
		return exitFatal
	}
	defer buildLock.Release()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return exitFatal
	}
	defer db.Close()
	store := history.New(db)

	runID, err := store.BeginRun(ctx, history.BeginRequest{
		Builder:   id.Builder,
		Worker:    id.Worker,
		Workspace: id.WorkspaceName(),
		Branch:    syncCfg.Branch,
		Mode:      string(syncCfg.Mode),
		Revision:  syncCfg.Revision,
	})
	if err != nil {
		logger.Error("failed to record run", "error", err)
		return exitFatal
	}
	runLogger := log.WithRun(runID)

	var out io.Writer = os.Stdout
	if *logPath != "" {
		f, err := os.OpenFile(*logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			runLogger.Error("failed to open log file", "path", *logPath, "error", err)
			_ = store.FinishRun(context.WithoutCancel(ctx), runID, tfvc.Report{}, err)
			return exitFatal
		}
		defer f.Close()
		out = f
	}
	sink := stdio.New(out)

	reg := prom.NewRegistry()
	var recorder metrics.Recorder = metrics.NoopRecorder{}
	if cfg.Metrics.Textfile != "" {
		recorder = metrics.NewPrometheusRecorder(reg)
	}

	syncer := tfvc.New(syncCfg, id,
		tfvc.WithLog(sink),
		tfvc.WithRecorder(store.Recorder(runID)),
		tfvc.WithRecorder(recorder),
		tfvc.WithLogger(runLogger),
	)
	report, runErr := syncer.Run(ctx)

	// The ledger and metrics are written even when the run was interrupted.
	finishCtx := context.WithoutCancel(ctx)
	if err := store.FinishRun(finishCtx, runID, report, runErr); err != nil {
		runLogger.Warn("failed to finish run record", "error", err)
	}
	finishMetrics(recorder, report, runErr)
	if err := metrics.WriteTextfile(cfg.Metrics.Textfile, reg); err != nil {
		runLogger.Warn("failed to export metrics", "path", cfg.Metrics.Textfile, "error", err)
	}
	if n, err := store.Prune(finishCtx, cfg.State.Retention); err != nil {
		runLogger.Warn("failed to prune run history", "error", err)
	} else if n > 0 {
		runLogger.Info("pruned run history", "runs", n, "retention", cfg.State.Retention)
	}
	if err := sink.Err(); err != nil {
		runLogger.Warn("tool output was not fully written", "error", err)
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "sync failed: %v\n", runErr)
		return exitFatal
	}
	return exitOK
}

func finishMetrics(r metrics.Recorder, report tfvc.Report, runErr error) {
	r.ObserveRunDuration(report.Duration)
	switch {
	case runErr == nil:
		r.IncRunOutcome(metrics.OutcomeSuccess, report.Decision.String())
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		r.IncRunOutcome(metrics.OutcomeCanceled, "")
	default:
		r.IncRunOutcome(metrics.OutcomeFailed, "")
	}
}
