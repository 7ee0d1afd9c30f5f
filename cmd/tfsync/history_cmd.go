package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/mattjoyce/tfsync/internal/api"
	"github.com/mattjoyce/tfsync/internal/config"
	"github.com/mattjoyce/tfsync/internal/history"
	"github.com/mattjoyce/tfsync/internal/inspect"
	"github.com/mattjoyce/tfsync/internal/log"
	"github.com/mattjoyce/tfsync/internal/storage"
)

// openHistory loads the configuration and opens the run ledger it names.
func openHistory(configPath string) (*config.Config, *history.Store, func(), error) {
	cfg, err := config.LoadUnvalidated(config.ResolvePath(configPath))
	if err != nil {
		return nil, nil, nil, err
	}
	db, err := storage.OpenSQLite(context.Background(), cfg.State.Path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database %s: %w", cfg.State.Path, err)
	}
	return cfg, history.New(db), func() { _ = db.Close() }, nil
}

func runHistoryList(args []string) int {
	fs := newFlagSet("list")
	configPath := fs.StringP("config", "c", "", "Path to configuration file or directory")
	builder := fs.String("builder", "", "Only runs of this builder")
	status := fs.String("status", "", "Only runs in this status (running|succeeded|failed|cancelled)")
	limit := fs.IntP("limit", "n", 20, "Maximum number of runs")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	_, store, closeDB, err := openHistory(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitUsage
	}
	defer closeDB()

	runs, err := store.ListRuns(context.Background(), history.ListFilter{
		Builder: *builder,
		Status:  history.Status(*status),
		Limit:   *limit,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFatal
	}

	if *jsonOut {
		if runs == nil {
			runs = []history.Run{}
		}
		return printJSON(runs)
	}
	fmt.Print(inspect.RenderRuns(runs))
	return exitOK
}

func runHistoryShow(args []string) int {
	fs := newFlagSet("show")
	configPath := fs.StringP("config", "c", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: tfsync history show <run_id> [--config PATH] [--json]")
		return exitUsage
	}

	_, store, closeDB, err := openHistory(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitUsage
	}
	defer closeDB()

	run, err := store.GetRun(context.Background(), fs.Arg(0))
	if err != nil {
		if errors.Is(err, history.ErrRunNotFound) {
			fmt.Fprintf(os.Stderr, "Run %q not found\n", fs.Arg(0))
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return exitFatal
	}

	if *jsonOut {
		out, err := inspect.BuildJSONReport(*run)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitFatal
		}
		fmt.Println(out)
		return exitOK
	}
	fmt.Print(inspect.RenderRun(*run))
	return exitOK
}

func runHistoryServe(args []string) int {
	fs := newFlagSet("serve")
	configPath := fs.StringP("config", "c", "", "Path to configuration file or directory")
	listen := fs.String("listen", "", "Listen address (default: api.listen)")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	cfg, store, closeDB, err := openHistory(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitUsage
	}
	defer closeDB()

	if *listen != "" {
		cfg.API.Listen = *listen
	}
	if cfg.API.Listen == "" {
		fmt.Fprintln(os.Stderr, "No listen address: set api.listen or pass --listen")
		return exitUsage
	}

	log.Setup(cfg.LogLevel, cfg.LogFormat)
	logger := log.WithComponent("main")
	if cfg.API.Token == "" {
		logger.Warn("history API has no bearer token configured", "listen", cfg.API.Listen)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The textfile carries the sync process's own metrics; the server exports
	// its Go runtime and process collectors.
	server := api.New(api.Config{Listen: cfg.API.Listen, Token: cfg.API.Token}, store, prom.DefaultGatherer, log.WithComponent("api"))
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("API server failed", "error", err)
		return exitFatal
	}
	logger.Info("API server stopped")
	return exitOK
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
		return exitFatal
	}
	fmt.Println(string(data))
	return exitOK
}
