package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// Exit codes.
const (
	exitOK    = 0
	exitFatal = 1
	exitUsage = 2
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return exitUsage
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	// --- NOUNS ---
	case "sync":
		if hasHelpFlag(args) {
			printSyncHelp()
			return exitOK
		}
		return runSync(args)
	case "config":
		return runConfigNoun(args)
	case "history":
		return runHistoryNoun(args)

	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return exitOK

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return exitUsage
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := newFlagSet("version")
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: tfsync version [--json]")
		return exitUsage
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return exitFatal
		}
		fmt.Println(string(data))
		return exitOK
	}

	fmt.Printf("tfsync %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return exitOK
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}

	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	resolvedCommit := strings.TrimSpace(gitCommit)
	if resolvedCommit == "" || resolvedCommit == "unknown" {
		resolvedCommit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if resolvedCommit != "" {
		info.Commit = shortenCommit(resolvedCommit)
	}

	resolvedBuildTime := strings.TrimSpace(buildDate)
	if resolvedBuildTime == "" || resolvedBuildTime == "unknown" {
		resolvedBuildTime = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalizedBuildTime, ok := normalizeBuildTimeUTC(resolvedBuildTime); ok {
		info.BuildTime = normalizedBuildTime
	}

	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}

	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`tfsync - TFVC workspace synchronization for build workers

Usage:
  tfsync <command> [flags]
  tfsync <noun> <action> [flags]

Sync:
  sync              Reconcile the builder's workspace and fetch sources

Config Commands:
  config check      Validate configuration and report likely mistakes
  config lock       Record the configuration's BLAKE3 hash in .checksums
  config show       Print the resolved configuration with secrets masked

History Commands:
  history list      Show recent sync runs
  history show <id> Show one run with every tf command it issued
  history serve     Serve the run history over HTTP

General:
  version           Show version information
  help              Show this help message

Exit codes:
  0  success
  1  sync aborted or command failed
  2  usage or configuration error

Use 'tfsync <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return exitUsage
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return exitOK
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return exitOK
		}
		return runConfigCheck(actionArgs)
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return exitOK
		}
		return runConfigLock(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printConfigShowHelp()
			return exitOK
		}
		return runConfigShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return exitUsage
	}
}

func runHistoryNoun(args []string) int {
	if len(args) < 1 {
		printHistoryNounHelp(os.Stderr)
		return exitUsage
	}
	if isHelpToken(args[0]) {
		printHistoryNounHelp(os.Stdout)
		return exitOK
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			printHistoryListHelp()
			return exitOK
		}
		return runHistoryList(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printHistoryShowHelp()
			return exitOK
		}
		return runHistoryShow(actionArgs)
	case "serve":
		if hasHelpFlag(actionArgs) {
			printHistoryServeHelp()
			return exitOK
		}
		return runHistoryServe(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown history action: %s\n", action)
		return exitUsage
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.SortFlags = false
	return fs
}

// parseFlags parses args and reports whether the caller should continue.
func parseFlags(fs *pflag.FlagSet, args []string) (int, bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK, false
		}
		return exitUsage, false
	}
	return exitOK, true
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: tfsync config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, lock, show")
}

func printHistoryNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: tfsync history <action> [flags]")
	fmt.Fprintln(w, "Actions: list, show, serve")
}

func printSyncHelp() {
	fmt.Println("Usage: tfsync sync [--config PATH] [--revision C123] [--mode full|incremental] [--builder NAME] [--workdir DIR] [--log FILE]")
	fmt.Println("Reconcile the builder's TFVC workspace, then update or clobber the checkout.")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  Sources are in place")
	fmt.Println("  1  The sync aborted")
	fmt.Println("  2  Usage or configuration error")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: tfsync config check [--config PATH] [--format human|json] [--strict]")
	fmt.Println("Validate configuration and warn about likely mistakes. --strict fails on warnings.")
}

func printConfigLockHelp() {
	fmt.Println("Usage: tfsync config lock [--config PATH] [--dry-run]")
	fmt.Println("Record the configuration file's BLAKE3 hash so unreviewed edits are refused.")
}

func printConfigShowHelp() {
	fmt.Println("Usage: tfsync config show [--config PATH] [--json]")
	fmt.Println("Print the resolved configuration. Password and token are masked.")
}

func printHistoryListHelp() {
	fmt.Println("Usage: tfsync history list [--config PATH] [--builder NAME] [--status STATUS] [--limit N] [--json]")
	fmt.Println("Show recent sync runs, newest first.")
}

func printHistoryShowHelp() {
	fmt.Println("Usage: tfsync history show <run_id> [--config PATH] [--json]")
	fmt.Println("Show a run with every tf command it issued.")
}

func printHistoryServeHelp() {
	fmt.Println("Usage: tfsync history serve [--config PATH] [--listen ADDR]")
	fmt.Println("Serve /healthz, /runs, /runs/{id} and /metrics until interrupted.")
}
