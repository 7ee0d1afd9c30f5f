package main

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/tfsync/internal/config"
	"github.com/mattjoyce/tfsync/internal/doctor"
)

const secretMask = "********"

func runConfigCheck(args []string) int {
	fs := newFlagSet("check")
	configPath := fs.StringP("config", "c", "", "Path to configuration file or directory")
	format := fs.String("format", "human", "Output format: human or json")
	jsonOut := fs.Bool("json", false, "Shorthand for --format json")
	strict := fs.Bool("strict", false, "Treat warnings as errors")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if *jsonOut {
		*format = "json"
	}
	if *format != "human" && *format != "json" {
		fmt.Fprintf(os.Stderr, "Unknown format %q (want human or json)\n", *format)
		return exitUsage
	}

	cfg, err := config.LoadUnvalidated(config.ResolvePath(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return exitUsage
	}

	result := doctor.New(cfg).Validate()
	if *format == "json" {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return exitFatal
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid || (*strict && len(result.Warnings) > 0) {
		return exitUsage
	}
	return exitOK
}

func runConfigLock(args []string) int {
	fs := newFlagSet("lock")
	configPath := fs.StringP("config", "c", "", "Path to configuration file or directory")
	dryRun := fs.Bool("dry-run", false, "Show the hash without writing .checksums")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	report, err := config.Lock(config.ResolvePath(*configPath), *dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Lock failed: %v\n", err)
		return exitFatal
	}

	if report.Written {
		fmt.Printf("Locked %s\n", report.ConfigPath)
	} else {
		fmt.Printf("Would lock %s\n", report.ConfigPath)
	}
	fmt.Printf("  blake3: %s\n", report.Hash)
	fmt.Printf("  manifest: %s\n", report.ChecksumPath)
	return exitOK
}

func runConfigShow(args []string) int {
	fs := newFlagSet("show")
	configPath := fs.StringP("config", "c", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	cfg, err := config.LoadUnvalidated(config.ResolvePath(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return exitUsage
	}
	masked := maskSecrets(*cfg)

	if *jsonOut {
		data, err := json.MarshalIndent(masked, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return exitFatal
		}
		fmt.Println(string(data))
		return exitOK
	}

	data, err := yaml.Marshal(masked)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render YAML: %v\n", err)
		return exitFatal
	}
	fmt.Print(string(data))
	return exitOK
}

func maskSecrets(cfg config.Config) config.Config {
	if cfg.Source.Password != "" {
		cfg.Source.Password = secretMask
	}
	if cfg.API.Token != "" {
		cfg.API.Token = secretMask
	}
	return cfg
}
