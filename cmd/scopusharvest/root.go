package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"scopusharvest/pkg/config"
	"scopusharvest/pkg/logger"
	"scopusharvest/pkg/ui"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	logFile    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "scopusharvest",
	Short: "Budgeted, resumable harvester for the Scopus Search API",
	Long: `scopusharvest pages through a Scopus search with cursor pagination and
writes the raw records to gzip-compressed JSON Lines chunks.

Features:
  - Client-side rate limiting below the API's per-second ceiling
  - A hard per-run request budget so weekly quotas are never overrun
  - Cursor checkpointing after every page; runs resume where they stopped
  - Retries with exponential backoff for transient failures
  - A cron scheduler for the weekly run plan
  - Prometheus metrics`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.PrintError("Error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./scopusharvest.yaml or ~/.config/scopusharvest/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write JSON logs to this file")

	rootCmd.SetVersionTemplate(`scopusharvest {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig loads configuration with the given command flags merged in
// and initializes the global logger from it
func loadConfig(flags map[string]interface{}) (*config.Config, error) {
	if flags == nil {
		flags = make(map[string]interface{})
	}
	if logLevel != "" {
		flags["log-level"] = logLevel
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, err
	}
	if logFile != "" {
		cfg.Logging.File = logFile
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}
