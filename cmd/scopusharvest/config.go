package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"scopusharvest/pkg/auth"
	"scopusharvest/pkg/config"
	"scopusharvest/pkg/ui"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage scopusharvest configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (SCOPUS_API_KEY, SCOPUSHARVEST_*)
  - .env files
  - Configuration file
  - Default values (lowest priority)`,
}

// initCmd represents the config init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration to a file",
	Long: `Write the default configuration, including the weekly schedule, to
'scopusharvest.yaml' or the path given with --config. Credentials are never
written to the file.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

// showCmd represents the config show command
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

// validateCmd represents the config validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Load and validate the configuration, then check that the output and
cursor locations are writable.`,
	Args: cobra.NoArgs,
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(validateCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = "scopusharvest.yaml"
	}

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("configuration file already exists: %s", path)
	}

	if err := config.DefaultConfig().Save(path); err != nil {
		return err
	}

	ui.PrintSuccess("Configuration written: " + path)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Edit the query, date range and schedule")
	fmt.Println("2. Store your API key with 'scopusharvest auth login'")
	fmt.Println("3. Check everything with 'scopusharvest config validate'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	display := *cfg
	if display.API.APIKey != "" {
		display.API.APIKey = auth.MaskString(display.API.APIKey)
	}
	if display.API.InstToken != "" {
		display.API.InstToken = auth.MaskString(display.API.InstToken)
	}

	data, err := yaml.Marshal(&display)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	ui.PrintHighlight("Current Configuration")
	fmt.Println()
	fmt.Print(string(data))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	var problems, warnings []string

	if err := os.MkdirAll(cfg.Harvest.OutputDir, 0755); err != nil {
		problems = append(problems, fmt.Sprintf("cannot create output directory: %v", err))
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Harvest.CursorFile), 0755); err != nil {
		problems = append(problems, fmt.Sprintf("cannot create cursor directory: %v", err))
	}
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			problems = append(problems, fmt.Sprintf("cannot create log directory: %v", err))
		}
	}

	if cfg.API.APIKey == "" {
		warnings = append(warnings, "no API key in config or environment; a stored credential will be needed")
	}
	weekly := 0
	for _, slot := range cfg.Schedule.Slots {
		weekly += slot.MaxRequests
	}
	if cfg.RateLimit.RequestsPerSecond >= 10 {
		warnings = append(warnings, "requests_per_second is at or above the API ceiling of 10")
	}

	if len(problems) > 0 {
		ui.PrintError("Configuration has errors")
		for _, p := range problems {
			fmt.Printf("  - %s\n", p)
		}
		return fmt.Errorf("%d configuration error(s)", len(problems))
	}
	if len(warnings) > 0 {
		ui.PrintWarning("Configuration warnings")
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
		fmt.Println()
	}

	ui.PrintSuccess("Configuration is valid")
	fmt.Println("\nConfiguration summary:")
	fmt.Printf("  Query: %s (%s)\n", cfg.Query.Query, cfg.Query.DateRange)
	fmt.Printf("  Output directory: %s\n", cfg.Harvest.OutputDir)
	fmt.Printf("  Cursor file: %s\n", cfg.Harvest.CursorFile)
	fmt.Printf("  Budget per run: %d requests\n", cfg.Harvest.MaxRequests)
	fmt.Printf("  Rate limit: %.1f requests/second (%s)\n", cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Algorithm)
	fmt.Printf("  Scheduled requests per week: %d\n", weekly)
	return nil
}
