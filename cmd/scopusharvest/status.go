package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"scopusharvest/pkg/chunk"
	"scopusharvest/pkg/cursor"
	"scopusharvest/pkg/scopus"
	"scopusharvest/pkg/ui"
)

var forceReset bool

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored cursor and written chunks",
	Long: `Show the stored cursor state and the chunk files in the output directory.

A warning is printed when the stored cursor belongs to a different query than
the one currently configured; the next harvest would start over.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

// resetCmd represents the reset command
var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the stored cursor so the next run starts over",
	Long: `Delete the cursor state file. Chunk files are kept and numbering continues
after the highest chunk already in the output directory.`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resetCmd)

	resetCmd.Flags().BoolVarP(&forceReset, "yes", "y", false, "do not ask for confirmation")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	store := cursor.NewStore(cfg.Harvest.CursorFile, cfg.Harvest.CursorExpiry)
	state, err := store.Read()
	if err != nil {
		return err
	}
	chunks, err := chunk.ListChunks(cfg.Harvest.OutputDir)
	if err != nil {
		return fmt.Errorf("failed to list chunks: %w", err)
	}

	ui.PrintInfo("Query", cfg.Query.Query)
	ui.PrintInfo("Date range", cfg.Query.DateRange)
	ui.PrintState(store.Path(), state, chunks)

	if state != nil {
		sig := scopus.Query{
			Query:     cfg.Query.Query,
			DateRange: cfg.Query.DateRange,
			Sort:      cfg.Query.Sort,
			View:      cfg.Query.View,
		}.Signature()
		if state.QuerySignature != sig {
			ui.PrintWarning("Stored cursor belongs to a different query; the next harvest starts over")
		}
	}
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	store := cursor.NewStore(cfg.Harvest.CursorFile, cfg.Harvest.CursorExpiry)
	if !store.Exists() {
		ui.PrintInfo("Nothing to reset", store.Path())
		return nil
	}

	if !forceReset {
		fmt.Printf("Delete %s? The next harvest will start from the first page. (y/N): ", store.Path())
		input, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return nil
		}
	}

	if err := store.Delete(); err != nil {
		return err
	}
	ui.PrintSuccess("Cursor state removed: " + store.Path())
	return nil
}
