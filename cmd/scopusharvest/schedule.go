package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"scopusharvest/internal/schedule"
	"scopusharvest/pkg/auth"
	"scopusharvest/pkg/config"
	"scopusharvest/pkg/logger"
	"scopusharvest/pkg/metrics"
	"scopusharvest/pkg/ui"
)

var listSlots bool

// scheduleCmd represents the schedule command
var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run harvests on the configured weekly plan",
	Long: `Run in the foreground and start a harvest at every configured schedule slot.

Each slot carries its own request budget, so the slots together stay inside
the weekly API quota. A slot that fires while the previous harvest is still
running is skipped.`,
	Example: `  # Show upcoming runs
  scopusharvest schedule --list

  # Run the scheduler with metrics
  scopusharvest schedule --metrics-addr :9464`,
	Args: cobra.NoArgs,
	RunE: runSchedule,
}

func init() {
	rootCmd.AddCommand(scheduleCmd)

	scheduleCmd.Flags().BoolVar(&listSlots, "list", false, "print the next run of every slot and exit")
	scheduleCmd.Flags().StringVarP(&profile, "profile", "p", auth.DefaultProfile, "stored credential profile")
	scheduleCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
}

func runSchedule(cmd *cobra.Command, args []string) error {
	flags := make(map[string]interface{})
	if cmd.Flags().Changed("metrics-addr") {
		flags["metrics-addr"] = metricsAddr
	}
	cfg, err := loadConfig(flags)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log := logger.GetLogger()

	loc, err := schedule.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		return err
	}

	reg, m := metrics.NewRegistry()
	run := func(ctx context.Context, slot config.ScheduleSlot) error {
		summary, err := runHarvest(ctx, cfg, slot.MaxRequests, m, log.WithField("slot", slot.Name))
		if summary != nil {
			ui.PrintSummary(summary)
		}
		return err
	}

	sched, err := schedule.New(cfg.Schedule.Slots, loc, run, log)
	if err != nil {
		return err
	}

	for _, e := range sched.Entries() {
		ui.PrintInfo(e.Slot.Name, fmt.Sprintf("%s  (%d requests)", e.Next.Format("Mon 2006-01-02 15:04 MST"), e.Slot.MaxRequests))
	}
	if listSlots {
		return nil
	}

	if err := resolveCredentials(cfg, profile); err != nil {
		return err
	}

	ln, err := listenMetrics(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return withMetrics(ctx, ln, reg, log, sched.Run)
}
