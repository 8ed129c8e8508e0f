package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/permit-cli/internal/monitoring"
	"github.com/sells-group/permit-cli/internal/permitsync"
	"github.com/sells-group/permit-cli/internal/scheduler"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run acquisition cycles on the configured cron schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initCycle(ctx, "schedule")
		if err != nil {
			return err
		}
		defer env.Close()

		sched, err := newScheduler(env.Engine)
		if err != nil {
			return err
		}

		startChecker(ctx, env)
		return sched.Run(ctx)
	},
}

// newScheduler wires the engine's full cycle into a cron scheduler.
func newScheduler(engine *permitsync.Engine) (*scheduler.Scheduler, error) {
	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return nil, err
	}
	return scheduler.New(func(ctx context.Context) {
		if _, err := engine.RunCycle(ctx, permitsync.RunOpts{}); err != nil {
			zap.L().Error("scheduled cycle failed", zap.Error(err))
		}
	}, scheduler.Options{
		Spec:      cfg.Scheduler.Spec,
		Location:  loc,
		MaxJitter: cfg.Scheduler.MaxJitter,
	})
}

// startChecker runs the health alert loop in the background when a webhook
// is configured.
func startChecker(ctx context.Context, env *cycleEnv) {
	if cfg.Monitoring.WebhookURL == "" {
		return
	}
	collector := monitoring.NewCollector(env.Tracker, env.Engine.Registry().IDs)
	checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
	go checker.Run(ctx)
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
}
