package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smallbiznis/uplink/internal/clock"
	"github.com/smallbiznis/uplink/internal/config"
	"github.com/smallbiznis/uplink/internal/scheduler"
	volumedomain "github.com/smallbiznis/uplink/internal/volume/domain"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var errPeriodFlag = errors.New("invalid_period")

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			app := fx.New(
				infrastructure(),
				quiet(),
				fx.Decorate(func(cfg config.Config) config.Config {
					cfg.DBAutoMigrate = true
					return cfg
				}),
			)
			if err := app.Start(ctx); err != nil {
				return err
			}
			return app.Stop(context.Background())
		},
	}
}

func newJobsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List the batch jobs in run order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range []string{
				scheduler.JobPathRebuild,
				scheduler.JobVolumeAggregation,
				scheduler.JobQualificationSweep,
				scheduler.JobRewardEligibility,
				scheduler.JobRewardMaintenance,
				scheduler.JobEventRelay,
			} {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newRunCommand() *cobra.Command {
	var (
		period string
		all    bool
	)

	cmd := &cobra.Command{
		Use:   "run [job]",
		Short: "Run a batch job once and exit",
		Long: "Run a single batch job, or with --all every job in dependency order. " +
			"Monthly jobs close the month before now unless --period names one.",
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			var (
				sched *scheduler.Scheduler
				clk   clock.Clock
			)
			app := fx.New(
				infrastructure(),
				domain(),
				scheduler.Module,
				quiet(),
				fx.Populate(&sched, &clk),
			)
			if err := app.Start(ctx); err != nil {
				return err
			}
			defer func() {
				_ = app.Stop(context.Background())
			}()

			asOf, err := runAsOf(period, clk.Now())
			if err != nil {
				return err
			}
			if all {
				return sched.RunOnce(ctx, asOf)
			}
			return sched.Run(ctx, args[0], asOf)
		},
	}

	cmd.Flags().StringVar(&period, "period", "", "Month to close, as YYYY-MM")
	cmd.Flags().BoolVar(&all, "all", false, "Run every enabled job in dependency order")
	return cmd
}

// runAsOf returns the instant the jobs treat as now. Monthly jobs close the
// month before it, so a named period maps to the instant it ends.
func runAsOf(period string, now time.Time) (time.Time, error) {
	if period == "" {
		return now, nil
	}
	p, err := volumedomain.ParseMonth(period)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s", errPeriodFlag, period)
	}
	if now.Before(p.End) {
		return time.Time{}, fmt.Errorf("%w: %s has not ended", errPeriodFlag, period)
	}
	return p.End, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
