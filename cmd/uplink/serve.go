package main

import (
	"github.com/smallbiznis/uplink/internal/scheduler"
	"github.com/smallbiznis/uplink/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func newServeCommand() *cobra.Command {
	var withScheduler bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long:  "Run the HTTP API. With --scheduler the batch jobs run in the same process on their cron schedules.",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []fx.Option{
				infrastructure(),
				domain(),
				server.Module,
			}
			if withScheduler {
				opts = append(opts, scheduler.Module, scheduler.Schedule)
			}
			fx.New(opts...).Run()
			return nil
		},
	}

	cmd.Flags().BoolVar(&withScheduler, "scheduler", false, "Run the batch scheduler alongside the API")
	return cmd
}

func newSchedulerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run the batch jobs on their cron schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			fx.New(
				infrastructure(),
				domain(),
				scheduler.Module,
				scheduler.Schedule,
			).Run()
			return nil
		},
	}
}
