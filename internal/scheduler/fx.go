package scheduler

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
)

// Schedule starts the cron loop with the application and stops it on
// shutdown. Only the serve command invokes it.
var Schedule = fx.Invoke(Register)

func Register(lc fx.Lifecycle, cfg Config, sched *Scheduler) {
	if !cfg.Enabled {
		return
	}

	var cancel context.CancelFunc
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			return sched.Start(ctx)
		},
		OnStop: func(context.Context) error {
			if cancel != nil {
				cancel()
			}
			sched.Stop()
			return nil
		},
	})
}
