// Package workerpool provides the shared pond pool used by batch jobs to fan
// out work across independent members.
package workerpool

import (
	"context"
	"runtime"

	"github.com/alitto/pond/v2"
	"github.com/smallbiznis/uplink/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("workerpool",
	fx.Provide(New),
)

// Size returns the configured worker count, defaulting to four per CPU.
func Size(configured int) int {
	if configured > 0 {
		return configured
	}
	size := runtime.NumCPU() * 4
	if size > 64 {
		size = 64
	}
	return size
}

// New builds the pool and drains it on shutdown.
func New(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) pond.Pool {
	size := Size(cfg.WorkerPoolSize)
	pool := pond.NewPool(size)
	log.Named("workerpool").Info("worker pool ready", zap.Int("size", size))

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.StopAndWait()
			return nil
		},
	})
	return pool
}
