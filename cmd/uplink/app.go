package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/uplink/internal/audit"
	"github.com/smallbiznis/uplink/internal/cache"
	"github.com/smallbiznis/uplink/internal/clock"
	"github.com/smallbiznis/uplink/internal/commission"
	"github.com/smallbiznis/uplink/internal/config"
	"github.com/smallbiznis/uplink/internal/events"
	"github.com/smallbiznis/uplink/internal/ledger"
	"github.com/smallbiznis/uplink/internal/lock"
	"github.com/smallbiznis/uplink/internal/migration"
	"github.com/smallbiznis/uplink/internal/network"
	"github.com/smallbiznis/uplink/internal/observability"
	"github.com/smallbiznis/uplink/internal/qualification"
	"github.com/smallbiznis/uplink/internal/reward"
	"github.com/smallbiznis/uplink/internal/volume"
	"github.com/smallbiznis/uplink/internal/workerpool"
	"github.com/smallbiznis/uplink/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// infrastructure is shared by every command that touches the database.
func infrastructure() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		cache.Module,
		workerpool.Module,
		lock.Module,
		events.Module,
	)
}

// domain wires the engine services on top of infrastructure.
func domain() fx.Option {
	return fx.Options(
		audit.Module,
		ledger.Module,
		network.Module,
		volume.Module,
		commission.Module,
		qualification.Module,
		reward.Module,
	)
}

// quiet routes fx's own lifecycle events through zap at debug level so
// one-shot commands only print their result.
func quiet() fx.Option {
	return fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
		l := &fxevent.ZapLogger{Logger: log.Named("fx")}
		l.UseLogLevel(zap.DebugLevel)
		return l
	})
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
