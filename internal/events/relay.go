package events

import (
	"context"
	"time"

	"github.com/smallbiznis/uplink/internal/batch"
	"github.com/smallbiznis/uplink/internal/clock"
	obsmetrics "github.com/smallbiznis/uplink/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultRelayLimit = 100
	maxAttempts       = 10
)

type RelayParams struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	Dispatcher       Dispatcher
	Clock            clock.Clock                  `optional:"true"`
	ObsMetrics       *obsmetrics.Metrics          `optional:"true"`
	SchedulerMetrics *obsmetrics.SchedulerMetrics `optional:"true"`
}

// Relay forwards undispatched outbox events.
type Relay struct {
	db               *gorm.DB
	log              *zap.Logger
	dispatcher       Dispatcher
	clock            clock.Clock
	obsMetrics       *obsmetrics.Metrics
	schedulerMetrics *obsmetrics.SchedulerMetrics
}

func NewRelay(p RelayParams) *Relay {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Relay{
		db:               p.DB,
		log:              p.Log.Named("events.relay"),
		dispatcher:       p.Dispatcher,
		clock:            c,
		obsMetrics:       p.ObsMetrics,
		schedulerMetrics: p.SchedulerMetrics,
	}
}

// Dispatch sends up to limit pending events in id order. A failed delivery
// bumps the attempt counter and leaves the event for the next run; events
// past the attempt ceiling stay parked for manual inspection.
func (r *Relay) Dispatch(ctx context.Context, limit int) (batch.Result, error) {
	if limit <= 0 {
		limit = defaultRelayLimit
	}

	var result batch.Result
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pending []OutboxEvent
		if err := tx.WithContext(ctx).Raw(
			`SELECT id, type, aggregate_id, payload, dedupe_key, occurred_at, dispatched_at, attempts, last_error
			FROM domain_events
			WHERE dispatched_at IS NULL AND attempts < ?
			ORDER BY id ASC
			LIMIT ?
			FOR UPDATE SKIP LOCKED`,
			maxAttempts,
			limit,
		).Scan(&pending).Error; err != nil {
			return err
		}

		for _, evt := range pending {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := r.dispatcher.Dispatch(ctx, evt); err != nil {
				msg := err.Error()
				if uerr := tx.WithContext(ctx).Exec(
					`UPDATE domain_events SET attempts = attempts + 1, last_error = ? WHERE id = ?`,
					msg, evt.ID,
				).Error; uerr != nil {
					return uerr
				}
				result.Fail(evt.ID.String(), batch.KindConcurrency, msg)
				r.obsMetrics.RecordEventDispatched(ctx, evt.Type, "failed")
				r.log.Warn("event dispatch failed",
					zap.String("event_id", evt.ID.String()),
					zap.String("type", evt.Type),
					zap.Int("attempts", evt.Attempts+1),
					zap.Error(err),
				)
				continue
			}

			now := r.clock.Now().UTC()
			if err := tx.WithContext(ctx).Exec(
				`UPDATE domain_events SET dispatched_at = ?, attempts = attempts + 1, last_error = NULL WHERE id = ?`,
				now, evt.ID,
			).Error; err != nil {
				return err
			}
			result.Succeed()
			r.obsMetrics.RecordEventDispatched(ctx, evt.Type, "sent")
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	if backlog, err := r.Pending(ctx); err == nil {
		r.schedulerMetrics.SetOutboxPending(backlog)
	}
	return result, nil
}

// Pending counts events that still wait for delivery.
func (r *Relay) Pending(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM domain_events WHERE dispatched_at IS NULL AND attempts < ?`,
		maxAttempts,
	).Scan(&count).Error
	return count, err
}

// Purge removes delivered events older than retention.
func (r *Relay) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := r.clock.Now().UTC().Add(-retention)
	res := r.db.WithContext(ctx).Exec(
		`DELETE FROM domain_events WHERE dispatched_at IS NOT NULL AND dispatched_at < ?`,
		cutoff,
	)
	return res.RowsAffected, res.Error
}
