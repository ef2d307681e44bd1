package events

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/uplink/internal/clock"
	"github.com/smallbiznis/uplink/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type OutboxParams struct {
	fx.In

	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock `optional:"true"`
}

type Outbox struct {
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewOutbox(p OutboxParams) *Outbox {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Outbox{
		log:   p.Log.Named("events.outbox"),
		genID: p.GenID,
		clock: c,
	}
}

// PublishTx stores evt inside tx. Re-publishing a dedupe key is a no-op.
func (o *Outbox) PublishTx(ctx context.Context, tx *gorm.DB, evt Event) error {
	if strings.TrimSpace(string(evt.Type)) == "" {
		return ErrInvalidEventType
	}
	dedupeKey := strings.TrimSpace(evt.DedupeKey)
	if dedupeKey == "" {
		return ErrInvalidDedupeKey
	}

	payload := make(map[string]any, len(evt.Payload)+1)
	for k, v := range evt.Payload {
		payload[k] = v
	}
	correlation.InjectIntoPayload(ctx, payload)

	result := tx.WithContext(ctx).Exec(
		`INSERT INTO domain_events (
			id, type, aggregate_id, payload, dedupe_key, occurred_at, attempts
		) VALUES (?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT (dedupe_key) DO NOTHING`,
		o.genID.Generate(),
		string(evt.Type),
		evt.AggregateID,
		datatypes.JSONMap(payload),
		dedupeKey,
		o.clock.Now().UTC(),
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		o.log.Debug("duplicate event ignored", zap.String("dedupe_key", dedupeKey))
	}
	return nil
}
