package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/uplink/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultStreamMaxLen = 100_000

// Dispatcher delivers one event to the notification collaborator.
type Dispatcher interface {
	Dispatch(ctx context.Context, evt OutboxEvent) error
}

type DispatcherParams struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
	Client *redis.Client `optional:"true"`
}

// NewDispatcher streams to redis when a client is available and logs
// otherwise.
func NewDispatcher(p DispatcherParams) Dispatcher {
	if p.Client != nil {
		return NewRedisStreamDispatcher(p.Client, p.Config.EventStream, defaultStreamMaxLen)
	}
	return NewLogDispatcher(p.Log)
}

// RedisStreamDispatcher appends events to a redis stream.
type RedisStreamDispatcher struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisStreamDispatcher(client *redis.Client, stream string, maxLen int64) *RedisStreamDispatcher {
	stream = strings.TrimSpace(stream)
	if stream == "" {
		stream = "uplink:events"
	}
	return &RedisStreamDispatcher{client: client, stream: stream, maxLen: maxLen}
}

func (d *RedisStreamDispatcher) Dispatch(ctx context.Context, evt OutboxEvent) error {
	values, err := streamValues(evt)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: d.stream,
		Values: values,
	}
	if d.maxLen > 0 {
		args.MaxLen = d.maxLen
		args.Approx = true
	}
	return d.client.XAdd(ctx, args).Err()
}

func streamValues(evt OutboxEvent) (map[string]any, error) {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":           evt.ID.String(),
		"type":         evt.Type,
		"aggregate_id": evt.AggregateID.String(),
		"dedupe_key":   evt.DedupeKey,
		"occurred_at":  evt.OccurredAt.UTC().Format(time.RFC3339Nano),
		"payload":      string(payload),
	}, nil
}

// LogDispatcher writes events to the structured log.
type LogDispatcher struct {
	log *zap.Logger
}

func NewLogDispatcher(log *zap.Logger) *LogDispatcher {
	return &LogDispatcher{log: log.Named("events.dispatcher")}
}

func (d *LogDispatcher) Dispatch(ctx context.Context, evt OutboxEvent) error {
	d.log.Info("domain event",
		zap.String("event_id", evt.ID.String()),
		zap.String("type", evt.Type),
		zap.String("aggregate_id", evt.AggregateID.String()),
		zap.Any("payload", map[string]any(evt.Payload)),
	)
	return nil
}
