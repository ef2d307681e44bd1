package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes engine-level instruments.
type Metrics struct {
	transactions      metric.Int64Counter
	commissions       metric.Int64Counter
	ledgerEntries     metric.Int64Counter
	tierTransitions   metric.Int64Counter
	rewardAllocations metric.Int64Counter
	eventsDispatched  metric.Int64Counter
	cascadeDuration   metric.Float64Histogram
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "uplink"
	}
	if provider == nil {
		provider = noop.NewMeterProvider()
	}
	meter := provider.Meter(name)

	transactions, err := meter.Int64Counter("uplink_transactions_total")
	if err != nil {
		return nil, err
	}
	commissions, err := meter.Int64Counter("uplink_commissions_total")
	if err != nil {
		return nil, err
	}
	ledgerEntries, err := meter.Int64Counter("uplink_ledger_entries_total")
	if err != nil {
		return nil, err
	}
	tierTransitions, err := meter.Int64Counter("uplink_tier_transitions_total")
	if err != nil {
		return nil, err
	}
	rewardAllocations, err := meter.Int64Counter("uplink_reward_allocations_total")
	if err != nil {
		return nil, err
	}
	eventsDispatched, err := meter.Int64Counter("uplink_events_dispatched_total")
	if err != nil {
		return nil, err
	}
	cascadeDuration, err := meter.Float64Histogram("uplink_cascade_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		transactions:      transactions,
		commissions:       commissions,
		ledgerEntries:     ledgerEntries,
		tierTransitions:   tierTransitions,
		rewardAllocations: rewardAllocations,
		eventsDispatched:  eventsDispatched,
		cascadeDuration:   cascadeDuration,
	}, nil
}

// NewNop returns instruments backed by a no-op provider.
func NewNop() *Metrics {
	m, _ := New(Config{}, noop.NewMeterProvider())
	return m
}

// RecordTransaction counts an ingested transaction by outcome.
func (m *Metrics) RecordTransaction(ctx context.Context, txType, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("transaction_type", strings.TrimSpace(txType)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.transactions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCommission counts a posted commission record.
func (m *Metrics) RecordCommission(ctx context.Context, commissionType, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("commission_type", strings.TrimSpace(commissionType)),
		attribute.String("status", strings.TrimSpace(status)),
	)
	m.commissions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordLedgerEntry increments ledger entry counts.
func (m *Metrics) RecordLedgerEntry(ctx context.Context, sourceType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("source_type", strings.TrimSpace(sourceType)))
	m.ledgerEntries.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordTierTransition counts a promotion or demotion.
func (m *Metrics) RecordTierTransition(ctx context.Context, direction, tier string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("direction", strings.TrimSpace(direction)),
		attribute.String("tier", strings.TrimSpace(tier)),
	)
	m.tierTransitions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRewardAllocation counts a reward status change.
func (m *Metrics) RecordRewardAllocation(ctx context.Context, rewardCode, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("reward_code", strings.TrimSpace(rewardCode)),
		attribute.String("status", strings.TrimSpace(status)),
	)
	m.rewardAllocations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordEventDispatched counts outbox events handed to the dispatcher.
func (m *Metrics) RecordEventDispatched(ctx context.Context, eventType, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("event_type", strings.TrimSpace(eventType)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.eventsDispatched.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// ObserveCascade records the wall time of one commission cascade.
func (m *Metrics) ObserveCascade(ctx context.Context, duration time.Duration) {
	if m == nil {
		return
	}
	m.cascadeDuration.Record(ctx, duration.Seconds())
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"transaction_type": {},
	"commission_type":  {},
	"status":           {},
	"outcome":          {},
	"source_type":      {},
	"direction":        {},
	"tier":             {},
	"reward_code":      {},
	"event_type":       {},
	"reason":           {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
