package metrics

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("member_id", "123"),
		attribute.String("commission_type", "REFERRAL"),
		attribute.String("tier", "gold"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "member_id" {
			t.Fatalf("expected member_id to be dropped")
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordTransaction(ctx, "subscription", "processed")
	m.RecordCommission(ctx, "REFERRAL", "paid")
	m.ObserveCascade(ctx, time.Second)
}

func TestNopMetricsRecord(t *testing.T) {
	m := NewNop()
	if m == nil {
		t.Fatalf("expected nop metrics")
	}
	m.RecordEventDispatched(context.Background(), "commission.posted", "sent")
}
