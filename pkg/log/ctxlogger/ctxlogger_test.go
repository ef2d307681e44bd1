package ctxlogger

import (
	"context"
	"testing"

	"github.com/smallbiznis/uplink/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithContextAddsCorrelationAndJob(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)
	SetServiceName("uplink-test")

	ctx := correlation.ContextWithCorrelationID(context.Background(), "cid-1")
	ctx = ContextWithJob(ctx, "volume_aggregation")

	WithContext(ctx, base).Info("hello")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "cid-1", fields["correlation_id"])
		assert.Equal(t, "volume_aggregation", fields["job"])
		assert.Equal(t, "uplink-test", fields["service_name"])
		assert.Equal(t, "", fields["trace_id"])
	}
}

func TestExtractCorrelationGeneratesWhenMissing(t *testing.T) {
	field := ExtractCorrelation(context.Background())
	assert.Equal(t, "correlation_id", field.Key)
	assert.NotEmpty(t, field.String)
}
