package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("source", "bulk-add"),
		attribute.String("imei", "123456789012345"),
		attribute.String("status", "completed"),
	)
	require.Len(t, attrs, 2)
	keys := []attribute.Key{attrs[0].Key, attrs[1].Key}
	assert.Contains(t, keys, attribute.Key("source"))
	assert.Contains(t, keys, attribute.Key("status"))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordEnqueued(ctx, "bulk-add", 2)
	m.RecordProcessed(ctx, "bulk-add", "completed")
	m.RecordDiagnosticsCall(ctx, "device", "ok")
	m.RecordArchiveRows(ctx, "archive", 3)
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "stockline"}, noop.NewMeterProvider())
	require.NoError(t, err)
	m.RecordEnqueued(context.Background(), "bulk-add", 1)
}

func TestCountersExportOnlyAllowedLabels(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithView(labelView()))
	m, err := New(Config{}, provider)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordEnqueued(ctx, " bulk-add ", 3)
	m.RecordEnqueued(ctx, "bulk-add", 0)
	m.RecordArchiveRows(ctx, "restore", 2)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	assert.Equal(t, "stockline", rm.ScopeMetrics[0].Scope.Name)

	sums := map[string]metricdata.Sum[int64]{}
	for _, md := range rm.ScopeMetrics[0].Metrics {
		sums[md.Name] = md.Data.(metricdata.Sum[int64])
	}
	enqueued := sums[counterEnqueued]
	require.Len(t, enqueued.DataPoints, 1)
	assert.Equal(t, int64(3), enqueued.DataPoints[0].Value)
	source, ok := enqueued.DataPoints[0].Attributes.Value("source")
	require.True(t, ok)
	assert.Equal(t, "bulk-add", source.AsString())
	assert.Equal(t, int64(2), sums[counterArchiveRows].DataPoints[0].Value)
}
