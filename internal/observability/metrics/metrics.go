package metrics

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	counterEnqueued    = "stockline_queue_items_enqueued_total"
	counterProcessed   = "stockline_queue_items_processed_total"
	counterDiagnostics = "stockline_diagnostics_calls_total"
	counterArchiveRows = "stockline_archive_rows_total"
)

var counterDefs = []struct {
	name, description, unit string
}{
	{counterEnqueued, "Queue items accepted by enqueue.", "{item}"},
	{counterProcessed, "Queue items that reached a terminal state or were retried.", "{item}"},
	{counterDiagnostics, "Calls made to the diagnostics provider.", "{call}"},
	{counterArchiveRows, "Rows archived, restored or purged.", "{row}"},
}

// Metrics records pipeline counters through the OTLP meter provider. A nil
// *Metrics records nothing.
type Metrics struct {
	counters map[string]metric.Int64Counter
}

// New creates the pipeline counters on provider.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	scope := strings.TrimSpace(cfg.ServiceName)
	if scope == "" {
		scope = "stockline"
	}
	meter := provider.Meter(scope)

	m := &Metrics{counters: make(map[string]metric.Int64Counter, len(counterDefs))}
	for _, def := range counterDefs {
		counter, err := meter.Int64Counter(def.name,
			metric.WithDescription(def.description),
			metric.WithUnit(def.unit),
		)
		if err != nil {
			return nil, err
		}
		m.counters[def.name] = counter
	}
	return m, nil
}

func (m *Metrics) add(ctx context.Context, name string, n int64, attrs ...attribute.KeyValue) {
	if m == nil || n <= 0 {
		return
	}
	counter, ok := m.counters[name]
	if !ok {
		return
	}
	counter.Add(ctx, n, metric.WithAttributes(FilterAttributes(attrs...)...))
}

func (m *Metrics) RecordEnqueued(ctx context.Context, source string, count int) {
	m.add(ctx, counterEnqueued, int64(count), label("source", source))
}

func (m *Metrics) RecordProcessed(ctx context.Context, source, status string) {
	m.add(ctx, counterProcessed, 1, label("source", source), label("status", status))
}

func (m *Metrics) RecordDiagnosticsCall(ctx context.Context, endpoint, outcome string) {
	m.add(ctx, counterDiagnostics, 1, label("endpoint", endpoint), label("outcome", outcome))
}

// RecordArchiveRows counts rows moved by an archive operation
// (archive, restore or purge).
func (m *Metrics) RecordArchiveRows(ctx context.Context, operation string, rows int) {
	m.add(ctx, counterArchiveRows, int64(rows), label("operation", operation))
}

func label(key, value string) attribute.KeyValue {
	return attribute.String(key, strings.TrimSpace(value))
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"source":      {},
	"status":      {},
	"endpoint":    {},
	"outcome":     {},
	"operation":   {},
	"reason":      {},
	"status_code": {},
}

// FilterAttributes drops labels outside the allow-list so device identifiers
// never become metric dimensions.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := attrs[:0:0]
	for _, kv := range attrs {
		if _, ok := allowedLabelKeys[kv.Key]; ok {
			out = append(out, kv)
		}
	}
	return out
}
