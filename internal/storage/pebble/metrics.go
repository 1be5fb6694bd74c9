package pebblestore

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics records storage observations as OpenTelemetry histograms
type OTelMetrics struct {
	latency metric.Float64Histogram
	bytes   metric.Int64Histogram
}

var _ MetricsHook = (*OTelMetrics)(nil)

// NewOTelMetrics creates a MetricsHook reporting to meter
func NewOTelMetrics(meter metric.Meter) (*OTelMetrics, error) {
	latency, err := meter.Float64Histogram("storage.pebble.latency",
		metric.WithDescription("Pebble operation latency"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	bytes, err := meter.Int64Histogram("storage.pebble.bytes",
		metric.WithDescription("Bytes read or committed"),
		metric.WithUnit("By"))
	if err != nil {
		return nil, err
	}
	return &OTelMetrics{latency: latency, bytes: bytes}, nil
}

func (m *OTelMetrics) ObserveRead(elapsed time.Duration, n int) {
	m.observe("read", elapsed, n)
}

func (m *OTelMetrics) ObserveBatchCommit(elapsed time.Duration, _ int, n int) {
	m.observe("commit", elapsed, n)
}

func (m *OTelMetrics) observe(op string, elapsed time.Duration, n int) {
	attrs := metric.WithAttributes(attribute.String("op", op))
	ctx := context.Background()
	m.latency.Record(ctx, float64(elapsed)/float64(time.Millisecond), attrs)
	m.bytes.Record(ctx, int64(n), attrs)
}
