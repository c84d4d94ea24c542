package otelmetrics

import (
	"context"
	"testing"

	"github.com/goliatone/go-billing-sync/core"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMeter(t *testing.T) (*sdkmetric.MeterProvider, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		_ = provider.Shutdown(context.Background())
	})
	return provider, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	out := map[string]metricdata.Aggregation{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestRecorderForwardsCountersAndHistograms(t *testing.T) {
	provider, reader := newTestMeter(t)
	recorder := NewRecorder(provider.Meter("test"))
	ctx := context.Background()

	tags := map[string]string{"event_type": core.EventInvoicePaymentFailed, "priority": "crisis"}
	recorder.IncCounter(ctx, core.MetricEventsProcessed, 1, tags)
	recorder.IncCounter(ctx, core.MetricEventsProcessed, 2, tags)
	recorder.ObserveHistogram(ctx, core.MetricProcessingDuration, 12.5, tags)
	recorder.IncCounter(ctx, "  ", 1, nil)

	data := collect(t, reader)
	sum, ok := data[core.MetricEventsProcessed].(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) != 1 {
		t.Fatalf("expected one counter data point, got %#v", data[core.MetricEventsProcessed])
	}
	point := sum.DataPoints[0]
	if point.Value != 3 {
		t.Fatalf("expected counter value 3, got %d", point.Value)
	}
	if value, ok := point.Attributes.Value("priority"); !ok || value.AsString() != "crisis" {
		t.Fatalf("expected priority attribute, got %v", point.Attributes)
	}

	histogram, ok := data[core.MetricProcessingDuration].(metricdata.Histogram[float64])
	if !ok || len(histogram.DataPoints) != 1 {
		t.Fatalf("expected one histogram data point, got %#v", data[core.MetricProcessingDuration])
	}
	if histogram.DataPoints[0].Count != 1 || histogram.DataPoints[0].Sum != 12.5 {
		t.Fatalf("unexpected histogram point: %#v", histogram.DataPoints[0])
	}
	if len(data) != 2 {
		t.Fatalf("blank metric names must be ignored, got %d instruments", len(data))
	}
}

func TestRecorderAppliesPrefix(t *testing.T) {
	provider, reader := newTestMeter(t)
	recorder := NewRecorder(provider.Meter("test"), WithPrefix("svc."))
	recorder.IncCounter(context.Background(), core.MetricRetriesScheduled, 1, nil)

	if _, ok := collect(t, reader)["svc."+core.MetricRetriesScheduled]; !ok {
		t.Fatalf("expected prefixed instrument name")
	}
}

func TestSinkObservesLatestSnapshot(t *testing.T) {
	provider, reader := newTestMeter(t)
	sink, err := NewSink(provider.Meter("test"))
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Fatalf("close sink: %v", err)
		}
	}()

	if data := collect(t, reader); len(data) != 0 {
		t.Fatalf("expected no observations before publish, got %d", len(data))
	}

	ctx := context.Background()
	_ = sink.Publish(ctx, core.WebhookMetrics{TotalProcessed: 4, DuplicatesSkipped: 1})
	_ = sink.Publish(ctx, core.WebhookMetrics{TotalProcessed: 7, DuplicatesSkipped: 2, AverageProcessingTimeMs: 3.5})

	data := collect(t, reader)
	processed, ok := data["billing.snapshot.processed"].(metricdata.Gauge[int64])
	if !ok || len(processed.DataPoints) != 1 || processed.DataPoints[0].Value != 7 {
		t.Fatalf("unexpected processed gauge: %#v", data["billing.snapshot.processed"])
	}
	duplicates, ok := data["billing.snapshot.duplicates"].(metricdata.Gauge[int64])
	if !ok || duplicates.DataPoints[0].Value != 2 {
		t.Fatalf("unexpected duplicates gauge: %#v", data["billing.snapshot.duplicates"])
	}
	average, ok := data["billing.snapshot.average_processing_ms"].(metricdata.Gauge[float64])
	if !ok || average.DataPoints[0].Value != 3.5 {
		t.Fatalf("unexpected average gauge: %#v", data["billing.snapshot.average_processing_ms"])
	}
}
