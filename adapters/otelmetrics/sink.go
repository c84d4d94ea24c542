package otelmetrics

import (
	"context"
	"fmt"
	"sync"

	"github.com/goliatone/go-billing-sync/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Sink exposes the latest published WebhookMetrics snapshot as observable
// gauges. Gauges report nothing until the first Publish.
type Sink struct {
	mu        sync.RWMutex
	snapshot  core.WebhookMetrics
	published bool

	registration metric.Registration
}

type snapshotGauge struct {
	name        string
	description string
	value       func(core.WebhookMetrics) int64
}

var snapshotGauges = []snapshotGauge{
	{"billing.snapshot.processed", "Events processed since the last reset", func(m core.WebhookMetrics) int64 { return m.TotalProcessed }},
	{"billing.snapshot.crisis_processed", "Crisis events processed", func(m core.WebhookMetrics) int64 { return m.CrisisProcessed }},
	{"billing.snapshot.crisis_fallbacks", "Crisis events answered with emergency access", func(m core.WebhookMetrics) int64 { return m.CrisisFallbacks }},
	{"billing.snapshot.failures", "Events that failed processing", func(m core.WebhookMetrics) int64 { return m.ProcessingFailures }},
	{"billing.snapshot.validation_failures", "Events rejected by validation", func(m core.WebhookMetrics) int64 { return m.ValidationFailures }},
	{"billing.snapshot.duplicates", "Duplicate deliveries skipped", func(m core.WebhookMetrics) int64 { return m.DuplicatesSkipped }},
	{"billing.snapshot.retries", "Retries scheduled", func(m core.WebhookMetrics) int64 { return m.RetriesScheduled }},
	{"billing.snapshot.grace_activations", "Grace periods opened", func(m core.WebhookMetrics) int64 { return m.GracePeriodActivations }},
}

func NewSink(meter metric.Meter, opts ...Option) (*Sink, error) {
	if meter == nil {
		meter = otel.Meter(DefaultMeterName)
	}
	cfg := resolveSettings(opts)
	sink := &Sink{}

	gauges := make([]metric.Int64ObservableGauge, 0, len(snapshotGauges))
	instruments := make([]metric.Observable, 0, len(snapshotGauges)+1)
	for _, def := range snapshotGauges {
		gauge, err := meter.Int64ObservableGauge(cfg.prefix+def.name, metric.WithDescription(def.description))
		if err != nil {
			return nil, fmt.Errorf("otelmetrics: create gauge %s: %w", def.name, err)
		}
		gauges = append(gauges, gauge)
		instruments = append(instruments, gauge)
	}
	average, err := meter.Float64ObservableGauge(cfg.prefix+"billing.snapshot.average_processing_ms",
		metric.WithDescription("Running average processing time"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("otelmetrics: create average gauge: %w", err)
	}
	instruments = append(instruments, average)

	registration, err := meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		snapshot, ok := sink.Snapshot()
		if !ok {
			return nil
		}
		for i, def := range snapshotGauges {
			observer.ObserveInt64(gauges[i], def.value(snapshot))
		}
		observer.ObserveFloat64(average, snapshot.AverageProcessingTimeMs)
		return nil
	}, instruments...)
	if err != nil {
		return nil, fmt.Errorf("otelmetrics: register snapshot callback: %w", err)
	}
	sink.registration = registration
	return sink, nil
}

func (s *Sink) Publish(_ context.Context, snapshot core.WebhookMetrics) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	s.snapshot = snapshot
	s.published = true
	s.mu.Unlock()
	return nil
}

func (s *Sink) Snapshot() (core.WebhookMetrics, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot, s.published
}

// Close unregisters the gauge callback.
func (s *Sink) Close() error {
	if s == nil || s.registration == nil {
		return nil
	}
	return s.registration.Unregister()
}

var _ core.MetricsSink = (*Sink)(nil)
