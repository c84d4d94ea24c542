package core

import (
	"context"
	"sync"
	"time"
)

const (
	MetricEventsProcessed     = "billing.webhook.processed.total"
	MetricEventsCrisis        = "billing.webhook.crisis.total"
	MetricCrisisFallbacks     = "billing.webhook.crisis_fallback.total"
	MetricProcessingFailures  = "billing.webhook.failures.total"
	MetricValidationFailures  = "billing.webhook.validation_failures.total"
	MetricDuplicatesSkipped   = "billing.webhook.duplicates.total"
	MetricRetriesScheduled    = "billing.webhook.retries.total"
	MetricGraceActivations    = "billing.grace.activations.total"
	MetricProcessingDuration  = "billing.webhook.duration_ms"
	MetricUpdatesDrained      = "billing.realtime.drained.total"
	MetricGracePeriodsExpired = "billing.grace.expired.total"
)

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

// WebhookMetricsRecorder aggregates the engine counters. Counters only move
// forward until Reset.
type WebhookMetricsRecorder struct {
	mu       sync.Mutex
	snapshot WebhookMetrics
	recorder MetricsRecorder
	now      func() time.Time
}

func NewWebhookMetricsRecorder(recorder MetricsRecorder) *WebhookMetricsRecorder {
	if recorder == nil {
		recorder = NopMetricsRecorder{}
	}
	return &WebhookMetricsRecorder{
		recorder: recorder,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (m *WebhookMetricsRecorder) RecordProcessed(ctx context.Context, eventType string, crisis bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	elapsedMs := float64(elapsed) / float64(time.Millisecond)
	m.mu.Lock()
	m.snapshot.TotalProcessed++
	if crisis {
		m.snapshot.CrisisProcessed++
	}
	n := float64(m.snapshot.TotalProcessed)
	m.snapshot.AverageProcessingTimeMs += (elapsedMs - m.snapshot.AverageProcessingTimeMs) / n
	m.snapshot.LastProcessedAt = m.now()
	m.mu.Unlock()

	tags := eventTags(eventType, crisis)
	m.recorder.IncCounter(ctx, MetricEventsProcessed, 1, tags)
	if crisis {
		m.recorder.IncCounter(ctx, MetricEventsCrisis, 1, tags)
	}
	m.recorder.ObserveHistogram(ctx, MetricProcessingDuration, elapsedMs, tags)
}

func (m *WebhookMetricsRecorder) RecordCrisisFallback(ctx context.Context, eventType string) {
	m.increment(ctx, MetricCrisisFallbacks, eventType, true, func(s *WebhookMetrics) { s.CrisisFallbacks++ })
}

func (m *WebhookMetricsRecorder) RecordProcessingFailure(ctx context.Context, eventType string) {
	m.increment(ctx, MetricProcessingFailures, eventType, false, func(s *WebhookMetrics) { s.ProcessingFailures++ })
}

func (m *WebhookMetricsRecorder) RecordValidationFailure(ctx context.Context, eventType string) {
	m.increment(ctx, MetricValidationFailures, eventType, false, func(s *WebhookMetrics) { s.ValidationFailures++ })
}

func (m *WebhookMetricsRecorder) RecordDuplicate(ctx context.Context, eventType string) {
	m.increment(ctx, MetricDuplicatesSkipped, eventType, false, func(s *WebhookMetrics) { s.DuplicatesSkipped++ })
}

func (m *WebhookMetricsRecorder) RecordRetryScheduled(ctx context.Context, eventType string) {
	m.increment(ctx, MetricRetriesScheduled, eventType, false, func(s *WebhookMetrics) { s.RetriesScheduled++ })
}

func (m *WebhookMetricsRecorder) RecordGraceActivation(ctx context.Context, eventType string) {
	m.increment(ctx, MetricGraceActivations, eventType, false, func(s *WebhookMetrics) { s.GracePeriodActivations++ })
}

func (m *WebhookMetricsRecorder) Count(ctx context.Context, name string, value int64, tags map[string]string) {
	if m == nil || value == 0 {
		return
	}
	m.recorder.IncCounter(ctx, name, value, cloneTags(tags))
}

func (m *WebhookMetricsRecorder) Snapshot() WebhookMetrics {
	if m == nil {
		return WebhookMetrics{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot
}

func (m *WebhookMetricsRecorder) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.snapshot = WebhookMetrics{}
	m.mu.Unlock()
}

func (m *WebhookMetricsRecorder) increment(
	ctx context.Context,
	name string,
	eventType string,
	crisis bool,
	apply func(*WebhookMetrics),
) {
	if m == nil {
		return
	}
	m.mu.Lock()
	apply(&m.snapshot)
	m.mu.Unlock()
	m.recorder.IncCounter(ctx, name, 1, eventTags(eventType, crisis))
}

func eventTags(eventType string, crisis bool) map[string]string {
	priority := string(PriorityNormal)
	if crisis {
		priority = string(PriorityCrisis)
	}
	tags := map[string]string{"priority": priority}
	if eventType != "" {
		tags["event_type"] = eventType
	}
	return tags
}

func cloneTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return map[string]string{}
	}
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	return copied
}
