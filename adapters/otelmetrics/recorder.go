package otelmetrics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-billing-sync/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const DefaultMeterName = "github.com/goliatone/go-billing-sync"

type Option func(*settings)

type settings struct {
	prefix string
}

// WithPrefix prepends prefix to every instrument name.
func WithPrefix(prefix string) Option {
	return func(s *settings) {
		s.prefix = strings.TrimSpace(prefix)
	}
}

func resolveSettings(opts []Option) settings {
	out := settings{}
	for _, opt := range opts {
		if opt != nil {
			opt(&out)
		}
	}
	return out
}

// Recorder forwards engine counters and histograms to an OpenTelemetry
// meter. Instruments are created on first use and reused afterwards.
type Recorder struct {
	meter  metric.Meter
	prefix string

	mu         sync.Mutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
	onError    func(error)
}

func NewRecorder(meter metric.Meter, opts ...Option) *Recorder {
	if meter == nil {
		meter = otel.Meter(DefaultMeterName)
	}
	cfg := resolveSettings(opts)
	return &Recorder{
		meter:      meter,
		prefix:     cfg.prefix,
		counters:   map[string]metric.Int64Counter{},
		histograms: map[string]metric.Float64Histogram{},
		onError:    otel.Handle,
	}
}

func (r *Recorder) IncCounter(ctx context.Context, name string, value int64, tags map[string]string) {
	if r == nil || strings.TrimSpace(name) == "" {
		return
	}
	counter, err := r.counter(name)
	if err != nil {
		r.onError(err)
		return
	}
	counter.Add(ctx, value, metric.WithAttributes(attributes(tags)...))
}

func (r *Recorder) ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string) {
	if r == nil || strings.TrimSpace(name) == "" {
		return
	}
	histogram, err := r.histogram(name)
	if err != nil {
		r.onError(err)
		return
	}
	histogram.Record(ctx, value, metric.WithAttributes(attributes(tags)...))
}

func (r *Recorder) counter(name string) (metric.Int64Counter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if counter, ok := r.counters[name]; ok {
		return counter, nil
	}
	counter, err := r.meter.Int64Counter(r.prefix+name)
	if err != nil {
		return nil, fmt.Errorf("otelmetrics: create counter %s: %w", name, err)
	}
	r.counters[name] = counter
	return counter, nil
}

func (r *Recorder) histogram(name string) (metric.Float64Histogram, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if histogram, ok := r.histograms[name]; ok {
		return histogram, nil
	}
	histogram, err := r.meter.Float64Histogram(r.prefix+name, metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("otelmetrics: create histogram %s: %w", name, err)
	}
	r.histograms[name] = histogram
	return histogram, nil
}

func attributes(tags map[string]string) []attribute.KeyValue {
	if len(tags) == 0 {
		return nil
	}
	keys := make([]string, 0, len(tags))
	for key := range tags {
		if strings.TrimSpace(key) != "" {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	out := make([]attribute.KeyValue, 0, len(keys))
	for _, key := range keys {
		out = append(out, attribute.String(key, tags[key]))
	}
	return out
}

var _ core.MetricsRecorder = (*Recorder)(nil)
