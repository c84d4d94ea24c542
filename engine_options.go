package billingsync

import (
	"time"

	"github.com/goliatone/go-billing-sync/core"
	"github.com/goliatone/go-billing-sync/webhooks"
	glog "github.com/goliatone/go-logger/glog"
)

type handlerRegistration struct {
	handler webhooks.Handler
	types   []string
}

type engineBuilder struct {
	runtimeConfig   core.Config
	logger          core.Logger
	loggerProvider  core.LoggerProvider
	metricsRecorder core.MetricsRecorder
	errorMapper     core.ErrorMapper
	configProvider  core.ConfigProvider
	optionsResolver core.OptionsResolver
	storage         core.Storage
	billingAPI      core.BillingAPI
	metricsSink     core.MetricsSink
	accessCache     core.FeatureAccessCache
	replayLedger    core.ReplayLedger
	deadLetters     webhooks.DeadLetterSink
	retryPolicy     webhooks.RetryPolicy
	handlers        []handlerRegistration
	defaultHandlers bool
	now             func() time.Time
}

type Option func(*engineBuilder)

func WithLogger(logger core.Logger) Option {
	return func(b *engineBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(b *engineBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(b *engineBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorMapper(mapper core.ErrorMapper) Option {
	return func(b *engineBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider core.ConfigProvider) Option {
	return func(b *engineBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver core.OptionsResolver) Option {
	return func(b *engineBuilder) {
		b.optionsResolver = resolver
	}
}

// WithStorage persists subscription snapshots after each drained update.
func WithStorage(storage core.Storage) Option {
	return func(b *engineBuilder) {
		b.storage = storage
	}
}

func WithBillingAPI(api core.BillingAPI) Option {
	return func(b *engineBuilder) {
		b.billingAPI = api
	}
}

func WithMetricsSink(sink core.MetricsSink) Option {
	return func(b *engineBuilder) {
		b.metricsSink = sink
	}
}

func WithFeatureAccessCache(cache core.FeatureAccessCache) Option {
	return func(b *engineBuilder) {
		b.accessCache = cache
	}
}

// WithReplayLedger swaps the in-memory dedup table, e.g. for a ledger shared
// between replicas.
func WithReplayLedger(ledger core.ReplayLedger) Option {
	return func(b *engineBuilder) {
		b.replayLedger = ledger
	}
}

func WithDeadLetterSink(sink webhooks.DeadLetterSink) Option {
	return func(b *engineBuilder) {
		b.deadLetters = sink
	}
}

func WithRetryPolicy(policy webhooks.RetryPolicy) Option {
	return func(b *engineBuilder) {
		b.retryPolicy = policy
	}
}

// WithHandler registers handler for eventTypes in addition to the default
// catalogue. Registering a type twice fails engine construction.
func WithHandler(handler webhooks.Handler, eventTypes ...string) Option {
	return func(b *engineBuilder) {
		b.handlers = append(b.handlers, handlerRegistration{handler: handler, types: eventTypes})
	}
}

func WithoutDefaultHandlers() Option {
	return func(b *engineBuilder) {
		b.defaultHandlers = false
	}
}

// WithClock replaces the wall clock for every engine component.
func WithClock(now func() time.Time) Option {
	return func(b *engineBuilder) {
		b.now = now
	}
}

func defaultEngineBuilder(runtime core.Config) engineBuilder {
	loggerProvider, logger := glog.Resolve("billing", nil, nil)
	return engineBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: core.NopMetricsRecorder{},
		errorMapper:     core.MapError,
		configProvider:  core.NewCfgxConfigProvider(nil),
		optionsResolver: core.GoOptionsResolver{},
		defaultHandlers: true,
	}
}
