package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// MetricsSink accepts periodic WebhookMetrics snapshots.
type MetricsSink interface {
	Publish(ctx context.Context, snapshot WebhookMetrics) error
}

// Storage is the opaque key-value collaborator. Implementations apply their
// own encryption.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// RemoteSubscription is the billing API view used during state resync.
type RemoteSubscription struct {
	SubscriptionID string
	Status         string
	Tier           Tier
}

// BillingAPI is the subscription service collaborator. The engine only calls
// it from handlers and state resync, never from scheduling logic.
type BillingAPI interface {
	GetSubscription(ctx context.Context, subscriptionID string) (RemoteSubscription, error)
}

type ReplayLedger interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	PurgeExpired(ctx context.Context) (int, error)
	Reset(ctx context.Context) error
}

// FeatureAccessCache caches computed access decisions per subscription.
type FeatureAccessCache interface {
	Get(
		ctx context.Context,
		subscriptionID string,
		fetch func(ctx context.Context) (FeatureAccessSet, error),
	) (FeatureAccessSet, error)
	Invalidate(ctx context.Context, subscriptionID string) error
}

// StateReader exposes committed subscription state to handlers.
type StateReader interface {
	Get(subscriptionID string) (SubscriptionState, bool)
}
