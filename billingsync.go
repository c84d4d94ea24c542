package billingsync

import (
	"github.com/goliatone/go-billing-sync/core"
	"github.com/goliatone/go-billing-sync/grace"
	"github.com/goliatone/go-billing-sync/realtime"
	"github.com/goliatone/go-billing-sync/webhooks"
)

type Config = core.Config

type WebhookEvent = core.WebhookEvent
type EventData = core.EventData
type BillingEventResult = core.BillingEventResult
type SubscriptionUpdate = core.SubscriptionUpdate
type SubscriptionState = core.SubscriptionState
type FeatureAccessSet = core.FeatureAccessSet
type GracePeriodEntry = core.GracePeriodEntry
type WebhookMetrics = core.WebhookMetrics
type StateUpdate = core.StateUpdate
type RetryItem = core.RetryItem
type Tier = core.Tier

type Storage = core.Storage
type BillingAPI = core.BillingAPI
type RemoteSubscription = core.RemoteSubscription
type MetricsSink = core.MetricsSink
type MetricsRecorder = core.MetricsRecorder
type FeatureAccessCache = core.FeatureAccessCache
type ReplayLedger = core.ReplayLedger

type Handler = webhooks.Handler
type HandlerOutcome = core.HandlerOutcome
type DeadLetterSink = webhooks.DeadLetterSink
type RetryPolicy = webhooks.RetryPolicy
type DrainReport = realtime.DrainReport
type SweepReport = grace.SweepReport

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func Setup(cfg Config, opts ...Option) (*Engine, error) {
	return NewEngine(cfg, opts...)
}

func ComputeFeatureAccess(tier Tier, gracePeriodActive bool, crisisMode bool) FeatureAccessSet {
	return core.ComputeFeatureAccess(tier, gracePeriodActive, crisisMode)
}
