package query

import (
	"github.com/goliatone/go-billing-sync/core"
	gocmd "github.com/goliatone/go-command"
)

var (
	_ gocmd.Querier[GetSubscriptionStateMessage, core.SubscriptionState] = (*GetSubscriptionStateQuery)(nil)
	_ gocmd.Querier[GetFeatureAccessMessage, core.FeatureAccessSet]      = (*GetFeatureAccessQuery)(nil)
	_ gocmd.Querier[GetMetricsMessage, core.WebhookMetrics]              = (*GetMetricsQuery)(nil)
	_ gocmd.Querier[GetCrisisModeMessage, core.CrisisModeStatus]         = (*GetCrisisModeQuery)(nil)
	_ gocmd.Querier[ListGracePeriodsMessage, []core.GracePeriodEntry]    = (*ListGracePeriodsQuery)(nil)
	_ gocmd.Querier[ListPendingRetriesMessage, []core.RetryItem]         = (*ListPendingRetriesQuery)(nil)
)
