package query

import (
	"context"

	"github.com/goliatone/go-billing-sync/core"
)

type SubscriptionReader interface {
	State(subscriptionID string) (core.SubscriptionState, error)
	FeatureAccess(ctx context.Context, subscriptionID string) (core.FeatureAccessSet, error)
}

type StatusReader interface {
	Metrics() core.WebhookMetrics
	CrisisMode() core.CrisisModeStatus
}

type GracePeriodReader interface {
	GracePeriods(subscriptionID string, activeOnly bool) []core.GracePeriodEntry
}

type RetryReader interface {
	PendingRetries() []core.RetryItem
}

type GetSubscriptionStateQuery struct {
	reader SubscriptionReader
}

func NewGetSubscriptionStateQuery(reader SubscriptionReader) *GetSubscriptionStateQuery {
	return &GetSubscriptionStateQuery{reader: reader}
}

func (q *GetSubscriptionStateQuery) Query(ctx context.Context, msg GetSubscriptionStateMessage) (core.SubscriptionState, error) {
	if q == nil || q.reader == nil {
		return core.SubscriptionState{}, queryDependencyError("query: subscription reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.SubscriptionState{}, err
	}
	return q.reader.State(msg.SubscriptionID)
}

type GetFeatureAccessQuery struct {
	reader SubscriptionReader
}

func NewGetFeatureAccessQuery(reader SubscriptionReader) *GetFeatureAccessQuery {
	return &GetFeatureAccessQuery{reader: reader}
}

func (q *GetFeatureAccessQuery) Query(ctx context.Context, msg GetFeatureAccessMessage) (core.FeatureAccessSet, error) {
	if q == nil || q.reader == nil {
		return core.FeatureAccessSet{}, queryDependencyError("query: subscription reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.FeatureAccessSet{}, err
	}
	return q.reader.FeatureAccess(ctx, msg.SubscriptionID)
}

type GetMetricsQuery struct {
	reader StatusReader
}

func NewGetMetricsQuery(reader StatusReader) *GetMetricsQuery {
	return &GetMetricsQuery{reader: reader}
}

func (q *GetMetricsQuery) Query(_ context.Context, _ GetMetricsMessage) (core.WebhookMetrics, error) {
	if q == nil || q.reader == nil {
		return core.WebhookMetrics{}, queryDependencyError("query: status reader is required")
	}
	return q.reader.Metrics(), nil
}

type GetCrisisModeQuery struct {
	reader StatusReader
}

func NewGetCrisisModeQuery(reader StatusReader) *GetCrisisModeQuery {
	return &GetCrisisModeQuery{reader: reader}
}

func (q *GetCrisisModeQuery) Query(_ context.Context, _ GetCrisisModeMessage) (core.CrisisModeStatus, error) {
	if q == nil || q.reader == nil {
		return core.CrisisModeStatus{}, queryDependencyError("query: status reader is required")
	}
	return q.reader.CrisisMode(), nil
}

type ListGracePeriodsQuery struct {
	reader GracePeriodReader
}

func NewListGracePeriodsQuery(reader GracePeriodReader) *ListGracePeriodsQuery {
	return &ListGracePeriodsQuery{reader: reader}
}

func (q *ListGracePeriodsQuery) Query(_ context.Context, msg ListGracePeriodsMessage) ([]core.GracePeriodEntry, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: grace period reader is required")
	}
	return q.reader.GracePeriods(msg.SubscriptionID, msg.ActiveOnly), nil
}

type ListPendingRetriesQuery struct {
	reader RetryReader
}

func NewListPendingRetriesQuery(reader RetryReader) *ListPendingRetriesQuery {
	return &ListPendingRetriesQuery{reader: reader}
}

func (q *ListPendingRetriesQuery) Query(_ context.Context, _ ListPendingRetriesMessage) ([]core.RetryItem, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: retry reader is required")
	}
	return q.reader.PendingRetries(), nil
}
