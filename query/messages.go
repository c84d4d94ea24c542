package query

import "strings"

const (
	TypeGetSubscriptionState = "billing.query.subscription.state"
	TypeGetFeatureAccess     = "billing.query.subscription.feature_access"
	TypeGetMetrics           = "billing.query.metrics"
	TypeGetCrisisMode        = "billing.query.crisis_mode"
	TypeListGracePeriods     = "billing.query.grace_periods.list"
	TypeListPendingRetries   = "billing.query.retries.list"
)

type GetSubscriptionStateMessage struct {
	SubscriptionID string
}

func (GetSubscriptionStateMessage) Type() string { return TypeGetSubscriptionState }

func (m GetSubscriptionStateMessage) Validate() error {
	if strings.TrimSpace(m.SubscriptionID) == "" {
		return queryValidationError("subscription_id", "subscription id is required")
	}
	return nil
}

type GetFeatureAccessMessage struct {
	SubscriptionID string
}

func (GetFeatureAccessMessage) Type() string { return TypeGetFeatureAccess }

func (m GetFeatureAccessMessage) Validate() error {
	if strings.TrimSpace(m.SubscriptionID) == "" {
		return queryValidationError("subscription_id", "subscription id is required")
	}
	return nil
}

type GetMetricsMessage struct{}

func (GetMetricsMessage) Type() string { return TypeGetMetrics }

func (GetMetricsMessage) Validate() error { return nil }

type GetCrisisModeMessage struct{}

func (GetCrisisModeMessage) Type() string { return TypeGetCrisisMode }

func (GetCrisisModeMessage) Validate() error { return nil }

// ListGracePeriodsMessage lists every subscription's entries when
// SubscriptionID is empty.
type ListGracePeriodsMessage struct {
	SubscriptionID string
	ActiveOnly     bool
}

func (ListGracePeriodsMessage) Type() string { return TypeListGracePeriods }

func (ListGracePeriodsMessage) Validate() error { return nil }

type ListPendingRetriesMessage struct{}

func (ListPendingRetriesMessage) Type() string { return TypeListPendingRetries }

func (ListPendingRetriesMessage) Validate() error { return nil }
