package query

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-billing-sync/core"
)

type stubSubscriptionReader struct {
	states map[string]core.SubscriptionState
	access map[string]core.FeatureAccessSet
}

func (s stubSubscriptionReader) State(subscriptionID string) (core.SubscriptionState, error) {
	state, ok := s.states[subscriptionID]
	if !ok {
		return core.SubscriptionState{}, core.NotFoundError("subscription not found", map[string]any{
			"subscription_id": subscriptionID,
		})
	}
	return state, nil
}

func (s stubSubscriptionReader) FeatureAccess(_ context.Context, subscriptionID string) (core.FeatureAccessSet, error) {
	access, ok := s.access[subscriptionID]
	if !ok {
		return core.FeatureAccessSet{}, core.NotFoundError("subscription not found", nil)
	}
	return access, nil
}

type stubStatusReader struct {
	metrics core.WebhookMetrics
	crisis  core.CrisisModeStatus
}

func (s stubStatusReader) Metrics() core.WebhookMetrics      { return s.metrics }
func (s stubStatusReader) CrisisMode() core.CrisisModeStatus { return s.crisis }

type stubGracePeriodReader struct {
	calls   *[]string
	entries []core.GracePeriodEntry
}

func (s stubGracePeriodReader) GracePeriods(subscriptionID string, activeOnly bool) []core.GracePeriodEntry {
	if s.calls != nil {
		flag := "all"
		if activeOnly {
			flag = "active"
		}
		*s.calls = append(*s.calls, subscriptionID+":"+flag)
	}
	return s.entries
}

type stubRetryReader struct {
	items []core.RetryItem
}

func (s stubRetryReader) PendingRetries() []core.RetryItem { return s.items }

func TestGetSubscriptionStateQuery_DelegatesToReader(t *testing.T) {
	reader := stubSubscriptionReader{states: map[string]core.SubscriptionState{
		"sub_1": {SubscriptionID: "sub_1", UserID: "user_1", Tier: core.Tier{ID: core.TierPremium}},
	}}
	state, err := NewGetSubscriptionStateQuery(reader).Query(context.Background(), GetSubscriptionStateMessage{SubscriptionID: "sub_1"})
	if err != nil {
		t.Fatalf("query state: %v", err)
	}
	if state.UserID != "user_1" || state.Tier.ID != core.TierPremium {
		t.Fatalf("unexpected state: %#v", state)
	}

	_, err = NewGetSubscriptionStateQuery(reader).Query(context.Background(), GetSubscriptionStateMessage{SubscriptionID: "sub_missing"})
	if !core.HasTextCode(err, core.BillingErrorNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestGetSubscriptionStateQuery_RejectsBlankSubscriptionID(t *testing.T) {
	_, err := NewGetSubscriptionStateQuery(stubSubscriptionReader{}).Query(context.Background(), GetSubscriptionStateMessage{SubscriptionID: "  "})
	if !core.HasTextCode(err, core.BillingErrorBadInput) {
		t.Fatalf("expected bad input error, got %v", err)
	}
}

func TestGetFeatureAccessQuery_PassesReaderErrorsThrough(t *testing.T) {
	reader := stubSubscriptionReader{access: map[string]core.FeatureAccessSet{
		"sub_1": core.FullFeatureAccess(),
	}}
	q := NewGetFeatureAccessQuery(reader)

	access, err := q.Query(context.Background(), GetFeatureAccessMessage{SubscriptionID: "sub_1"})
	if err != nil {
		t.Fatalf("query access: %v", err)
	}
	if access != core.FullFeatureAccess() {
		t.Fatalf("expected full access, got %#v", access)
	}

	_, err = q.Query(context.Background(), GetFeatureAccessMessage{SubscriptionID: "sub_2"})
	if !core.HasTextCode(err, core.BillingErrorNotFound) {
		t.Fatalf("expected not found error to pass through, got %v", err)
	}
}

func TestStatusQueries_DelegateToReader(t *testing.T) {
	activatedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	reader := stubStatusReader{
		metrics: core.WebhookMetrics{TotalProcessed: 7, CrisisProcessed: 2},
		crisis:  core.CrisisModeStatus{Active: true, Reason: "provider outage", ActivatedAt: activatedAt},
	}

	metrics, err := NewGetMetricsQuery(reader).Query(context.Background(), GetMetricsMessage{})
	if err != nil {
		t.Fatalf("query metrics: %v", err)
	}
	if metrics.TotalProcessed != 7 || metrics.CrisisProcessed != 2 {
		t.Fatalf("unexpected metrics: %#v", metrics)
	}

	status, err := NewGetCrisisModeQuery(reader).Query(context.Background(), GetCrisisModeMessage{})
	if err != nil {
		t.Fatalf("query crisis mode: %v", err)
	}
	if !status.Active || status.Reason != "provider outage" || !status.ActivatedAt.Equal(activatedAt) {
		t.Fatalf("unexpected crisis status: %#v", status)
	}
}

func TestListQueries_DelegateToReaders(t *testing.T) {
	calls := []string{}
	graceReader := stubGracePeriodReader{
		calls:   &calls,
		entries: []core.GracePeriodEntry{{ID: "gp_1", SubscriptionID: "sub_1", Active: true}},
	}
	entries, err := NewListGracePeriodsQuery(graceReader).Query(context.Background(), ListGracePeriodsMessage{
		SubscriptionID: "sub_1",
		ActiveOnly:     true,
	})
	if err != nil {
		t.Fatalf("list grace periods: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "gp_1" {
		t.Fatalf("unexpected entries: %#v", entries)
	}
	if len(calls) != 1 || calls[0] != "sub_1:active" {
		t.Fatalf("expected filter to be forwarded, got %v", calls)
	}

	retries, err := NewListPendingRetriesQuery(stubRetryReader{items: []core.RetryItem{{ID: "r_1", Attempts: 2}}}).
		Query(context.Background(), ListPendingRetriesMessage{})
	if err != nil {
		t.Fatalf("list retries: %v", err)
	}
	if len(retries) != 1 || retries[0].Attempts != 2 {
		t.Fatalf("unexpected retries: %#v", retries)
	}
}

func TestQueries_NilReadersReturnDependencyErrors(t *testing.T) {
	ctx := context.Background()
	checks := []struct {
		name string
		run  func() error
	}{
		{"feature_access", func() error {
			_, err := NewGetFeatureAccessQuery(nil).Query(ctx, GetFeatureAccessMessage{SubscriptionID: "sub_1"})
			return err
		}},
		{"metrics", func() error {
			_, err := NewGetMetricsQuery(nil).Query(ctx, GetMetricsMessage{})
			return err
		}},
		{"crisis_mode", func() error {
			_, err := NewGetCrisisModeQuery(nil).Query(ctx, GetCrisisModeMessage{})
			return err
		}},
		{"grace_periods", func() error {
			_, err := NewListGracePeriodsQuery(nil).Query(ctx, ListGracePeriodsMessage{})
			return err
		}},
		{"retries", func() error {
			_, err := NewListPendingRetriesQuery(nil).Query(ctx, ListPendingRetriesMessage{})
			return err
		}},
	}
	for _, check := range checks {
		t.Run(check.name, func(t *testing.T) {
			if err := check.run(); !core.HasTextCode(err, core.BillingErrorInternal) {
				t.Fatalf("expected internal dependency error, got %v", err)
			}
		})
	}
}
