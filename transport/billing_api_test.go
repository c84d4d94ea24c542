package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-billing-sync/core"
	goerrors "github.com/goliatone/go-errors"
)

func TestBillingAPIClient_GetSubscriptionMapsTierAndStatus(t *testing.T) {
	var gotPath, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"sub/1","status":"past_due","metadata":{"tier":"Premium","tierName":"Premium Plan"}}`))
	}))
	defer server.Close()

	client, err := NewBillingAPIClient(server.URL+"/", WithHTTPClient(server.Client()), WithAPIKey("sk_test"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	remote, err := client.GetSubscription(context.Background(), " sub/1 ")
	if err != nil {
		t.Fatalf("get subscription: %v", err)
	}
	if gotPath != "/v1/subscriptions/sub%2F1" {
		t.Fatalf("unexpected request path %q", gotPath)
	}
	if gotAuth != "Bearer sk_test" {
		t.Fatalf("unexpected authorization header %q", gotAuth)
	}
	if remote.SubscriptionID != "sub/1" || remote.Status != core.StatusPastDue {
		t.Fatalf("unexpected remote subscription: %#v", remote)
	}
	if remote.Tier.ID != core.TierPremium || remote.Tier.Name != "Premium Plan" {
		t.Fatalf("unexpected tier: %#v", remote.Tier)
	}
}

func TestBillingAPIClient_NotFoundAndUpstreamFailures(t *testing.T) {
	status := http.StatusNotFound
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	}))
	defer server.Close()

	client, err := NewBillingAPIClient(server.URL, WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.GetSubscription(context.Background(), "sub_1"); !core.HasTextCode(err, core.BillingErrorNotFound) {
		t.Fatalf("expected not found text code, got %v", err)
	}

	status = http.StatusInternalServerError
	_, err = client.GetSubscription(context.Background(), "sub_1")
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryExternal || rich.TextCode != core.BillingErrorExternalFailure || rich.Code != http.StatusBadGateway {
		t.Fatalf("unexpected upstream failure envelope: %#v", rich)
	}
}

func TestBillingAPIClient_RetryAfterBlocksUntilElapsed(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"id":"sub_1","status":"active"}`))
	}))
	defer server.Close()

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	client, err := NewBillingAPIClient(server.URL,
		WithHTTPClient(server.Client()),
		WithClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := context.Background()

	if _, err := client.GetSubscription(ctx, "sub_1"); !core.HasTextCode(err, core.BillingErrorRateLimited) {
		t.Fatalf("expected rate limited error, got %v", err)
	}
	now = now.Add(10 * time.Second)
	if _, err := client.GetSubscription(ctx, "sub_1"); !core.HasTextCode(err, core.BillingErrorRateLimited) {
		t.Fatalf("expected local throttle while retry-after is pending, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("throttled call must not reach the server, got %d calls", calls.Load())
	}

	now = now.Add(25 * time.Second)
	remote, err := client.GetSubscription(ctx, "sub_1")
	if err != nil || remote.Status != core.StatusActive {
		t.Fatalf("expected call to pass after retry-after, got %#v err=%v", remote, err)
	}
}

func TestRESTClient_ResponseLimitReturnsRichError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("12345"))
	}))
	defer server.Close()

	client := NewRESTClient(server.Client())
	client.MaxResponseBodyBytes = 4

	_, err := client.Do(context.Background(), Request{Method: http.MethodGet, URL: server.URL})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.TextCode != core.BillingErrorExternalFailure || rich.Code != http.StatusBadGateway {
		t.Fatalf("unexpected envelope: %#v", rich)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	if wait, ok := parseRetryAfter("5", now); !ok || wait != 5*time.Second {
		t.Fatalf("unexpected seconds parse: %s %v", wait, ok)
	}
	date := now.Add(time.Minute).Format(http.TimeFormat)
	if wait, ok := parseRetryAfter(date, now); !ok || wait != time.Minute {
		t.Fatalf("unexpected date parse: %s %v", wait, ok)
	}
	if _, ok := parseRetryAfter("soon", now); ok {
		t.Fatalf("expected garbage to be ignored")
	}
}

func TestNewBillingAPIClientRequiresAbsoluteURL(t *testing.T) {
	if _, err := NewBillingAPIClient("/relative"); !core.HasTextCode(err, core.BillingErrorBadInput) {
		t.Fatalf("expected bad input error, got %v", err)
	}
}
