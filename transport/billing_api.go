package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/goliatone/go-billing-sync/core"
	"github.com/goliatone/go-billing-sync/webhooks"
	goerrors "github.com/goliatone/go-errors"
)

const defaultSubscriptionPath = "/v1/subscriptions/"

// BillingAPIClient reads subscriptions from a REST billing API for state
// resync. A 429 response blocks further calls until its Retry-After
// passes.
type BillingAPIClient struct {
	rest    *RESTClient
	baseURL string
	apiKey  string
	timeout time.Duration
	now     func() time.Time

	mu             sync.Mutex
	throttledUntil time.Time
}

type BillingAPIOption func(*BillingAPIClient)

func WithAPIKey(key string) BillingAPIOption {
	return func(c *BillingAPIClient) {
		c.apiKey = strings.TrimSpace(key)
	}
}

func WithHTTPClient(client HTTPDoer) BillingAPIOption {
	return func(c *BillingAPIClient) {
		if client != nil {
			c.rest = NewRESTClient(client)
		}
	}
}

func WithRequestTimeout(timeout time.Duration) BillingAPIOption {
	return func(c *BillingAPIClient) {
		c.timeout = timeout
	}
}

func WithClock(now func() time.Time) BillingAPIOption {
	return func(c *BillingAPIClient) {
		if now != nil {
			c.now = now
		}
	}
}

func NewBillingAPIClient(baseURL string, opts ...BillingAPIOption) (*BillingAPIClient, error) {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, core.BadInputError("transport: billing api base url must be absolute", map[string]any{
			"base_url": baseURL,
		})
	}
	client := &BillingAPIClient{
		rest:    NewRESTClient(nil),
		baseURL: strings.TrimRight(parsed.String(), "/"),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

func (c *BillingAPIClient) GetSubscription(ctx context.Context, subscriptionID string) (core.RemoteSubscription, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return core.RemoteSubscription{}, core.BadInputError("transport: subscription id is required", nil)
	}
	if wait := c.throttledFor(); wait > 0 {
		return core.RemoteSubscription{}, rateLimitedError(subscriptionID, wait)
	}

	headers := map[string]string{"Accept": "application/json"}
	if c.apiKey != "" {
		headers["Authorization"] = "Bearer " + c.apiKey
	}
	res, err := c.rest.Do(ctx, Request{
		Method:  http.MethodGet,
		URL:     c.baseURL + defaultSubscriptionPath + url.PathEscape(subscriptionID),
		Headers: headers,
		Timeout: c.timeout,
	})
	if err != nil {
		return core.RemoteSubscription{}, err
	}

	switch {
	case res.StatusCode == http.StatusNotFound:
		return core.RemoteSubscription{}, core.NotFoundError(
			fmt.Sprintf("transport: subscription %s not found", subscriptionID),
			map[string]any{"subscription_id": subscriptionID},
		)
	case res.StatusCode == http.StatusTooManyRequests:
		wait, ok := parseRetryAfter(res.Headers.Get("Retry-After"), c.now())
		if !ok {
			wait = time.Second
		}
		c.throttle(wait)
		return core.RemoteSubscription{}, rateLimitedError(subscriptionID, wait)
	case res.StatusCode < 200 || res.StatusCode >= 300:
		return core.RemoteSubscription{}, transportError(
			fmt.Sprintf("transport: billing api returned status %d", res.StatusCode),
			goerrors.CategoryExternal,
			http.StatusBadGateway,
			map[string]any{"subscription_id": subscriptionID, "status_code": res.StatusCode},
		)
	}
	return decodeSubscription(res.Body, subscriptionID)
}

func decodeSubscription(body []byte, requestedID string) (core.RemoteSubscription, error) {
	object := map[string]any{}
	if err := json.Unmarshal(body, &object); err != nil {
		return core.RemoteSubscription{}, transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: decode subscription",
			http.StatusBadGateway,
			map[string]any{"subscription_id": requestedID},
		)
	}
	out := core.RemoteSubscription{SubscriptionID: requestedID}
	if id, ok := object["id"].(string); ok && strings.TrimSpace(id) != "" {
		out.SubscriptionID = strings.TrimSpace(id)
	}
	if status, ok := object["status"].(string); ok {
		out.Status = strings.TrimSpace(status)
	}
	if tier, ok := webhooks.TierFromObject(object); ok {
		out.Tier = tier
	}
	return out, nil
}

func (c *BillingAPIClient) throttledFor() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.throttledUntil.IsZero() {
		return 0
	}
	wait := c.throttledUntil.Sub(c.now())
	if wait <= 0 {
		c.throttledUntil = time.Time{}
		return 0
	}
	return wait
}

func (c *BillingAPIClient) throttle(wait time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	until := c.now().Add(wait)
	if until.After(c.throttledUntil) {
		c.throttledUntil = until
	}
}

func rateLimitedError(subscriptionID string, wait time.Duration) *goerrors.Error {
	return transportError(
		"transport: billing api rate limited",
		goerrors.CategoryRateLimit,
		http.StatusTooManyRequests,
		map[string]any{
			"subscription_id": subscriptionID,
			"retry_after_ms":  wait.Milliseconds(),
		},
	)
}

// parseRetryAfter accepts delay seconds or an HTTP date.
func parseRetryAfter(raw string, now time.Time) (time.Duration, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds <= 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if retryAt, err := http.ParseTime(raw); err == nil && retryAt.After(now) {
		return retryAt.Sub(now), true
	}
	return 0, false
}

var _ core.BillingAPI = (*BillingAPIClient)(nil)
