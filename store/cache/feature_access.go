package cache

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-billing-sync/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const featureAccessCacheKeyPrefix = "go-billing-sync::feature_access::v1"

// FeatureAccessCache memoizes computed feature access per subscription on
// a go-repository-cache service. Entries are dropped by Invalidate and
// otherwise live for the service TTL.
type FeatureAccessCache struct {
	cache repositorycache.CacheService
}

func NewFeatureAccessCache(cacheService repositorycache.CacheService) (*FeatureAccessCache, error) {
	if cacheService == nil {
		return nil, fmt.Errorf("cache: feature access cache service is required")
	}
	return &FeatureAccessCache{cache: cacheService}, nil
}

// NewDefaultFeatureAccessCache builds the cache service from the library
// defaults with the given TTL.
func NewDefaultFeatureAccessCache(ttl time.Duration) (*FeatureAccessCache, error) {
	config := repositorycache.DefaultConfig()
	if ttl > 0 {
		config.TTL = ttl
	}
	service, err := repositorycache.NewCacheService(config)
	if err != nil {
		return nil, fmt.Errorf("cache: new cache service: %w", err)
	}
	return NewFeatureAccessCache(service)
}

// FeatureAccessCacheKey returns
// go-billing-sync::feature_access::v1::<subscription_id> with the id
// URL-path escaped.
func FeatureAccessCacheKey(subscriptionID string) (string, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return "", fmt.Errorf("cache: subscription id is required")
	}
	return featureAccessCacheKeyPrefix + "::" + url.PathEscape(subscriptionID), nil
}

func (c *FeatureAccessCache) Get(
	ctx context.Context,
	subscriptionID string,
	fetch func(ctx context.Context) (core.FeatureAccessSet, error),
) (core.FeatureAccessSet, error) {
	if c == nil || c.cache == nil {
		return core.FeatureAccessSet{}, fmt.Errorf("cache: feature access cache is not configured")
	}
	if fetch == nil {
		return core.FeatureAccessSet{}, fmt.Errorf("cache: fetch function is required")
	}
	key, err := FeatureAccessCacheKey(subscriptionID)
	if err != nil {
		return core.FeatureAccessSet{}, err
	}
	return repositorycache.GetOrFetch(ctx, c.cache, key, fetch)
}

func (c *FeatureAccessCache) Invalidate(ctx context.Context, subscriptionID string) error {
	if c == nil || c.cache == nil {
		return fmt.Errorf("cache: feature access cache is not configured")
	}
	key, err := FeatureAccessCacheKey(subscriptionID)
	if err != nil {
		return err
	}
	return c.cache.Delete(ctx, key)
}

var _ core.FeatureAccessCache = (*FeatureAccessCache)(nil)
