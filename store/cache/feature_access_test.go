package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-billing-sync/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

type countingFetcher struct {
	calls  int
	access core.FeatureAccessSet
	err    error
}

func (f *countingFetcher) fetch(context.Context) (core.FeatureAccessSet, error) {
	f.calls++
	if f.err != nil {
		return core.FeatureAccessSet{}, f.err
	}
	return f.access, nil
}

func TestFeatureAccessCache_MissFetchThenHit(t *testing.T) {
	accessCache := newTestFeatureAccessCache(t)
	fetcher := &countingFetcher{access: core.FullFeatureAccess()}

	first, err := accessCache.Get(context.Background(), "sub_1", fetcher.fetch)
	if err != nil {
		t.Fatalf("first get: %v", err)
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected first get to fetch once, got %d", fetcher.calls)
	}
	second, err := accessCache.Get(context.Background(), "sub_1", fetcher.fetch)
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected second get to be a cache hit, fetch calls=%d", fetcher.calls)
	}
	if first != second || !second.PremiumFeatures {
		t.Fatalf("unexpected cached access: %#v", second)
	}
}

func TestFeatureAccessCache_InvalidateForcesRefetch(t *testing.T) {
	accessCache := newTestFeatureAccessCache(t)
	fetcher := &countingFetcher{access: core.FullFeatureAccess()}

	if _, err := accessCache.Get(context.Background(), "sub_2", fetcher.fetch); err != nil {
		t.Fatalf("prime cache: %v", err)
	}
	fetcher.access = core.ConservativeFeatureAccess()
	if err := accessCache.Invalidate(context.Background(), "sub_2"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	access, err := accessCache.Get(context.Background(), "sub_2", fetcher.fetch)
	if err != nil {
		t.Fatalf("get after invalidate: %v", err)
	}
	if fetcher.calls != 2 {
		t.Fatalf("expected invalidated key to force a second fetch, got %d", fetcher.calls)
	}
	if access.PremiumFeatures {
		t.Fatalf("expected refreshed conservative access, got %#v", access)
	}
}

func TestFeatureAccessCache_PropagatesFetchErrors(t *testing.T) {
	accessCache := newTestFeatureAccessCache(t)
	boom := errors.New("state unavailable")
	fetcher := &countingFetcher{err: boom}

	_, err := accessCache.Get(context.Background(), "sub_404", fetcher.fetch)
	if !errors.Is(err, boom) {
		t.Fatalf("expected fetch error propagation, got %v", err)
	}
}

func TestFeatureAccessCacheKey_Contract(t *testing.T) {
	key, err := FeatureAccessCacheKey(" sub/Alpha 1 ")
	if err != nil {
		t.Fatalf("build cache key: %v", err)
	}
	const expected = "go-billing-sync::feature_access::v1::sub%2FAlpha%201"
	if key != expected {
		t.Fatalf("unexpected cache key contract: got %q want %q", key, expected)
	}
	if _, err := FeatureAccessCacheKey("  "); err == nil {
		t.Fatalf("expected blank subscription id error")
	}
}

func TestNewFeatureAccessCache_RequiresService(t *testing.T) {
	if _, err := NewFeatureAccessCache(nil); err == nil {
		t.Fatalf("expected missing cache service error")
	}
}

func newTestFeatureAccessCache(t *testing.T) *FeatureAccessCache {
	t.Helper()
	config := repositorycache.DefaultConfig()
	config.TTL = time.Minute
	service, err := repositorycache.NewCacheService(config)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	accessCache, err := NewFeatureAccessCache(service)
	if err != nil {
		t.Fatalf("new feature access cache: %v", err)
	}
	return accessCache
}
