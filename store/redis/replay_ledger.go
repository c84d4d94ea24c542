package redisstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-billing-sync/core"
	"github.com/redis/go-redis/v9"
)

const DefaultKeyPrefix = "go-billing-sync:dedup:"

// ReplayLedger shares dedup claims across engine instances. Claims are
// SET NX keys with a TTL, so expiry is left to redis.
type ReplayLedger struct {
	client     redis.UniversalClient
	prefix     string
	defaultTTL time.Duration
}

type Option func(*ReplayLedger)

func WithKeyPrefix(prefix string) Option {
	return func(l *ReplayLedger) {
		if trimmed := strings.TrimSpace(prefix); trimmed != "" {
			l.prefix = trimmed
		}
	}
}

func WithDefaultTTL(ttl time.Duration) Option {
	return func(l *ReplayLedger) {
		if ttl > 0 {
			l.defaultTTL = ttl
		}
	}
}

func NewReplayLedger(client redis.UniversalClient, opts ...Option) (*ReplayLedger, error) {
	if client == nil {
		return nil, fmt.Errorf("redisstore: redis client is required")
	}
	ledger := &ReplayLedger{
		client:     client,
		prefix:     DefaultKeyPrefix,
		defaultTTL: core.DefaultDedupTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ledger)
		}
	}
	return ledger, nil
}

func (l *ReplayLedger) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if l == nil || l.client == nil {
		return false, fmt.Errorf("redisstore: replay ledger is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return false, fmt.Errorf("redisstore: dedup key is required")
	}
	if ttl <= 0 {
		ttl = l.defaultTTL
	}
	claimed, err := l.client.SetNX(ctx, l.prefix+key, time.Now().UTC().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redisstore: claim %s: %w", key, err)
	}
	return claimed, nil
}

// PurgeExpired is a no-op: redis evicts expired claims itself.
func (l *ReplayLedger) PurgeExpired(context.Context) (int, error) {
	return 0, nil
}

// Reset deletes every claim under the ledger prefix.
func (l *ReplayLedger) Reset(ctx context.Context) error {
	if l == nil || l.client == nil {
		return fmt.Errorf("redisstore: replay ledger is not configured")
	}
	iter := l.client.Scan(ctx, 0, l.prefix+"*", 256).Iterator()
	batch := make([]string, 0, 256)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := l.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("redisstore: reset: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redisstore: reset scan: %w", err)
	}
	if len(batch) > 0 {
		if err := l.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redisstore: reset: %w", err)
		}
	}
	return nil
}

var _ core.ReplayLedger = (*ReplayLedger)(nil)
