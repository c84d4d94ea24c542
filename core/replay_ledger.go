package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const DefaultDedupTTL = 5 * time.Minute
const defaultReplayLedgerMaxEntries = 16384

// MemoryReplayLedger remembers dedup keys for a bounded window. When the
// ledger is full the entry closest to expiry is evicted first.
type MemoryReplayLedger struct {
	mu         sync.Mutex
	defaultTTL time.Duration
	maxEntries int
	entries    map[string]time.Time
	Now        func() time.Time
}

func NewMemoryReplayLedger(defaultTTL time.Duration) *MemoryReplayLedger {
	return NewMemoryReplayLedgerWithLimits(defaultTTL, defaultReplayLedgerMaxEntries)
}

func NewMemoryReplayLedgerWithLimits(defaultTTL time.Duration, maxEntries int) *MemoryReplayLedger {
	if defaultTTL <= 0 {
		defaultTTL = DefaultDedupTTL
	}
	if maxEntries <= 0 {
		maxEntries = defaultReplayLedgerMaxEntries
	}
	return &MemoryReplayLedger{
		defaultTTL: defaultTTL,
		maxEntries: maxEntries,
		entries:    map[string]time.Time{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Claim records key and reports true when it was not already held within
// its window.
func (l *MemoryReplayLedger) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if l == nil {
		return false, fmt.Errorf("core: dedup ledger is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return false, fmt.Errorf("core: dedup key is required")
	}
	if ttl <= 0 {
		ttl = l.defaultTTL
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if expiresAt, ok := l.entries[key]; ok {
		if now.Before(expiresAt) {
			return false, nil
		}
		delete(l.entries, key)
	}
	if len(l.entries) >= l.maxEntries {
		l.pruneExpiredLocked(now)
	}
	for len(l.entries) >= l.maxEntries {
		l.evictSoonestLocked()
	}
	l.entries[key] = now.Add(ttl)
	return true, nil
}

func (l *MemoryReplayLedger) PurgeExpired(_ context.Context) (int, error) {
	if l == nil {
		return 0, fmt.Errorf("core: dedup ledger is not configured")
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pruneExpiredLocked(now), nil
}

func (l *MemoryReplayLedger) Reset(_ context.Context) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	l.entries = map[string]time.Time{}
	l.mu.Unlock()
	return nil
}

func (l *MemoryReplayLedger) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *MemoryReplayLedger) now() time.Time {
	if l != nil && l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func (l *MemoryReplayLedger) pruneExpiredLocked(now time.Time) int {
	pruned := 0
	for key, expiresAt := range l.entries {
		if !now.Before(expiresAt) {
			delete(l.entries, key)
			pruned++
		}
	}
	return pruned
}

func (l *MemoryReplayLedger) evictSoonestLocked() {
	var soonestKey string
	var soonest time.Time
	for key, expiry := range l.entries {
		if soonestKey == "" || expiry.Before(soonest) {
			soonestKey = key
			soonest = expiry
		}
	}
	delete(l.entries, soonestKey)
}
