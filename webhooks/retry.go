package webhooks

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"github.com/goliatone/go-billing-sync/core"
)

type RetryPolicy interface {
	NextDelay(attempt int) time.Duration
}

// FixedRetryPolicy waits the same interval before every retry.
type FixedRetryPolicy struct {
	Delay time.Duration
}

func (p FixedRetryPolicy) NextDelay(int) time.Duration {
	delay := p.Delay
	if delay <= 0 {
		delay = time.Second
	}
	return backoff.NewConstantBackOff(delay).NextBackOff()
}

// ExponentialRetryPolicy doubles the delay per attempt up to Max.
type ExponentialRetryPolicy struct {
	Initial time.Duration
	Max     time.Duration
}

func (p ExponentialRetryPolicy) NextDelay(attempt int) time.Duration {
	initial := p.Initial
	if initial <= 0 {
		initial = time.Second
	}
	maximum := p.Max
	if maximum <= 0 {
		maximum = 30 * time.Second
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = initial
	policy.MaxInterval = maximum
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.Reset()
	delay := initial
	for i := 0; i < attempt; i++ {
		next := policy.NextBackOff()
		if next == backoff.Stop {
			return maximum
		}
		delay = next
	}
	return delay
}

// DeadLetterSink receives retry items that exhausted their attempts.
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, item core.RetryItem, cause error) error
}

// RetryScheduler holds redelivery records for failed non-crisis events. An
// item handed out by Due stays in flight until Complete or Fail is called.
type RetryScheduler struct {
	Policy      RetryPolicy
	MaxAttempts int
	DeadLetter  DeadLetterSink
	Now         func() time.Time

	mu       sync.Mutex
	seq      uint64
	items    map[string]*core.RetryItem
	inFlight map[string]struct{}
}

func NewRetryScheduler(policy RetryPolicy, maxAttempts int) *RetryScheduler {
	if policy == nil {
		policy = FixedRetryPolicy{}
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &RetryScheduler{
		Policy:      policy,
		MaxAttempts: maxAttempts,
		Now: func() time.Time {
			return time.Now().UTC()
		},
		items:    map[string]*core.RetryItem{},
		inFlight: map[string]struct{}{},
	}
}

// Schedule records the first failure of event. The returned bool is true
// when the item was terminal on arrival and went straight to the dead
// letter sink.
func (s *RetryScheduler) Schedule(ctx context.Context, event core.WebhookEvent, cause error) (core.RetryItem, bool, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return core.RetryItem{}, false, core.InternalError("webhooks: encode retry payload: "+err.Error(), map[string]any{
			"event_id": event.ID,
		})
	}
	now := s.now()

	s.mu.Lock()
	s.seq++
	item := core.RetryItem{
		ID:          fmt.Sprintf("retry_%s_%d", event.ID, s.seq),
		EventID:     event.ID,
		EventType:   event.Type,
		DedupKey:    core.DedupKey(event),
		Payload:     payload,
		Attempts:    1,
		MaxAttempts: s.MaxAttempts,
		LastError:   errorString(cause),
		ScheduledAt: now,
		NextRetryAt: now.Add(s.policy().NextDelay(1)),
	}
	if item.Attempts >= item.MaxAttempts {
		s.mu.Unlock()
		return item, true, s.deadLetter(ctx, item, cause)
	}
	stored := item
	s.items[item.ID] = &stored
	s.mu.Unlock()
	return item, false, nil
}

// Due returns the items whose NextRetryAt has passed, oldest first, and
// marks them in flight.
func (s *RetryScheduler) Due(now time.Time) []core.RetryItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	due := make([]core.RetryItem, 0)
	for id, item := range s.items {
		if _, busy := s.inFlight[id]; busy {
			continue
		}
		if !item.NextRetryAt.After(now) {
			due = append(due, *item)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		if due[i].NextRetryAt.Equal(due[j].NextRetryAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].NextRetryAt.Before(due[j].NextRetryAt)
	})
	for _, item := range due {
		s.inFlight[item.ID] = struct{}{}
	}
	return due
}

// Release returns in-flight items to the pending set without counting an
// attempt, so a later Due hands them out again.
func (s *RetryScheduler) Release(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.inFlight, id)
	}
}

func (s *RetryScheduler) Complete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return fmt.Errorf("%w: %s", core.ErrRetryItemNotFound, id)
	}
	delete(s.items, id)
	delete(s.inFlight, id)
	return nil
}

// Fail records another failed attempt. Once attempts reach MaxAttempts the
// item is removed, handed to the dead letter sink and reported as terminal.
func (s *RetryScheduler) Fail(ctx context.Context, id string, cause error) (core.RetryItem, bool, error) {
	now := s.now()
	s.mu.Lock()
	stored, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return core.RetryItem{}, false, fmt.Errorf("%w: %s", core.ErrRetryItemNotFound, id)
	}
	delete(s.inFlight, id)
	stored.Attempts++
	stored.LastError = errorString(cause)
	if stored.Attempts >= stored.MaxAttempts {
		item := *stored
		delete(s.items, id)
		s.mu.Unlock()
		return item, true, s.deadLetter(ctx, item, cause)
	}
	stored.NextRetryAt = now.Add(s.policy().NextDelay(stored.Attempts))
	item := *stored
	s.mu.Unlock()
	return item, false, nil
}

func (s *RetryScheduler) Decode(item core.RetryItem) (core.WebhookEvent, error) {
	var event core.WebhookEvent
	if err := json.Unmarshal(item.Payload, &event); err != nil {
		return core.WebhookEvent{}, core.InternalError("webhooks: decode retry payload: "+err.Error(), map[string]any{
			"retry_id": item.ID,
			"event_id": item.EventID,
		})
	}
	return event, nil
}

func (s *RetryScheduler) Pending() []core.RetryItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.RetryItem, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *RetryScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *RetryScheduler) Reset() {
	s.mu.Lock()
	s.items = map[string]*core.RetryItem{}
	s.inFlight = map[string]struct{}{}
	s.mu.Unlock()
}

func (s *RetryScheduler) deadLetter(ctx context.Context, item core.RetryItem, cause error) error {
	if s.DeadLetter == nil {
		return nil
	}
	return s.DeadLetter.DeadLetter(ctx, item, cause)
}

func (s *RetryScheduler) policy() RetryPolicy {
	if s.Policy != nil {
		return s.Policy
	}
	return FixedRetryPolicy{}
}

func (s *RetryScheduler) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimSpace(err.Error())
}
