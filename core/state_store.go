package core

import (
	"sort"
	"strings"
	"sync"
)

// StateStore owns the committed SubscriptionState records. Mutations go
// through Apply, which works on a copy and commits only when the mutation
// returns nil.
type StateStore struct {
	mu     sync.RWMutex
	states map[string]SubscriptionState
}

func NewStateStore() *StateStore {
	return &StateStore{states: map[string]SubscriptionState{}}
}

func (s *StateStore) Get(subscriptionID string) (SubscriptionState, bool) {
	if s == nil {
		return SubscriptionState{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[strings.TrimSpace(subscriptionID)]
	if !ok {
		return SubscriptionState{}, false
	}
	return state.Clone(), true
}

func (s *StateStore) List() []SubscriptionState {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	out := make([]SubscriptionState, 0, len(s.states))
	for _, state := range s.states {
		out = append(out, state.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubscriptionID < out[j].SubscriptionID
	})
	return out
}

// Apply runs mutate against a copy of the subscription state, creating an
// empty record when none exists. The copy replaces the stored record only
// when mutate succeeds.
func (s *StateStore) Apply(subscriptionID string, mutate func(*SubscriptionState) error) (SubscriptionState, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return SubscriptionState{}, ErrSubscriptionIDMissing
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.states[subscriptionID]
	if !ok {
		current = SubscriptionState{SubscriptionID: subscriptionID}
	}
	working := current.Clone()
	if err := mutate(&working); err != nil {
		return current.Clone(), err
	}
	working.SubscriptionID = subscriptionID
	s.states[subscriptionID] = working
	return working.Clone(), nil
}

func (s *StateStore) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}

func (s *StateStore) Reset() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.states = map[string]SubscriptionState{}
	s.mu.Unlock()
}
