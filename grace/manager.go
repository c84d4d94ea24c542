package grace

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-billing-sync/core"
	"github.com/google/uuid"
)

// AccessFunc recomputes feature access for a subscription state.
type AccessFunc func(state core.SubscriptionState) core.FeatureAccessSet

type ActivateRequest struct {
	UserID    string
	EventType string
	Reason    string
	Duration  time.Duration
	// Supersede closes an already active entry and opens a fresh one.
	Supersede bool
	// RestoreTier is reinstated on the subscription when the entry expires.
	RestoreTier *core.Tier
}

// Change is a staged grace mutation. It is computed against a working copy
// of SubscriptionState and only lands in the entry table through Commit,
// after the state copy has been committed.
type Change struct {
	SubscriptionID string
	Created        *core.GracePeriodEntry
	Closed         []string
	At             time.Time
}

func (c Change) Empty() bool {
	return c.Created == nil && len(c.Closed) == 0
}

type SweepReport struct {
	Checked int
	Expired []core.GracePeriodEntry
	Updated int
}

// Manager tracks grace period entries. Entries only ever move from active
// to inactive; reactivation opens a new entry.
type Manager struct {
	States *core.StateStore
	Access AccessFunc
	Now    func() time.Time

	mu      sync.RWMutex
	entries map[string]core.GracePeriodEntry
}

func NewManager(states *core.StateStore, access AccessFunc) *Manager {
	return &Manager{
		States: states,
		Access: access,
		Now: func() time.Time {
			return time.Now().UTC()
		},
		entries: map[string]core.GracePeriodEntry{},
	}
}

// StageActivate points state at a new grace entry unless one is already
// active and the request does not supersede it. The bool reports whether a
// new entry was staged.
func (m *Manager) StageActivate(state *core.SubscriptionState, req ActivateRequest) (Change, bool, error) {
	now := m.now()
	change := Change{SubscriptionID: state.SubscriptionID, At: now}
	if state.GraceActive() {
		if !req.Supersede {
			return change, false, nil
		}
		change.Closed = append(change.Closed, state.GracePeriod.ID)
	}
	entry := core.GracePeriodEntry{
		ID:             uuid.NewString(),
		UserID:         firstNonEmpty(req.UserID, state.UserID),
		SubscriptionID: state.SubscriptionID,
		EventType:      req.EventType,
		StartDate:      now,
		EndDate:        now.Add(req.Duration),
		Reason:         strings.TrimSpace(req.Reason),
		Active:         true,
		FeatureAccess:  core.ConservativeFeatureAccess(),
	}
	if req.RestoreTier != nil {
		tier := *req.RestoreTier
		entry.RestoreTier = &tier
	}
	entry.DaysRemaining = DaysRemaining(entry.EndDate, now)
	if err := entry.Validate(); err != nil {
		return Change{}, false, err
	}
	change.Created = &entry
	state.GracePeriod = entry.Ref()
	return change, true, nil
}

// StageResolve clears the active grace reference on state.
func (m *Manager) StageResolve(state *core.SubscriptionState) Change {
	change := Change{SubscriptionID: state.SubscriptionID, At: m.now()}
	if state.GraceActive() {
		change.Closed = append(change.Closed, state.GracePeriod.ID)
	}
	state.GracePeriod = nil
	return change
}

func (m *Manager) Commit(change Change) {
	if change.Empty() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range change.Closed {
		m.closeLocked(id, change.At)
	}
	if change.Created != nil {
		m.entries[change.Created.ID] = *change.Created
	}
}

// Sweep expires entries whose end date has passed and refreshes
// DaysRemaining on the rest. Subscription state is written only when the
// swept entry is its current grace period and something changed.
func (m *Manager) Sweep() (SweepReport, error) {
	now := m.now()
	report := SweepReport{}

	m.mu.Lock()
	type pending struct {
		entry   core.GracePeriodEntry
		expired bool
	}
	changed := []pending{}
	for id, entry := range m.entries {
		if !entry.Active {
			continue
		}
		report.Checked++
		if !now.Before(entry.EndDate) {
			m.closeLocked(id, now)
			changed = append(changed, pending{entry: m.entries[id], expired: true})
			continue
		}
		days := DaysRemaining(entry.EndDate, now)
		if days != entry.DaysRemaining {
			entry.DaysRemaining = days
			m.entries[id] = entry
			changed = append(changed, pending{entry: entry})
		}
	}
	m.mu.Unlock()

	sort.Slice(changed, func(i, j int) bool {
		return changed[i].entry.StartDate.Before(changed[j].entry.StartDate)
	})
	var errs []string
	for _, item := range changed {
		if item.expired {
			report.Expired = append(report.Expired, item.entry)
		}
		written, err := m.syncState(item.entry, item.expired, now)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		if written {
			report.Updated++
		}
	}
	if len(errs) > 0 {
		return report, fmt.Errorf("grace: sweep state sync failed: %s", strings.Join(errs, "; "))
	}
	return report, nil
}

func (m *Manager) syncState(entry core.GracePeriodEntry, expired bool, now time.Time) (bool, error) {
	if m.States == nil {
		return false, nil
	}
	state, ok := m.States.Get(entry.SubscriptionID)
	if !ok || state.GracePeriod == nil || state.GracePeriod.ID != entry.ID {
		return false, nil
	}
	if !expired && state.GracePeriod.DaysRemaining == entry.DaysRemaining {
		return false, nil
	}
	_, err := m.States.Apply(entry.SubscriptionID, func(s *core.SubscriptionState) error {
		s.GracePeriod = entry.Ref()
		if expired {
			if entry.RestoreTier != nil && s.Tier.ID == core.TierCrisisAccess {
				s.Tier = *entry.RestoreTier
			}
			s.FeatureAccess = m.access(*s)
		}
		s.LastUpdated = now
		return nil
	})
	return err == nil, err
}

func (m *Manager) Get(id string) (core.GracePeriodEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[id]
	if !ok {
		return core.GracePeriodEntry{}, fmt.Errorf("%w: %s", core.ErrGracePeriodNotFound, id)
	}
	return entry, nil
}

// Entries lists entries oldest first. An empty subscriptionID lists all of
// them; activeOnly drops expired or resolved entries.
func (m *Manager) Entries(subscriptionID string, activeOnly bool) []core.GracePeriodEntry {
	subscriptionID = strings.TrimSpace(subscriptionID)
	m.mu.RLock()
	out := make([]core.GracePeriodEntry, 0, len(m.entries))
	for _, entry := range m.entries {
		if subscriptionID != "" && entry.SubscriptionID != subscriptionID {
			continue
		}
		if activeOnly && !entry.Active {
			continue
		}
		out = append(out, entry)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartDate.Before(out[j].StartDate)
	})
	return out
}

// Restore reinstates an entry rebuilt from a persisted snapshot. Known IDs
// are left alone so a restored entry can never reactivate a closed one.
func (m *Manager) Restore(entry core.GracePeriodEntry) bool {
	if err := entry.Validate(); err != nil || strings.TrimSpace(entry.ID) == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[entry.ID]; exists {
		return false
	}
	m.entries[entry.ID] = entry
	return true
}

func (m *Manager) Reset() {
	m.mu.Lock()
	m.entries = map[string]core.GracePeriodEntry{}
	m.mu.Unlock()
}

func (m *Manager) closeLocked(id string, at time.Time) {
	entry, ok := m.entries[id]
	if !ok || !entry.Active {
		return
	}
	expiredAt := at
	entry.Active = false
	entry.DaysRemaining = 0
	entry.ExpiredAt = &expiredAt
	m.entries[id] = entry
}

func (m *Manager) access(state core.SubscriptionState) core.FeatureAccessSet {
	if m.Access != nil {
		return m.Access(state)
	}
	return core.ComputeFeatureAccess(state.Tier, state.GraceActive(), false)
}

func (m *Manager) now() time.Time {
	if m != nil && m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

// DaysRemaining rounds the time left up to whole days and never goes below
// zero.
func DaysRemaining(endDate, now time.Time) int {
	left := endDate.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Hours() / 24))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return ""
}
