package grace

import (
	"testing"
	"time"

	"github.com/goliatone/go-billing-sync/core"
)

func newTestManager(now *time.Time) (*Manager, *core.StateStore) {
	states := core.NewStateStore()
	manager := NewManager(states, func(state core.SubscriptionState) core.FeatureAccessSet {
		return core.ComputeFeatureAccess(state.Tier, state.GraceActive(), false)
	})
	manager.Now = func() time.Time { return *now }
	return manager, states
}

func activate(t *testing.T, manager *Manager, states *core.StateStore, subscriptionID string, req ActivateRequest) (core.SubscriptionState, bool) {
	t.Helper()
	var (
		change  Change
		created bool
	)
	state, err := states.Apply(subscriptionID, func(s *core.SubscriptionState) error {
		s.Tier = core.Tier{ID: core.TierPremium, Name: "Premium"}
		var stageErr error
		change, created, stageErr = manager.StageActivate(s, req)
		if stageErr != nil {
			return stageErr
		}
		s.FeatureAccess = manager.access(*s)
		return nil
	})
	if err != nil {
		t.Fatalf("activate grace: %v", err)
	}
	manager.Commit(change)
	return state, created
}

func TestManager_ActivateCreatesConservativeEntry(t *testing.T) {
	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	manager, states := newTestManager(&now)

	state, created := activate(t, manager, states, "sub_1", ActivateRequest{
		UserID:    "user_1",
		EventType: core.EventInvoicePaymentFailed,
		Reason:    "payment failed",
		Duration:  core.Days(7),
	})
	if !created || !state.GraceActive() {
		t.Fatalf("expected active grace period, got %#v", state.GracePeriod)
	}
	if state.GracePeriod.DaysRemaining != 7 {
		t.Fatalf("expected 7 days remaining, got %d", state.GracePeriod.DaysRemaining)
	}
	if state.FeatureAccess.PremiumFeatures || !state.FeatureAccess.TherapeuticContent {
		t.Fatalf("expected grace to drop premium only, got %#v", state.FeatureAccess)
	}

	entries := manager.Entries("sub_1", true)
	if len(entries) != 1 {
		t.Fatalf("expected one active entry, got %d", len(entries))
	}
	entry := entries[0]
	if !entry.EndDate.Equal(now.Add(core.Days(7))) || entry.UserID != "user_1" {
		t.Fatalf("unexpected entry %#v", entry)
	}
	if entry.FeatureAccess.PremiumFeatures || !entry.FeatureAccess.SafetyFeaturesEnabled() {
		t.Fatalf("expected conservative snapshot, got %#v", entry.FeatureAccess)
	}
}

func TestManager_ActivateIsIdempotentWithoutSupersede(t *testing.T) {
	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	manager, states := newTestManager(&now)
	first, _ := activate(t, manager, states, "sub_1", ActivateRequest{Duration: core.Days(7)})

	now = now.Add(time.Hour)
	second, created := activate(t, manager, states, "sub_1", ActivateRequest{Duration: core.Days(7)})
	if created || second.GracePeriod.ID != first.GracePeriod.ID {
		t.Fatalf("expected existing grace entry to be kept")
	}
	if len(manager.Entries("sub_1", false)) != 1 {
		t.Fatalf("expected a single entry")
	}
}

func TestManager_SupersedeClosesPreviousEntry(t *testing.T) {
	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	manager, states := newTestManager(&now)
	first, _ := activate(t, manager, states, "sub_1", ActivateRequest{Duration: core.Days(7)})

	second, created := activate(t, manager, states, "sub_1", ActivateRequest{Duration: core.Days(30), Supersede: true})
	if !created || second.GracePeriod.ID == first.GracePeriod.ID {
		t.Fatalf("expected a new entry")
	}
	old, err := manager.Get(first.GracePeriod.ID)
	if err != nil {
		t.Fatalf("get old entry: %v", err)
	}
	if old.Active || old.ExpiredAt == nil {
		t.Fatalf("expected superseded entry to be inactive, got %#v", old)
	}
	if second.GracePeriod.DaysRemaining != 30 {
		t.Fatalf("expected 30-day window, got %d", second.GracePeriod.DaysRemaining)
	}
}

func TestManager_SweepExpiresAfterEndDate(t *testing.T) {
	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	manager, states := newTestManager(&now)
	state, _ := activate(t, manager, states, "sub_1", ActivateRequest{Duration: core.Days(7)})
	entryID := state.GracePeriod.ID

	now = now.Add(core.Days(8))
	report, err := manager.Sweep()
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(report.Expired) != 1 || report.Updated != 1 {
		t.Fatalf("unexpected sweep report %#v", report)
	}

	entry, _ := manager.Get(entryID)
	if entry.Active || entry.DaysRemaining != 0 || entry.ExpiredAt == nil {
		t.Fatalf("expected expired entry, got %#v", entry)
	}
	swept, _ := states.Get("sub_1")
	if swept.GraceActive() || swept.GracePeriod.DaysRemaining != 0 {
		t.Fatalf("expected inactive grace reference, got %#v", swept.GracePeriod)
	}
	if !swept.FeatureAccess.PremiumFeatures {
		t.Fatalf("expected premium access to reflect the premium tier after expiry")
	}

	now = now.Add(core.Days(1))
	again, _ := manager.Sweep()
	if again.Checked != 0 || len(again.Expired) != 0 {
		t.Fatalf("expired entries must never be revisited, got %#v", again)
	}
	entry, _ = manager.Get(entryID)
	if entry.Active {
		t.Fatalf("expired entry must not reactivate")
	}
}

func TestManager_SweepDaysRemainingNonIncreasing(t *testing.T) {
	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	manager, states := newTestManager(&now)
	state, _ := activate(t, manager, states, "sub_1", ActivateRequest{Duration: core.Days(7)})
	entryID := state.GracePeriod.ID

	previous := 7
	for step := 0; step < 16; step++ {
		now = now.Add(12 * time.Hour)
		if _, err := manager.Sweep(); err != nil {
			t.Fatalf("sweep: %v", err)
		}
		entry, _ := manager.Get(entryID)
		if entry.DaysRemaining > previous {
			t.Fatalf("days remaining increased from %d to %d", previous, entry.DaysRemaining)
		}
		previous = entry.DaysRemaining
	}
	if previous != 0 {
		t.Fatalf("expected days remaining to reach 0, got %d", previous)
	}
}

func TestManager_SweepSkipsRedundantWrites(t *testing.T) {
	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	manager, states := newTestManager(&now)
	activate(t, manager, states, "sub_1", ActivateRequest{Duration: core.Days(7)})
	before, _ := states.Get("sub_1")

	now = now.Add(time.Hour)
	report, _ := manager.Sweep()
	if report.Updated != 0 {
		t.Fatalf("expected no write while days remaining is unchanged, got %d", report.Updated)
	}
	after, _ := states.Get("sub_1")
	if !after.LastUpdated.Equal(before.LastUpdated) {
		t.Fatalf("state must not be rewritten")
	}

	now = now.Add(core.Days(1))
	report, _ = manager.Sweep()
	if report.Updated != 1 {
		t.Fatalf("expected one write once days remaining changes, got %d", report.Updated)
	}
}

func TestManager_StageResolveClearsReference(t *testing.T) {
	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	manager, states := newTestManager(&now)
	state, _ := activate(t, manager, states, "sub_1", ActivateRequest{Duration: core.Days(7)})

	var change Change
	_, err := states.Apply("sub_1", func(s *core.SubscriptionState) error {
		change = manager.StageResolve(s)
		return nil
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	manager.Commit(change)

	resolved, _ := states.Get("sub_1")
	if resolved.GracePeriod != nil {
		t.Fatalf("expected cleared grace reference")
	}
	entry, _ := manager.Get(state.GracePeriod.ID)
	if entry.Active {
		t.Fatalf("expected resolved entry to be inactive")
	}
}

func TestManager_RejectsNegativeWindow(t *testing.T) {
	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	manager, _ := newTestManager(&now)
	state := core.SubscriptionState{SubscriptionID: "sub_1"}
	if _, _, err := manager.StageActivate(&state, ActivateRequest{Duration: -time.Hour}); err == nil {
		t.Fatalf("expected invalid window error")
	}
	if state.GracePeriod != nil {
		t.Fatalf("state must be untouched on error")
	}
}

func TestDaysRemaining(t *testing.T) {
	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	cases := map[time.Duration]int{
		core.Days(7):               7,
		core.Days(6) + time.Minute: 7,
		core.Days(6):               6,
		time.Second:                1,
		0:                          0,
		-time.Hour:                 0,
	}
	for left, want := range cases {
		if got := DaysRemaining(now.Add(left), now); got != want {
			t.Fatalf("left=%s: expected %d, got %d", left, want, got)
		}
	}
}

func TestManager_RestoreKeepsExistingEntries(t *testing.T) {
	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	manager, states := newTestManager(&now)
	state, _ := activate(t, manager, states, "sub_1", ActivateRequest{Duration: core.Days(7)})

	stale, _ := manager.Get(state.GracePeriod.ID)
	stale.Active = false
	if manager.Restore(stale) {
		t.Fatalf("restore must not overwrite a known entry")
	}

	restored := core.GracePeriodEntry{
		ID:             "grace_restored",
		SubscriptionID: "sub_2",
		StartDate:      now.Add(-core.Days(10)),
		EndDate:        now.Add(-core.Days(3)),
		Active:         true,
		DaysRemaining:  1,
	}
	if !manager.Restore(restored) {
		t.Fatalf("expected restore of unknown entry")
	}
	report, err := manager.Sweep()
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(report.Expired) != 1 || report.Expired[0].ID != "grace_restored" {
		t.Fatalf("expected restored entry to expire on sweep, got %#v", report.Expired)
	}
}

func TestManager_SweepRestoresTierReplacedByCrisisOverride(t *testing.T) {
	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	manager, states := newTestManager(&now)
	basic := core.Tier{ID: core.TierBasic, Name: "Basic"}

	var change Change
	_, err := states.Apply("sub_1", func(s *core.SubscriptionState) error {
		s.Tier = core.CrisisAccessTier()
		var stageErr error
		change, _, stageErr = manager.StageActivate(s, ActivateRequest{
			EventType:   core.EventInvoicePaymentFailed,
			Duration:    core.Days(7),
			RestoreTier: &basic,
		})
		s.FeatureAccess = core.FullFeatureAccess()
		return stageErr
	})
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	manager.Commit(change)

	now = now.Add(core.Days(8))
	report, err := manager.Sweep()
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(report.Expired) != 1 || report.Updated != 1 {
		t.Fatalf("expected one expired and written entry, got %#v", report)
	}
	state, _ := states.Get("sub_1")
	if state.Tier != basic {
		t.Fatalf("expected basic tier restored, got %#v", state.Tier)
	}
	if state.FeatureAccess.PremiumFeatures || !state.FeatureAccess.TherapeuticContent {
		t.Fatalf("expected basic access after expiry, got %#v", state.FeatureAccess)
	}
}
