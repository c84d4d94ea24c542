package core

import (
	"errors"
	"testing"
	"time"
)

func TestStateStore_ApplyCommitsOnSuccess(t *testing.T) {
	store := NewStateStore()
	state, err := store.Apply("sub_1", func(s *SubscriptionState) error {
		s.Status = StatusActive
		s.Tier = Tier{ID: TierPremium, Name: "Premium"}
		return nil
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if state.SubscriptionID != "sub_1" || state.Status != StatusActive {
		t.Fatalf("unexpected state %#v", state)
	}
	stored, ok := store.Get("sub_1")
	if !ok || stored.Tier.ID != TierPremium {
		t.Fatalf("expected stored premium state, got %#v ok=%v", stored, ok)
	}
}

func TestStateStore_ApplyDiscardsPartialWrites(t *testing.T) {
	store := NewStateStore()
	_, _ = store.Apply("sub_1", func(s *SubscriptionState) error {
		s.Status = StatusActive
		return nil
	})

	_, err := store.Apply("sub_1", func(s *SubscriptionState) error {
		s.Status = StatusPastDue
		s.GracePeriod = &GracePeriodRef{ID: "g1", Active: true}
		return errors.New("billing api unavailable")
	})
	if err == nil {
		t.Fatalf("expected mutation error")
	}
	stored, _ := store.Get("sub_1")
	if stored.Status != StatusActive || stored.GracePeriod != nil {
		t.Fatalf("expected last-known-good state, got %#v", stored)
	}
}

func TestStateStore_GetReturnsCopy(t *testing.T) {
	store := NewStateStore()
	_, _ = store.Apply("sub_1", func(s *SubscriptionState) error {
		s.GracePeriod = &GracePeriodRef{ID: "g1", Active: true, EndDate: time.Now()}
		return nil
	})
	state, _ := store.Get("sub_1")
	state.GracePeriod.Active = false

	again, _ := store.Get("sub_1")
	if !again.GraceActive() {
		t.Fatalf("expected stored grace ref to be isolated from caller mutation")
	}
}

func TestStateStore_RequiresSubscriptionID(t *testing.T) {
	store := NewStateStore()
	if _, err := store.Apply(" ", func(*SubscriptionState) error { return nil }); !errors.Is(err, ErrSubscriptionIDMissing) {
		t.Fatalf("expected missing id error, got %v", err)
	}
}

func TestStateStore_ListAndReset(t *testing.T) {
	store := NewStateStore()
	for _, id := range []string{"sub_b", "sub_a"} {
		_, _ = store.Apply(id, func(*SubscriptionState) error { return nil })
	}
	list := store.List()
	if len(list) != 2 || list[0].SubscriptionID != "sub_a" {
		t.Fatalf("expected sorted list, got %#v", list)
	}
	store.Reset()
	if store.Len() != 0 {
		t.Fatalf("expected empty store after reset")
	}
}

func TestCrisisMode_ActivateIsIdempotent(t *testing.T) {
	mode := NewCrisisMode()
	if !mode.Activate("customer.subscription.deleted") {
		t.Fatalf("expected first activation to change state")
	}
	if mode.Activate("invoice.payment_failed") {
		t.Fatalf("expected second activation to be a no-op")
	}
	if got := mode.Snapshot().Reason; got != "customer.subscription.deleted" {
		t.Fatalf("expected first reason to stick, got %q", got)
	}
	if !mode.Deactivate() || mode.Active() {
		t.Fatalf("expected deactivation")
	}
}
