package webhooks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-billing-sync/core"
)

type panickingHandler struct{}

func (panickingHandler) Name() string { return "panicking" }

func (panickingHandler) Handle(context.Context, core.WebhookEvent) (core.HandlerOutcome, error) {
	panic("nil map")
}

type cancellableHandler struct{}

func (cancellableHandler) Name() string { return "cancellable" }

func (cancellableHandler) Handle(ctx context.Context, _ core.WebhookEvent) (core.HandlerOutcome, error) {
	<-ctx.Done()
	return core.HandlerOutcome{}, ctx.Err()
}

func TestDeadlineExecutor_DiscardsLateResults(t *testing.T) {
	handler := newBlockingHandler()
	event := subscriptionEvent("evt_1", core.EventSubscriptionUpdated, "sub_1", 1)

	outcome, err := DeadlineExecutor{}.Run(context.Background(), 10*time.Millisecond, handler, event)
	if !core.HasTextCode(err, core.BillingErrorHandlerTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if outcome.HasChange() {
		t.Fatalf("late outcome must not be returned, got %#v", outcome)
	}
	close(handler.release)
	<-handler.done
}

func TestDeadlineExecutor_CancellationAwareHandlerTimesOut(t *testing.T) {
	_, err := DeadlineExecutor{}.Run(context.Background(), 10*time.Millisecond, cancellableHandler{}, core.WebhookEvent{ID: "evt"})
	if !core.HasTextCode(err, core.BillingErrorHandlerTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestDeadlineExecutor_RecoversPanics(t *testing.T) {
	_, err := DeadlineExecutor{}.Run(context.Background(), time.Second, panickingHandler{}, core.WebhookEvent{ID: "evt"})
	if !core.HasTextCode(err, core.BillingErrorHandlerFailed) {
		t.Fatalf("expected handler failure from panic, got %v", err)
	}
}

func TestDeadlineExecutor_ReturnsOutcome(t *testing.T) {
	handler := &countingHandler{outcome: core.HandlerOutcome{SubscriptionID: "sub_1", Status: core.StatusActive}}
	outcome, err := DeadlineExecutor{}.Run(context.Background(), time.Second, handler, core.WebhookEvent{ID: "evt"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.Status != core.StatusActive {
		t.Fatalf("unexpected outcome %#v", outcome)
	}
}

func TestRouter_RejectsDuplicateRegistration(t *testing.T) {
	router := NewRouter()
	if err := router.Register(PaymentSuccessHandler{}, core.EventInvoicePaymentSucceeded); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := router.Register(PaymentFailureHandler{}, core.EventPaymentIntentFailed, core.EventInvoicePaymentSucceeded)
	if !core.HasTextCode(err, core.BillingErrorConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, ok := router.Lookup(core.EventPaymentIntentFailed); ok {
		t.Fatalf("failed registration must not partially apply")
	}
}

func TestRegisterDefaultHandlers_CoversCrisisTypes(t *testing.T) {
	router := NewRouter()
	if err := RegisterDefaultHandlers(router, nil); err != nil {
		t.Fatalf("register defaults: %v", err)
	}
	for _, eventType := range defaultCrisisEventTypes {
		if _, ok := router.Lookup(eventType); !ok {
			t.Fatalf("expected handler for crisis type %q", eventType)
		}
	}
}

func TestCrisisClassifier(t *testing.T) {
	mode := core.NewCrisisMode()
	classifier := NewCrisisClassifier(mode)

	cases := []struct {
		event core.WebhookEvent
		want  core.Priority
	}{
		{event: core.WebhookEvent{Type: core.EventSubscriptionDeleted}, want: core.PriorityCrisis},
		{event: core.WebhookEvent{Type: core.EventInvoicePaymentFailed}, want: core.PriorityCrisis},
		{event: core.WebhookEvent{Type: core.EventPaymentMethodUpdateFailed}, want: core.PriorityCrisis},
		{event: core.WebhookEvent{Type: core.EventInvoicePaymentSucceeded}, want: core.PriorityNormal},
		{
			event: core.WebhookEvent{Type: core.EventSubscriptionUpdated, Data: core.EventData{Object: map[string]any{"status": "past_due"}}},
			want:  core.PriorityCrisis,
		},
		{
			event: core.WebhookEvent{Type: core.EventSubscriptionUpdated, Data: core.EventData{Object: map[string]any{"status": "active"}}},
			want:  core.PriorityNormal,
		},
	}
	for _, tc := range cases {
		if got := classifier.Classify(tc.event); got != tc.want {
			t.Fatalf("classify %s: expected %s, got %s", tc.event.Type, tc.want, got)
		}
	}

	mode.Activate("manual")
	if got := classifier.Classify(core.WebhookEvent{Type: core.EventInvoicePaymentSucceeded}); got != core.PriorityCrisis {
		t.Fatalf("expected global crisis mode to force crisis priority, got %s", got)
	}
}

func TestEventValidator(t *testing.T) {
	validator := NewEventValidator()
	valid := subscriptionEvent("evt_1", core.EventSubscriptionUpdated, "sub_1", 1700000000)
	if err := validator.Validate(valid); err != nil {
		t.Fatalf("expected valid event: %v", err)
	}

	blank := valid
	blank.ID = "   "
	if err := validator.Validate(blank); err == nil {
		t.Fatalf("expected blank id to be rejected")
	}

	noObject := valid
	noObject.Data = core.EventData{}
	if err := validator.Validate(noObject); err == nil {
		t.Fatalf("expected missing object to be rejected")
	}

	noCreated := valid
	noCreated.Created = 0
	if err := validator.Validate(noCreated); err == nil {
		t.Fatalf("expected missing created timestamp to be rejected")
	}
}

func TestRetryPolicies(t *testing.T) {
	fixed := FixedRetryPolicy{Delay: 1500 * time.Millisecond}
	for attempt := 1; attempt <= 3; attempt++ {
		if got := fixed.NextDelay(attempt); got != 1500*time.Millisecond {
			t.Fatalf("fixed attempt %d: got %s", attempt, got)
		}
	}

	exponential := ExponentialRetryPolicy{Initial: time.Second, Max: 5 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second}
	for i, expected := range want {
		if got := exponential.NextDelay(i + 1); got != expected {
			t.Fatalf("exponential attempt %d: expected %s, got %s", i+1, expected, got)
		}
	}
}

func TestRetryScheduler_DueMarksItemsInFlight(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	scheduler := NewRetryScheduler(FixedRetryPolicy{Delay: time.Second}, 3)
	scheduler.Now = func() time.Time { return now }
	ctx := context.Background()

	event := invoiceEvent("evt_1", core.EventInvoicePaymentSucceeded, "sub_1", 1)
	item, terminal, err := scheduler.Schedule(ctx, event, errors.New("boom"))
	if err != nil || terminal {
		t.Fatalf("schedule: terminal=%v err=%v", terminal, err)
	}
	if item.DedupKey != core.DedupKey(event) || item.LastError != "boom" {
		t.Fatalf("unexpected item %#v", item)
	}

	due := scheduler.Due(now.Add(time.Second))
	if len(due) != 1 {
		t.Fatalf("expected one due item, got %d", len(due))
	}
	if again := scheduler.Due(now.Add(time.Second)); len(again) != 0 {
		t.Fatalf("in-flight items must not be handed out twice")
	}

	decoded, err := scheduler.Decode(due[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID != event.ID || decoded.SubscriptionID() != "sub_1" {
		t.Fatalf("unexpected decoded event %#v", decoded)
	}
	if err := scheduler.Complete(due[0].ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := scheduler.Complete(due[0].ID); !errors.Is(err, core.ErrRetryItemNotFound) {
		t.Fatalf("expected not found on second complete, got %v", err)
	}
}

type stubBillingAPI struct {
	remote core.RemoteSubscription
	err    error
	calls  int
}

func (s *stubBillingAPI) GetSubscription(context.Context, string) (core.RemoteSubscription, error) {
	s.calls++
	return s.remote, s.err
}

func TestSubscriptionLifecycleHandler(t *testing.T) {
	api := &stubBillingAPI{remote: core.RemoteSubscription{Tier: core.Tier{ID: core.TierPremium, Name: "Premium"}}}
	handler := SubscriptionLifecycleHandler{API: api}

	event := subscriptionEvent("evt_1", core.EventSubscriptionUpdated, "sub_1", 1)
	event.Data.Object["status"] = core.StatusPastDue
	outcome, err := handler.Handle(context.Background(), event)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if outcome.Grace != core.GraceActionActivate || outcome.Status != core.StatusPastDue {
		t.Fatalf("expected grace activation for past_due, got %#v", outcome)
	}
	if outcome.Tier == nil || outcome.Tier.ID != core.TierPremium || api.calls != 1 {
		t.Fatalf("expected remote tier lookup, got %#v calls=%d", outcome.Tier, api.calls)
	}

	event.Data.Object["status"] = core.StatusActive
	event.Data.Object["metadata"] = map[string]any{"tier": "Basic"}
	outcome, _ = handler.Handle(context.Background(), event)
	if outcome.Grace != core.GraceActionResolve || outcome.Tier.ID != core.TierBasic || api.calls != 1 {
		t.Fatalf("expected payload tier and grace resolve, got %#v calls=%d", outcome, api.calls)
	}

	api.err = errors.New("unreachable")
	event.Data.Object["metadata"] = map[string]any{}
	if _, err := handler.Handle(context.Background(), event); !core.HasTextCode(err, core.BillingErrorHandlerFailed) {
		t.Fatalf("expected handler failure from api error, got %v", err)
	}
}

func TestPaymentFailureHandler_CapturesFailureCode(t *testing.T) {
	event := invoiceEvent("evt_1", core.EventPaymentIntentFailed, "", 1)
	event.Data.Object["metadata"] = map[string]any{"subscriptionId": "sub_9"}
	event.Data.Object["last_payment_error"] = map[string]any{"code": "card_declined"}

	outcome, err := PaymentFailureHandler{}.Handle(context.Background(), event)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if outcome.SubscriptionID != "sub_9" || outcome.Status != core.StatusPastDue {
		t.Fatalf("unexpected outcome %#v", outcome)
	}
	if outcome.Metadata["failure_code"] != "card_declined" {
		t.Fatalf("expected failure code metadata, got %#v", outcome.Metadata)
	}
}
