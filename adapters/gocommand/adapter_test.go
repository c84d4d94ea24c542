package gocommand

import (
	"context"
	"errors"
	"testing"

	billingsync "github.com/goliatone/go-billing-sync"
	"github.com/goliatone/go-billing-sync/core"
	billingquery "github.com/goliatone/go-billing-sync/query"
	"github.com/goliatone/go-command"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	glog "github.com/goliatone/go-logger/glog"
)

type okMessage struct{}

func (okMessage) Type() string { return "billing.test.ok" }

type invalidMessage struct{}

func (invalidMessage) Type() string { return "" }

type failingMessage struct{}

func (failingMessage) Type() string { return "billing.test.fail" }

func (failingMessage) Validate() error { return errors.New("invalid payload") }

type dispatchMessage struct {
	ID string
}

func (dispatchMessage) Type() string { return "billing.test.test" }

type queueMessage struct{}

func (queueMessage) Type() string { return "billing.test.queue" }

func TestValidateMessageContract(t *testing.T) {
	if err := ValidateMessageContract(okMessage{}); err != nil {
		t.Fatalf("expected valid message, got %v", err)
	}
	if err := ValidateMessageContract(invalidMessage{}); err == nil {
		t.Fatalf("expected empty type to fail contract validation")
	}
	if err := ValidateMessageContract(failingMessage{}); err == nil {
		t.Fatalf("expected Validate() failure to bubble")
	}
}

func TestRegistryAndDispatchWiring(t *testing.T) {
	adapter := NewRegistryAdapter(command.NewRegistry())
	executed := 0
	customResolverCalled := 0

	cmd := command.CommandFunc[dispatchMessage](func(context.Context, dispatchMessage) error {
		executed++
		return nil
	})

	if _, err := RegisterAndSubscribe(adapter, cmd); err != nil {
		t.Fatalf("register and subscribe: %v", err)
	}
	if err := adapter.AddResolver("custom", func(any, command.CommandMeta, *command.Registry) error {
		customResolverCalled++
		return nil
	}); err != nil {
		t.Fatalf("add resolver: %v", err)
	}
	if !adapter.HasResolver("custom") {
		t.Fatalf("expected custom resolver to be registered")
	}
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}
	if customResolverCalled == 0 {
		t.Fatalf("expected resolver hook to run during initialization")
	}

	if err := Dispatch(context.Background(), dispatchMessage{ID: "m1"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if executed != 1 {
		t.Fatalf("expected command execution count=1, got %d", executed)
	}
}

func TestQueueResolverHookWiring(t *testing.T) {
	adapter := NewRegistryAdapter(command.NewRegistry())
	queueRegistry := jobqueuecommand.NewRegistry()

	cmd := command.CommandFunc[queueMessage](func(context.Context, queueMessage) error { return nil })

	if err := adapter.AddQueueResolver("queue", queueRegistry); err != nil {
		t.Fatalf("add queue resolver: %v", err)
	}
	if err := adapter.RegisterCommand(cmd); err != nil {
		t.Fatalf("register command: %v", err)
	}
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}

	if _, ok := queueRegistry.Get("billing.test.queue"); !ok {
		t.Fatalf("expected command to be mirrored into queue registry")
	}
}

func TestRegisterFacadeDispatchesBillingMessages(t *testing.T) {
	engine, err := billingsync.NewEngine(core.Config{}, billingsync.WithLogger(glog.Nop()))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	facade, err := billingsync.NewFacade(engine)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	adapter := NewRegistryAdapter(command.NewRegistry())
	subscriptions, err := RegisterFacade(adapter, facade)
	if err != nil {
		t.Fatalf("register facade: %v", err)
	}
	defer subscriptions.Unsubscribe()
	if len(subscriptions) != 13 {
		t.Fatalf("expected 13 subscriptions, got %d", len(subscriptions))
	}
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}

	ctx := context.Background()
	result, err := ProcessEvent(ctx, core.WebhookEvent{
		ID:      "evt_dispatch_1",
		Type:    core.EventInvoicePaymentSucceeded,
		Created: 1772442000,
		Data: core.EventData{Object: map[string]any{
			"id":           "in_1",
			"subscription": "sub_dispatch",
		}},
	})
	if err != nil {
		t.Fatalf("dispatch process event: %v", err)
	}
	if !result.Processed {
		t.Fatalf("expected processed result, got %#v", result)
	}

	report, err := DrainUpdates(ctx)
	if err != nil {
		t.Fatalf("dispatch drain: %v", err)
	}
	if report.Drained == 0 {
		t.Fatalf("expected drained updates, got %#v", report)
	}

	state, err := Query[billingquery.GetSubscriptionStateMessage, core.SubscriptionState](ctx, billingquery.GetSubscriptionStateMessage{SubscriptionID: "sub_dispatch"})
	if err != nil {
		t.Fatalf("query subscription state: %v", err)
	}
	if state.Status != core.StatusActive {
		t.Fatalf("expected active subscription, got %#v", state)
	}

	metrics, err := Query[billingquery.GetMetricsMessage, core.WebhookMetrics](ctx, billingquery.GetMetricsMessage{})
	if err != nil {
		t.Fatalf("query metrics: %v", err)
	}
	if metrics.TotalProcessed != 1 {
		t.Fatalf("expected one processed event, got %#v", metrics)
	}
}

func TestRegisterFacadeRequiresDependencies(t *testing.T) {
	if _, err := RegisterFacade(nil, &billingsync.Facade{}); err == nil {
		t.Fatalf("expected nil adapter error")
	}
	if _, err := RegisterFacade(NewRegistryAdapter(nil), nil); err == nil {
		t.Fatalf("expected nil facade error")
	}
}
