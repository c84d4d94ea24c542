package gocommand

import (
	"context"
	"fmt"
	"strings"

	billingsync "github.com/goliatone/go-billing-sync"
	billingcommand "github.com/goliatone/go-billing-sync/command"
	"github.com/goliatone/go-billing-sync/core"
	"github.com/goliatone/go-billing-sync/grace"
	billingquery "github.com/goliatone/go-billing-sync/query"
	"github.com/goliatone/go-billing-sync/realtime"
	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
)

// ValidateMessageContract enforces Type() plus optional Validate() contract.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

type RegistryAdapter struct {
	registry *command.Registry
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) Registry() *command.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

func (a *RegistryAdapter) RegisterCommand(cmd any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(cmd)
}

func (a *RegistryAdapter) RegisterQuery(qry any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(qry)
}

func (a *RegistryAdapter) AddResolver(key string, resolver command.Resolver) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.AddResolver(strings.TrimSpace(key), resolver)
}

func (a *RegistryAdapter) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return a.AddResolver(key, jobqueuecommand.QueueResolver(queueRegistry))
}

func (a *RegistryAdapter) HasResolver(key string) bool {
	if a == nil || a.registry == nil {
		return false
	}
	return a.registry.HasResolver(strings.TrimSpace(key))
}

func (a *RegistryAdapter) Initialize() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.Initialize()
}

func SubscribeCommand[T any](cmd command.Commander[T], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
}

func SubscribeCommandFunc[T any](handler command.CommandFunc[T], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeCommand(handler, runnerOpts...)
}

func SubscribeQuery[T any, R any](qry command.Querier[T, R], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeQuery(qry, runnerOpts...)
}

func SubscribeQueryFunc[T any, R any](qry command.QueryFunc[T, R], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeQuery(qry, runnerOpts...)
}

func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	return commanddispatcher.Query[T, R](ctx, msg)
}

func RegisterAndSubscribe[T any](
	adapter *RegistryAdapter,
	cmd command.Commander[T],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command is required")
	}
	subscription := SubscribeCommand(cmd, runnerOpts...)
	if err := adapter.RegisterCommand(cmd); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

func RegisterAndSubscribeQuery[T any, R any](
	adapter *RegistryAdapter,
	qry command.Querier[T, R],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if qry == nil {
		return nil, fmt.Errorf("gocommand: query is required")
	}
	subscription := SubscribeQuery(qry, runnerOpts...)
	if err := adapter.RegisterQuery(qry); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

// Subscriptions groups dispatcher subscriptions created by RegisterFacade.
type Subscriptions []commanddispatcher.Subscription

func (s Subscriptions) Unsubscribe() {
	for _, subscription := range s {
		if subscription != nil {
			subscription.Unsubscribe()
		}
	}
}

// RegisterFacade registers every billing command and query with the
// registry and subscribes them on the go-command dispatcher. Nothing stays
// subscribed when an error is returned.
func RegisterFacade(adapter *RegistryAdapter, facade *billingsync.Facade, runnerOpts ...runner.Option) (Subscriptions, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if facade == nil {
		return nil, fmt.Errorf("gocommand: billing facade is required")
	}
	commands := facade.Commands()
	queries := facade.Queries()

	subscriptions := Subscriptions{}
	register := func(subscribe func() (commanddispatcher.Subscription, error)) error {
		subscription, err := subscribe()
		if err != nil {
			return err
		}
		subscriptions = append(subscriptions, subscription)
		return nil
	}
	steps := []func() (commanddispatcher.Subscription, error){
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribe[billingcommand.ProcessEventMessage](adapter, commands.ProcessEvent, runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribe[billingcommand.ProcessDueRetriesMessage](adapter, commands.ProcessDueRetries, runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribe[billingcommand.DrainUpdatesMessage](adapter, commands.DrainUpdates, runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribe[billingcommand.SweepGracePeriodsMessage](adapter, commands.SweepGracePeriods, runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribe[billingcommand.ActivateCrisisModeMessage](adapter, commands.ActivateCrisisMode, runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribe[billingcommand.DeactivateCrisisModeMessage](adapter, commands.DeactivateCrisisMode, runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribe[billingcommand.ResetEngineMessage](adapter, commands.ResetEngine, runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribeQuery[billingquery.GetSubscriptionStateMessage, core.SubscriptionState](adapter, queries.GetSubscriptionState, runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribeQuery[billingquery.GetFeatureAccessMessage, core.FeatureAccessSet](adapter, queries.GetFeatureAccess, runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribeQuery[billingquery.GetMetricsMessage, core.WebhookMetrics](adapter, queries.GetMetrics, runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribeQuery[billingquery.GetCrisisModeMessage, core.CrisisModeStatus](adapter, queries.GetCrisisMode, runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribeQuery[billingquery.ListGracePeriodsMessage, []core.GracePeriodEntry](adapter, queries.ListGracePeriods, runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribeQuery[billingquery.ListPendingRetriesMessage, []core.RetryItem](adapter, queries.ListPendingRetries, runnerOpts...)
		},
	}
	for _, step := range steps {
		if err := register(step); err != nil {
			subscriptions.Unsubscribe()
			return nil, err
		}
	}
	return subscriptions, nil
}

// DrainUpdates dispatches a drain through the subscribed command and
// returns the stored report.
func DrainUpdates(ctx context.Context) (realtime.DrainReport, error) {
	collector := command.NewResult[realtime.DrainReport]()
	err := Dispatch(command.ContextWithResult(ctx, collector), billingcommand.DrainUpdatesMessage{})
	report, _ := collector.Load()
	return report, err
}

// SweepGracePeriods dispatches a sweep through the subscribed command and
// returns the stored report.
func SweepGracePeriods(ctx context.Context) (grace.SweepReport, error) {
	collector := command.NewResult[grace.SweepReport]()
	err := Dispatch(command.ContextWithResult(ctx, collector), billingcommand.SweepGracePeriodsMessage{})
	report, _ := collector.Load()
	return report, err
}

// ProcessEvent dispatches an event through the subscribed command and
// returns the stored result, which is set even when processing failed.
func ProcessEvent(ctx context.Context, event core.WebhookEvent) (core.BillingEventResult, error) {
	collector := command.NewResult[core.BillingEventResult]()
	err := Dispatch(command.ContextWithResult(ctx, collector), billingcommand.ProcessEventMessage{Event: event})
	result, _ := collector.Load()
	return result, err
}
