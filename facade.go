package billingsync

import (
	billingcommand "github.com/goliatone/go-billing-sync/command"
	"github.com/goliatone/go-billing-sync/core"
	billingquery "github.com/goliatone/go-billing-sync/query"
)

// CommandQueryEngine is the surface the facade wires commands and queries
// against. *Engine satisfies it.
type CommandQueryEngine interface {
	billingcommand.MutatingEngine
	billingquery.SubscriptionReader
	billingquery.StatusReader
	billingquery.GracePeriodReader
	billingquery.RetryReader
}

var _ CommandQueryEngine = (*Engine)(nil)

type Commands struct {
	ProcessEvent         *billingcommand.ProcessEventCommand
	ProcessDueRetries    *billingcommand.ProcessDueRetriesCommand
	DrainUpdates         *billingcommand.DrainUpdatesCommand
	SweepGracePeriods    *billingcommand.SweepGracePeriodsCommand
	ActivateCrisisMode   *billingcommand.ActivateCrisisModeCommand
	DeactivateCrisisMode *billingcommand.DeactivateCrisisModeCommand
	ResetEngine          *billingcommand.ResetEngineCommand
}

type Queries struct {
	GetSubscriptionState *billingquery.GetSubscriptionStateQuery
	GetFeatureAccess     *billingquery.GetFeatureAccessQuery
	GetMetrics           *billingquery.GetMetricsQuery
	GetCrisisMode        *billingquery.GetCrisisModeQuery
	ListGracePeriods     *billingquery.ListGracePeriodsQuery
	ListPendingRetries   *billingquery.ListPendingRetriesQuery
}

type Facade struct {
	engine   CommandQueryEngine
	commands Commands
	queries  Queries
}

func NewFacade(engine CommandQueryEngine) (*Facade, error) {
	if engine == nil {
		return nil, core.InternalError("billingsync: command/query engine is required", nil)
	}
	if typed, ok := engine.(*Engine); ok && typed == nil {
		return nil, core.InternalError("billingsync: command/query engine is required", nil)
	}

	facade := &Facade{engine: engine}
	facade.commands = Commands{
		ProcessEvent:         billingcommand.NewProcessEventCommand(engine),
		ProcessDueRetries:    billingcommand.NewProcessDueRetriesCommand(engine),
		DrainUpdates:         billingcommand.NewDrainUpdatesCommand(engine),
		SweepGracePeriods:    billingcommand.NewSweepGracePeriodsCommand(engine),
		ActivateCrisisMode:   billingcommand.NewActivateCrisisModeCommand(engine),
		DeactivateCrisisMode: billingcommand.NewDeactivateCrisisModeCommand(engine),
		ResetEngine:          billingcommand.NewResetEngineCommand(engine),
	}
	facade.queries = Queries{
		GetSubscriptionState: billingquery.NewGetSubscriptionStateQuery(engine),
		GetFeatureAccess:     billingquery.NewGetFeatureAccessQuery(engine),
		GetMetrics:           billingquery.NewGetMetricsQuery(engine),
		GetCrisisMode:        billingquery.NewGetCrisisModeQuery(engine),
		ListGracePeriods:     billingquery.NewListGracePeriodsQuery(engine),
		ListPendingRetries:   billingquery.NewListPendingRetriesQuery(engine),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Engine() CommandQueryEngine {
	if f == nil {
		return nil
	}
	return f.engine
}
