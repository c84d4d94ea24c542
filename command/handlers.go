package command

import (
	"context"

	"github.com/goliatone/go-billing-sync/core"
	"github.com/goliatone/go-billing-sync/grace"
	"github.com/goliatone/go-billing-sync/realtime"
	gocmd "github.com/goliatone/go-command"
)

type MutatingEngine interface {
	Process(ctx context.Context, event core.WebhookEvent) (core.BillingEventResult, error)
	ProcessDueRetries(ctx context.Context) ([]core.BillingEventResult, error)
	DrainUpdates(ctx context.Context) realtime.DrainReport
	SweepGracePeriods(ctx context.Context) (grace.SweepReport, error)
	ActivateCrisisMode(ctx context.Context, reason string) bool
	DeactivateCrisisMode(ctx context.Context) bool
	Reset(ctx context.Context) error
}

// ProcessEventCommand stores the BillingEventResult even when processing
// returns an error, so callers can report the envelope alongside it.
type ProcessEventCommand struct {
	engine MutatingEngine
}

func NewProcessEventCommand(engine MutatingEngine) *ProcessEventCommand {
	return &ProcessEventCommand{engine: engine}
}

func (c *ProcessEventCommand) Execute(ctx context.Context, msg ProcessEventMessage) error {
	if c == nil || c.engine == nil {
		return commandDependencyError("command: billing engine is required")
	}
	out, err := c.engine.Process(ctx, msg.Event)
	storeResult(ctx, out)
	return err
}

type ProcessDueRetriesCommand struct {
	engine MutatingEngine
}

func NewProcessDueRetriesCommand(engine MutatingEngine) *ProcessDueRetriesCommand {
	return &ProcessDueRetriesCommand{engine: engine}
}

func (c *ProcessDueRetriesCommand) Execute(ctx context.Context, _ ProcessDueRetriesMessage) error {
	if c == nil || c.engine == nil {
		return commandDependencyError("command: billing engine is required")
	}
	out, err := c.engine.ProcessDueRetries(ctx)
	storeResult(ctx, out)
	return err
}

type DrainUpdatesCommand struct {
	engine MutatingEngine
}

func NewDrainUpdatesCommand(engine MutatingEngine) *DrainUpdatesCommand {
	return &DrainUpdatesCommand{engine: engine}
}

func (c *DrainUpdatesCommand) Execute(ctx context.Context, _ DrainUpdatesMessage) error {
	if c == nil || c.engine == nil {
		return commandDependencyError("command: billing engine is required")
	}
	storeResult(ctx, c.engine.DrainUpdates(ctx))
	return nil
}

type SweepGracePeriodsCommand struct {
	engine MutatingEngine
}

func NewSweepGracePeriodsCommand(engine MutatingEngine) *SweepGracePeriodsCommand {
	return &SweepGracePeriodsCommand{engine: engine}
}

func (c *SweepGracePeriodsCommand) Execute(ctx context.Context, _ SweepGracePeriodsMessage) error {
	if c == nil || c.engine == nil {
		return commandDependencyError("command: billing engine is required")
	}
	out, err := c.engine.SweepGracePeriods(ctx)
	storeResult(ctx, out)
	return err
}

type ActivateCrisisModeCommand struct {
	engine MutatingEngine
}

func NewActivateCrisisModeCommand(engine MutatingEngine) *ActivateCrisisModeCommand {
	return &ActivateCrisisModeCommand{engine: engine}
}

func (c *ActivateCrisisModeCommand) Execute(ctx context.Context, msg ActivateCrisisModeMessage) error {
	if c == nil || c.engine == nil {
		return commandDependencyError("command: billing engine is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	storeResult(ctx, c.engine.ActivateCrisisMode(ctx, msg.Reason))
	return nil
}

type DeactivateCrisisModeCommand struct {
	engine MutatingEngine
}

func NewDeactivateCrisisModeCommand(engine MutatingEngine) *DeactivateCrisisModeCommand {
	return &DeactivateCrisisModeCommand{engine: engine}
}

func (c *DeactivateCrisisModeCommand) Execute(ctx context.Context, _ DeactivateCrisisModeMessage) error {
	if c == nil || c.engine == nil {
		return commandDependencyError("command: billing engine is required")
	}
	storeResult(ctx, c.engine.DeactivateCrisisMode(ctx))
	return nil
}

type ResetEngineCommand struct {
	engine MutatingEngine
}

func NewResetEngineCommand(engine MutatingEngine) *ResetEngineCommand {
	return &ResetEngineCommand{engine: engine}
}

func (c *ResetEngineCommand) Execute(ctx context.Context, _ ResetEngineMessage) error {
	if c == nil || c.engine == nil {
		return commandDependencyError("command: billing engine is required")
	}
	return c.engine.Reset(ctx)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
