package command

import (
	"strings"

	"github.com/goliatone/go-billing-sync/core"
)

const (
	TypeProcessEvent         = "billing.command.event.process"
	TypeProcessDueRetries    = "billing.command.retries.process"
	TypeDrainUpdates         = "billing.command.updates.drain"
	TypeSweepGracePeriods    = "billing.command.grace.sweep"
	TypeActivateCrisisMode   = "billing.command.crisis.activate"
	TypeDeactivateCrisisMode = "billing.command.crisis.deactivate"
	TypeResetEngine          = "billing.command.engine.reset"
)

type ProcessEventMessage struct {
	Event core.WebhookEvent
}

func (ProcessEventMessage) Type() string { return TypeProcessEvent }

func (m ProcessEventMessage) Validate() error {
	if strings.TrimSpace(m.Event.ID) == "" {
		return commandValidationError("id", "event id is required")
	}
	if strings.TrimSpace(m.Event.Type) == "" {
		return commandValidationError("type", "event type is required")
	}
	return nil
}

type ProcessDueRetriesMessage struct{}

func (ProcessDueRetriesMessage) Type() string { return TypeProcessDueRetries }

func (ProcessDueRetriesMessage) Validate() error { return nil }

type DrainUpdatesMessage struct{}

func (DrainUpdatesMessage) Type() string { return TypeDrainUpdates }

func (DrainUpdatesMessage) Validate() error { return nil }

type SweepGracePeriodsMessage struct{}

func (SweepGracePeriodsMessage) Type() string { return TypeSweepGracePeriods }

func (SweepGracePeriodsMessage) Validate() error { return nil }

type ActivateCrisisModeMessage struct {
	Reason string
}

func (ActivateCrisisModeMessage) Type() string { return TypeActivateCrisisMode }

func (m ActivateCrisisModeMessage) Validate() error {
	if strings.TrimSpace(m.Reason) == "" {
		return commandValidationError("reason", "crisis mode reason is required")
	}
	return nil
}

type DeactivateCrisisModeMessage struct{}

func (DeactivateCrisisModeMessage) Type() string { return TypeDeactivateCrisisMode }

func (DeactivateCrisisModeMessage) Validate() error { return nil }

type ResetEngineMessage struct{}

func (ResetEngineMessage) Type() string { return TypeResetEngine }

func (ResetEngineMessage) Validate() error { return nil }
