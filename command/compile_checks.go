package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[ProcessEventMessage]         = (*ProcessEventCommand)(nil)
	_ gocmd.Commander[ProcessDueRetriesMessage]    = (*ProcessDueRetriesCommand)(nil)
	_ gocmd.Commander[DrainUpdatesMessage]         = (*DrainUpdatesCommand)(nil)
	_ gocmd.Commander[SweepGracePeriodsMessage]    = (*SweepGracePeriodsCommand)(nil)
	_ gocmd.Commander[ActivateCrisisModeMessage]   = (*ActivateCrisisModeCommand)(nil)
	_ gocmd.Commander[DeactivateCrisisModeMessage] = (*DeactivateCrisisModeCommand)(nil)
	_ gocmd.Commander[ResetEngineMessage]          = (*ResetEngineCommand)(nil)
)
