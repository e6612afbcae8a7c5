package app

import (
	"context"
	"errors"

	"rrsched/internal/proc"
	"rrsched/internal/storage"
	"rrsched/internal/timer"
)

// Process exit codes.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitSpawn       = 2
	ExitTimerSetup  = 3
	ExitInterrupted = 130
)

// ExitCode maps a run error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, proc.ErrSpawn):
		return ExitSpawn
	case errors.Is(err, timer.ErrTimerSetup):
		return ExitTimerSetup
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ExitInterrupted
	default:
		return ExitFailure
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return storage.OutcomeHalted
	case errors.Is(err, proc.ErrSpawn):
		return storage.OutcomeSpawnFailed
	case errors.Is(err, timer.ErrTimerSetup):
		return storage.OutcomeTimerFailed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return storage.OutcomeInterrupted
	default:
		return storage.OutcomeFailed
	}
}
