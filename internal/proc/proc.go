// Package proc controls the OS-level worker processes.
//
// A Process is driven purely by signals: Start/Resume continue it, Pause stops
// it, Terminate kills it. Every spawned process has a reaper goroutine, so
// Wait never leaves zombies behind and Done can be selected on.
package proc

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSpawn marks a worker that could not be created. Fatal during setup.
	ErrSpawn = errors.New("spawn worker")
	// ErrSignal marks a pause/resume/terminate signal that could not be delivered.
	ErrSignal = errors.New("signal delivery")
	// ErrGone is wrapped by signal errors when the target already exited.
	ErrGone = errors.New("process already exited")
	// ErrUnsupported is returned on platforms without job-control signals.
	ErrUnsupported = errors.New("process control not supported on this platform")
)

// Mode selects what a spawned worker does once it runs.
type Mode string

const (
	// ModeIdle workers never exit on their own; the scheduler terminates them.
	ModeIdle Mode = "idle"
	// ModeWork workers run for Spec.Work and exit 0.
	ModeWork Mode = "work"
)

// Spec describes one worker to spawn.
type Spec struct {
	Name string
	Mode Mode
	Work time.Duration
	// Stopped leaves the process suspended right after creation,
	// so it does not run until Start is called.
	Stopped bool
}

// Process is a handle on one worker.
type Process interface {
	PID() int
	// Start continues a process that was spawned stopped.
	Start() error
	Pause() error
	Resume() error
	Terminate() error
	// Wait blocks until the reaper observed the exit, or ctx ends.
	Wait(ctx context.Context) error
	Done() <-chan struct{}
	// ExitErr is the exit status reported by the reaper (nil for exit 0).
	// Only meaningful after Done is closed.
	ExitErr() error
}

// Spawner creates worker processes.
type Spawner interface {
	Spawn(ctx context.Context, spec Spec) (Process, error)
}

// SignalError is a failed signal delivery.
type SignalError struct {
	PID int
	Op  string
	Err error
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("%s: %s pid %d: %v", ErrSignal, e.Op, e.PID, e.Err)
}

func (e *SignalError) Unwrap() error { return e.Err }

func (e *SignalError) Is(target error) bool { return target == ErrSignal }

// WaitTimeout waits for p up to d. d <= 0 waits without bound.
func WaitTimeout(ctx context.Context, p Process, d time.Duration) error {
	if d <= 0 {
		return p.Wait(ctx)
	}
	wctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return p.Wait(wctx)
}
