// Package proctest provides in-memory Process and Spawner doubles.
package proctest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"rrsched/internal/proc"
)

// Call is one signal observed by a fake process.
type Call struct {
	PID int
	Op  string
}

func (c Call) String() string { return fmt.Sprintf("%s:%d", c.Op, c.PID) }

// Spawner hands out fake processes with sequential PIDs starting at 100.
type Spawner struct {
	mu sync.Mutex

	// FailAt makes the n-th Spawn call (1-based) fail. 0 never fails.
	FailAt int

	procs []*Process
	calls []Call
}

func (s *Spawner) Spawn(ctx context.Context, spec proc.Spec) (proc.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.procs) + 1
	if s.FailAt > 0 && n == s.FailAt {
		return nil, fmt.Errorf("%w: fake spawn %d refused", proc.ErrSpawn, n)
	}
	p := &Process{
		pid:     99 + n,
		spec:    spec,
		owner:   s,
		stopped: spec.Stopped,
		done:    make(chan struct{}),
	}
	s.procs = append(s.procs, p)
	return p, nil
}

// Procs returns the spawned processes in spawn order.
func (s *Spawner) Procs() []*Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Process(nil), s.procs...)
}

// Calls returns every signal sent to any process, in order.
func (s *Spawner) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

func (s *Spawner) record(c Call) {
	s.mu.Lock()
	s.calls = append(s.calls, c)
	s.mu.Unlock()
}

// Process is a fake worker.
//
// ModeWork processes exit (status 0) as soon as they are started or resumed.
// Terminate exits the process unless HangOnTerminate is set.
type Process struct {
	pid   int
	spec  proc.Spec
	owner *Spawner

	mu              sync.Mutex
	stopped         bool
	exited          bool
	FailPause       error
	FailResume      error
	FailTerminate   error
	HangOnTerminate bool

	done chan struct{}
}

func (p *Process) PID() int { return p.pid }

func (p *Process) Start() error  { return p.cont("start", nil) }
func (p *Process) Resume() error { return p.cont("resume", p.FailResume) }

func (p *Process) cont(op string, fail error) error {
	p.note(op)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return &proc.SignalError{PID: p.pid, Op: op, Err: proc.ErrGone}
	}
	if fail != nil {
		return &proc.SignalError{PID: p.pid, Op: op, Err: fail}
	}
	p.stopped = false
	if p.spec.Mode == proc.ModeWork {
		p.exitLocked()
	}
	return nil
}

func (p *Process) Pause() error {
	p.note("pause")
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return &proc.SignalError{PID: p.pid, Op: "pause", Err: proc.ErrGone}
	}
	if p.FailPause != nil {
		return &proc.SignalError{PID: p.pid, Op: "pause", Err: p.FailPause}
	}
	p.stopped = true
	return nil
}

func (p *Process) Terminate() error {
	p.note("terminate")
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return &proc.SignalError{PID: p.pid, Op: "terminate", Err: proc.ErrGone}
	}
	if p.FailTerminate != nil {
		return &proc.SignalError{PID: p.pid, Op: "terminate", Err: p.FailTerminate}
	}
	if !p.HangOnTerminate {
		p.exitLocked()
	}
	return nil
}

// Exit simulates the process dying on its own.
func (p *Process) Exit() {
	p.mu.Lock()
	p.exitLocked()
	p.mu.Unlock()
}

func (p *Process) exitLocked() {
	if p.exited {
		return
	}
	p.exited = true
	close(p.done)
}

func (p *Process) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Process) Done() <-chan struct{} { return p.done }

func (p *Process) ExitErr() error { return nil }

// Stopped reports whether the fake is currently suspended.
func (p *Process) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// Exited reports whether the fake has been reaped.
func (p *Process) Exited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}

func (p *Process) note(op string) {
	if p.owner != nil {
		p.owner.record(Call{PID: p.pid, Op: op})
	}
}

// ErrInjected is a convenience error for failure injection.
var ErrInjected = errors.New("injected failure")
