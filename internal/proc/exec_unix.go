//go:build unix

package proc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	logx "rrsched/pkg/logx"
)

// ExecSpawner starts workers as child processes.
//
// With an empty Command the current executable is re-run as
// "<self> worker --mode <mode> --work <dur>".
type ExecSpawner struct {
	Command []string
	Log     logx.Logger
}

func (s *ExecSpawner) Spawn(ctx context.Context, spec Spec) (Process, error) {
	_ = ctx // the worker must outlive the spawning context; it is ended by Terminate.

	argv, err := s.argv(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = logx.Stdout()
	cmd.Stderr = logx.Stderr()
	// Own process group: a terminal ^C reaches the scheduler, not the workers.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSpawn, argv[0], err)
	}
	p := &execProcess{cmd: cmd, pid: cmd.Process.Pid, done: make(chan struct{})}
	go p.reap()

	if spec.Stopped {
		if err := p.signal("stop", unix.SIGSTOP); err != nil {
			_ = p.Terminate()
			return nil, fmt.Errorf("%w: suspend pid %d: %v", ErrSpawn, p.pid, err)
		}
	}
	if !s.Log.IsZero() {
		s.Log.Debug("worker spawned", logx.Int("pid", p.pid), logx.String("name", spec.Name), logx.String("mode", string(spec.Mode)))
	}
	return p, nil
}

func (s *ExecSpawner) argv(spec Spec) ([]string, error) {
	if len(s.Command) > 0 && strings.TrimSpace(s.Command[0]) != "" {
		return append([]string(nil), s.Command...), nil
	}
	self, err := os.Executable()
	if err != nil {
		return nil, err
	}
	mode := spec.Mode
	if mode == "" {
		mode = ModeIdle
	}
	argv := []string{self, "worker", "--mode", string(mode)}
	if mode == ModeWork {
		argv = append(argv, "--work", spec.Work.String())
	}
	if spec.Name != "" {
		argv = append(argv, "--name", spec.Name)
	}
	return argv, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	pid  int
	done chan struct{}
	err  error // written once by reap before done is closed
}

func (p *execProcess) reap() {
	p.err = p.cmd.Wait()
	close(p.done)
}

func (p *execProcess) PID() int { return p.pid }

func (p *execProcess) Start() error     { return p.signal("start", unix.SIGCONT) }
func (p *execProcess) Resume() error    { return p.signal("resume", unix.SIGCONT) }
func (p *execProcess) Pause() error     { return p.signal("pause", unix.SIGSTOP) }
func (p *execProcess) Terminate() error { return p.signal("terminate", unix.SIGKILL) }

func (p *execProcess) signal(op string, sig syscall.Signal) error {
	select {
	case <-p.done:
		return &SignalError{PID: p.pid, Op: op, Err: ErrGone}
	default:
	}
	if err := unix.Kill(p.pid, sig); err != nil {
		if errors.Is(err, unix.ESRCH) {
			err = ErrGone
		}
		return &SignalError{PID: p.pid, Op: op, Err: err}
	}
	return nil
}

func (p *execProcess) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) ExitErr() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}
