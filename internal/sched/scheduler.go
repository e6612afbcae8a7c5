// Package sched is the round-robin quantum-preemption state machine.
//
// A Scheduler owns the run queue, the cursor and the quantum timer. It is not
// safe for concurrent use: Run is the single goroutine that turns timer
// firings into Tick calls, so exactly one transition is ever in flight.
package sched

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"rrsched/internal/eventbus"
	"rrsched/internal/metrics"
	"rrsched/internal/proc"
	"rrsched/internal/registry"
	"rrsched/internal/timer"
	logx "rrsched/pkg/logx"
)

const defaultReapTimeout = time.Second

// Config holds the per-run knobs.
type Config struct {
	Quantum time.Duration
	// ReapTimeout bounds the synchronous wait for a terminated worker.
	ReapTimeout time.Duration
	RunID       string
}

// Kind classifies one timer firing.
type Kind string

const (
	KindNoop     Kind = "noop"
	KindPaused   Kind = "paused"
	KindFinished Kind = "finished"
	KindHalted   Kind = "halted"
)

// Transition reports what one firing did.
type Transition struct {
	Kind Kind
	// Worker is the ID of the charged worker (0 for noop).
	Worker    int
	PID       int
	Remaining time.Duration
	Charges   int
	// Next is the ID of the worker resumed afterwards (0 if none).
	Next int
	// Errs are the signal/reap failures absorbed during the firing.
	Errs []error
}

type Scheduler struct {
	cfg     Config
	reg     *registry.Registry
	queue   *registry.Queue
	timer   timer.Timer
	log     logx.Logger
	warn    logx.Logger
	bus     eventbus.Publisher
	metrics *metrics.Registry

	cursor  *registry.WorkerRecord
	started bool
	halted  bool
}

type Option func(*Scheduler)

func WithLogger(log logx.Logger) Option { return func(s *Scheduler) { s.log = log } }

func WithPublisher(p eventbus.Publisher) Option { return func(s *Scheduler) { s.bus = p } }

func WithMetrics(m *metrics.Registry) Option { return func(s *Scheduler) { s.metrics = m } }

// New builds a scheduler over a populated registry.
func New(reg *registry.Registry, t timer.Timer, cfg Config, opts ...Option) *Scheduler {
	if cfg.ReapTimeout <= 0 {
		cfg.ReapTimeout = defaultReapTimeout
	}
	s := &Scheduler{cfg: cfg, reg: reg, queue: reg.Queue(), timer: t, bus: eventbus.Nop{}}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	// A worker that vanished fails every quantum; keep that from flooding the log.
	s.warn = s.log.Limited(rate.NewLimiter(rate.Limit(5), 10))
	return s
}

// Halted reports whether the run reached HALTED.
func (s *Scheduler) Halted() bool { return s.halted }

// Cursor returns the worker currently granted the CPU (nil when halted).
func (s *Scheduler) Cursor() *registry.WorkerRecord { return s.cursor }

// Records returns the queued workers in rotation order.
func (s *Scheduler) Records() []*registry.WorkerRecord { return s.queue.Records() }

// Start performs the initial transition: the first registered worker is
// started and the quantum timer armed. An empty queue halts immediately.
func (s *Scheduler) Start() error {
	if s.started {
		return errors.New("scheduler already started")
	}
	s.started = true
	s.publish(eventbus.RunStarted, eventbus.RunData{Mode: "rr", Workers: s.queue.Len(), Quantum: s.cfg.Quantum})

	first := s.queue.Front()
	if first == nil {
		s.halt()
		return nil
	}
	s.cursor = first
	s.resume(first, nil)
	if err := s.timer.Arm(s.cfg.Quantum); err != nil {
		return fmt.Errorf("arm quantum timer: %w", err)
	}
	s.metrics.ObserveQueued(s.queue.Len())
	s.log.Info("scheduler started",
		logx.Int("workers", s.queue.Len()),
		logx.Duration("quantum", s.cfg.Quantum),
		logx.Int("first_pid", first.PID()),
	)
	return nil
}

// Tick handles one timer firing.
func (s *Scheduler) Tick() Transition {
	began := time.Now()
	tr := s.tick()
	s.metrics.ObserveTransition(string(tr.Kind), time.Since(began), s.queue.Len())
	return tr
}

func (s *Scheduler) tick() Transition {
	// Stray firing racing Disarm, or a tick after HALTED.
	if s.halted || s.cursor == nil || s.queue.Len() == 0 {
		return Transition{Kind: KindNoop}
	}

	cur := s.cursor
	cur.Remaining -= s.cfg.Quantum
	cur.Charges++
	s.metrics.ObserveCharge(strconv.Itoa(cur.ID))

	tr := Transition{Worker: cur.ID, PID: cur.PID(), Remaining: cur.Remaining, Charges: cur.Charges}

	var next *registry.WorkerRecord
	if cur.Remaining > 0 {
		if err := cur.Handle.Pause(); err != nil {
			tr.Errs = append(tr.Errs, s.signalFailed("pause", cur, err))
		}
		cur.State = registry.Paused
		s.publish(eventbus.WorkerPaused, workerData(cur))
		s.log.Info("worker paused",
			logx.Int("worker", cur.ID),
			logx.Int("pid", cur.PID()),
			logx.Duration("remaining", cur.Remaining),
		)
		next = s.queue.Next(cur)
		tr.Kind = KindPaused
	} else {
		tr.Errs = append(tr.Errs, s.finish(cur)...)
		succ, err := s.queue.Remove(cur)
		if err != nil {
			// The cursor always points at a queued record; reaching this is a bug.
			s.log.Error("remove finished worker", logx.Int("worker", cur.ID), logx.Err(err))
		}
		if succ == nil {
			s.halt()
			tr.Kind = KindHalted
			return tr
		}
		next = succ
		tr.Kind = KindFinished
	}

	s.cursor = next
	s.resume(next, &tr)
	tr.Next = next.ID
	return tr
}

// finish terminates and reaps cur. Failures are absorbed: a worker that
// cannot be reaped is treated as already gone.
func (s *Scheduler) finish(cur *registry.WorkerRecord) []error {
	var errs []error
	if err := cur.Handle.Terminate(); err != nil {
		errs = append(errs, s.signalFailed("terminate", cur, err))
	}
	if err := proc.WaitTimeout(context.Background(), cur.Handle, s.cfg.ReapTimeout); err != nil {
		err = fmt.Errorf("reap worker %d: %w", cur.ID, err)
		s.warn.Warn("reap failed; treating worker as finished", logx.Int("worker", cur.ID), logx.Int("pid", cur.PID()), logx.Err(err))
		errs = append(errs, err)
	}
	cur.State = registry.Finished
	s.publish(eventbus.WorkerFinished, workerData(cur))
	s.log.Info("worker finished",
		logx.Int("worker", cur.ID),
		logx.Int("pid", cur.PID()),
		logx.Int("charges", cur.Charges),
	)
	return errs
}

func (s *Scheduler) resume(rec *registry.WorkerRecord, tr *Transition) {
	op, ev, msg := "resume", eventbus.WorkerResumed, "worker resumed"
	signal := rec.Handle.Resume
	if rec.State == registry.NotStarted {
		op, ev, msg = "start", eventbus.WorkerStarted, "worker started"
		signal = rec.Handle.Start
	}
	if err := signal(); err != nil {
		err = s.signalFailed(op, rec, err)
		if tr != nil {
			tr.Errs = append(tr.Errs, err)
		}
	}
	// On failure the worker keeps its assumed state; the next charge settles it.
	rec.State = registry.Active
	s.publish(ev, workerData(rec))
	s.log.Info(msg,
		logx.Int("worker", rec.ID),
		logx.Int("pid", rec.PID()),
		logx.Duration("remaining", rec.Remaining),
	)
}

func (s *Scheduler) signalFailed(op string, rec *registry.WorkerRecord, err error) error {
	s.metrics.ObserveSignalFailure(op)
	s.warn.Warn("signal delivery failed",
		logx.String("op", op),
		logx.Int("worker", rec.ID),
		logx.Int("pid", rec.PID()),
		logx.Bool("gone", errors.Is(err, proc.ErrGone)),
		logx.Err(err),
	)
	return err
}

func (s *Scheduler) halt() {
	s.timer.Disarm()
	s.halted = true
	s.cursor = nil
	s.metrics.ObserveQueued(0)
	s.publish(eventbus.RunHalted, eventbus.RunData{Mode: "rr", Quantum: s.cfg.Quantum})
	s.log.Info("all workers completed")
}

// Run drives the scheduler until HALTED. Setup failures and ctx
// cancellation terminate every live worker before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		s.abort(ctx)
		return err
	}
	for !s.halted {
		select {
		case <-ctx.Done():
			s.log.Warn("run interrupted; terminating workers", logx.Int("queued", s.queue.Len()))
			s.abort(context.WithoutCancel(ctx))
			return ctx.Err()
		case <-s.timer.C():
			s.Tick()
		}
	}
	return nil
}

func (s *Scheduler) abort(ctx context.Context) {
	s.timer.Disarm()
	s.reg.Abort(ctx, s.cfg.ReapTimeout)
	s.halted = true
	s.cursor = nil
	s.metrics.ObserveQueued(0)
	s.publish(eventbus.RunHalted, eventbus.RunData{Mode: "rr", Quantum: s.cfg.Quantum, Err: "aborted"})
}

func (s *Scheduler) publish(typ string, data any) {
	s.bus.Publish(eventbus.Event{Type: typ, RunID: s.cfg.RunID, Data: data})
}

func workerData(rec *registry.WorkerRecord) eventbus.WorkerData {
	return eventbus.WorkerData{Worker: rec.ID, PID: rec.PID(), Charges: rec.Charges, Remaining: rec.Remaining}
}
