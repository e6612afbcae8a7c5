// Package static runs workers to completion without preemption.
//
// Workers are spawned suspended in work mode and then released one at a time:
// FIFO in registration order, LIFO newest first. Each worker holds the CPU
// until it exits on its own.
package static

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"rrsched/internal/eventbus"
	"rrsched/internal/registry"
	logx "rrsched/pkg/logx"
)

// Order selects the release order.
type Order string

const (
	FIFO Order = "fifo"
	LIFO Order = "lifo"
)

func ParseOrder(s string) (Order, error) {
	switch o := Order(s); o {
	case FIFO, LIFO:
		return o, nil
	}
	return "", fmt.Errorf("unknown static order %q (want fifo|lifo)", s)
}

const defaultReapTimeout = time.Second

type Config struct {
	Order Order
	RunID string
	// ReapTimeout bounds reaping on abort.
	ReapTimeout time.Duration
}

type Runner struct {
	cfg Config
	reg *registry.Registry
	log logx.Logger
	bus eventbus.Publisher
}

type Option func(*Runner)

func WithLogger(log logx.Logger) Option { return func(r *Runner) { r.log = log } }

func WithPublisher(p eventbus.Publisher) Option { return func(r *Runner) { r.bus = p } }

func New(reg *registry.Registry, cfg Config, opts ...Option) *Runner {
	if cfg.ReapTimeout <= 0 {
		cfg.ReapTimeout = defaultReapTimeout
	}
	if cfg.Order == "" {
		cfg.Order = FIFO
	}
	r := &Runner{cfg: cfg, reg: reg, bus: eventbus.Nop{}}
	for _, o := range opts {
		o(r)
	}
	if r.log.IsZero() {
		r.log = logx.Nop()
	}
	return r
}

// Populate registers n workers, pausing delay between spawns. Any failure
// aborts the workers registered so far.
func Populate(ctx context.Context, reg *registry.Registry, n int, delay time.Duration) error {
	for i := 0; i < n; i++ {
		if i > 0 && delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				reg.Abort(context.WithoutCancel(ctx), defaultReapTimeout)
				return ctx.Err()
			}
		}
		if _, err := reg.Register(ctx, 0); err != nil {
			reg.Abort(context.WithoutCancel(ctx), defaultReapTimeout)
			return err
		}
	}
	return nil
}

// Run releases every queued worker in order and waits for each to exit.
// Cancelling ctx terminates whatever is still alive.
func (r *Runner) Run(ctx context.Context) error {
	q := r.reg.Queue()
	order := q.Records()
	if r.cfg.Order == LIFO {
		slices.Reverse(order)
	}
	mode := string(r.cfg.Order)
	r.publish(eventbus.RunStarted, eventbus.RunData{Mode: mode, Workers: len(order)})
	r.log.Info("static run started", logx.String("order", mode), logx.Int("workers", len(order)))

	for _, rec := range order {
		if err := r.runOne(ctx, rec); err != nil {
			r.reg.Abort(context.WithoutCancel(ctx), r.cfg.ReapTimeout)
			r.publish(eventbus.RunHalted, eventbus.RunData{Mode: mode, Err: err.Error()})
			return err
		}
		if _, err := q.Remove(rec); err != nil {
			r.log.Error("remove exited worker", logx.Int("worker", rec.ID), logx.Err(err))
		}
	}

	r.publish(eventbus.RunHalted, eventbus.RunData{Mode: mode})
	r.log.Info("all workers completed")
	return nil
}

func (r *Runner) runOne(ctx context.Context, rec *registry.WorkerRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	started := time.Now()
	if err := rec.Handle.Start(); err != nil {
		return fmt.Errorf("start worker %d: %w", rec.ID, err)
	}
	rec.State = registry.Active
	r.publish(eventbus.WorkerStarted, workerData(rec))
	r.log.Info("worker started", logx.Int("worker", rec.ID), logx.Int("pid", rec.PID()))

	if err := rec.Handle.Wait(ctx); err != nil {
		return fmt.Errorf("wait worker %d: %w", rec.ID, err)
	}
	rec.State = registry.Finished
	rec.Charges++
	r.publish(eventbus.WorkerExited, workerData(rec))

	fields := []logx.Field{logx.Int("worker", rec.ID), logx.Int("pid", rec.PID()), logx.Duration("took", time.Since(started))}
	if err := rec.Handle.ExitErr(); err != nil && !errors.Is(err, context.Canceled) {
		r.log.Warn("worker exited with error", append(fields, logx.Err(err))...)
		return nil
	}
	r.log.Info("worker exited", fields...)
	return nil
}

func (r *Runner) publish(typ string, data any) {
	r.bus.Publish(eventbus.Event{Type: typ, RunID: r.cfg.RunID, Data: data})
}

func workerData(rec *registry.WorkerRecord) eventbus.WorkerData {
	return eventbus.WorkerData{Worker: rec.ID, PID: rec.PID(), Charges: rec.Charges}
}
