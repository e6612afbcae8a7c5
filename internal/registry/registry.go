// Package registry holds the fixed set of workers a run schedules.
//
// The registry is populated once before scheduling; afterwards the scheduler
// only removes records from its Queue. Join is the decoupled "all workers
// finished" wait used by the outer flow.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"rrsched/internal/proc"
	logx "rrsched/pkg/logx"
)

type Registry struct {
	spawner proc.Spawner
	log     logx.Logger
	mode    proc.Mode
	work    time.Duration

	queue  *Queue
	all    []*WorkerRecord // every spawned record, reaped or not
	nextID int

	onSpawn func(err error)
}

type Option func(*Registry)

func WithLogger(log logx.Logger) Option { return func(r *Registry) { r.log = log } }

// WithSpawnHook is called after every spawn attempt with its error (nil on success).
func WithSpawnHook(fn func(err error)) Option { return func(r *Registry) { r.onSpawn = fn } }

// WithWorkMode spawns self-completing workers that run for d (static variants).
func WithWorkMode(d time.Duration) Option {
	return func(r *Registry) {
		r.mode = proc.ModeWork
		r.work = d
	}
}

// New creates an empty registry backed by sp. capacity <= 0 means unbounded.
func New(sp proc.Spawner, capacity int, opts ...Option) *Registry {
	r := &Registry{spawner: sp, mode: proc.ModeIdle, queue: NewQueue(capacity)}
	for _, o := range opts {
		o(r)
	}
	if r.log.IsZero() {
		r.log = logx.Nop()
	}
	return r
}

func (r *Registry) Queue() *Queue { return r.queue }

// Register spawns one suspended worker and appends its record with
// Remaining = total. The returned error wraps proc.ErrSpawn on spawn failure.
func (r *Registry) Register(ctx context.Context, total time.Duration) (*WorkerRecord, error) {
	if r.queue.capacity > 0 && r.queue.Len() >= r.queue.capacity {
		return nil, fmt.Errorf("register worker: %w: capacity %d", ErrCapacity, r.queue.capacity)
	}
	id := r.nextID + 1
	h, err := r.spawner.Spawn(ctx, proc.Spec{
		Name:    "worker-" + strconv.Itoa(id),
		Mode:    r.mode,
		Work:    r.work,
		Stopped: true,
	})
	if r.onSpawn != nil {
		r.onSpawn(err)
	}
	if err != nil {
		return nil, fmt.Errorf("register worker %d: %w", id, err)
	}
	rec := &WorkerRecord{ID: id, Handle: h, Total: total, Remaining: total, State: NotStarted}
	if err := r.queue.Append(rec); err != nil {
		_ = h.Terminate()
		return nil, fmt.Errorf("register worker %d: %w", id, err)
	}
	r.nextID = id
	r.all = append(r.all, rec)
	r.log.Info("worker registered", logx.Int("worker", id), logx.Int("pid", h.PID()), logx.Duration("runtime", total))
	return rec, nil
}

// Populate registers n workers with the same total runtime. On any failure it
// aborts every worker registered so far, so no partial registry is scheduled.
func (r *Registry) Populate(ctx context.Context, n int, total time.Duration) error {
	for i := 0; i < n; i++ {
		if _, err := r.Register(ctx, total); err != nil {
			r.Abort(ctx, time.Second)
			return err
		}
	}
	return nil
}

// Join blocks until every spawned worker has been reaped or ctx ends.
func (r *Registry) Join(ctx context.Context) error {
	for _, rec := range r.all {
		if err := rec.Handle.Wait(ctx); err != nil {
			return fmt.Errorf("join worker %d: %w", rec.ID, err)
		}
	}
	return nil
}

// Live returns how many spawned workers have not been reaped yet.
func (r *Registry) Live() int {
	n := 0
	for _, rec := range r.all {
		select {
		case <-rec.Handle.Done():
		default:
			n++
		}
	}
	return n
}

// Abort terminates and reaps every worker still alive and empties the queue.
// Each reap waits at most reapTimeout.
func (r *Registry) Abort(ctx context.Context, reapTimeout time.Duration) {
	for _, rec := range r.all {
		select {
		case <-rec.Handle.Done():
			continue
		default:
		}
		if err := rec.Handle.Terminate(); err != nil && !errors.Is(err, proc.ErrGone) {
			r.log.Warn("abort: terminate failed", logx.Int("worker", rec.ID), logx.Err(err))
		}
		if err := proc.WaitTimeout(ctx, rec.Handle, reapTimeout); err != nil {
			r.log.Warn("abort: reap failed", logx.Int("worker", rec.ID), logx.Err(err))
		}
		rec.State = Finished
	}
	for r.queue.Len() > 0 {
		_, _ = r.queue.RemoveAt(0)
	}
}
