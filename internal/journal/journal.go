// Package journal turns run events into execution spans.
package journal

import (
	"context"
	"time"

	"rrsched/internal/eventbus"
	"rrsched/internal/storage"
	logx "rrsched/pkg/logx"
)

// Span close reasons.
const (
	ReasonPaused   = "paused"
	ReasonFinished = "finished"
	ReasonExited   = "exited"
	ReasonAborted  = "aborted"
)

type spanKey struct {
	run    string
	worker int
}

// Journal opens a span when a worker becomes active and closes it when the
// worker leaves the CPU. Closed spans go to the store.
//
// A Journal is fed from one goroutine (Run) or called directly via Handle.
type Journal struct {
	store storage.Store
	log   logx.Logger
	open  map[spanKey]storage.Span

	written int
}

func New(store storage.Store, log logx.Logger) *Journal {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Journal{store: store, log: log, open: map[spanKey]storage.Span{}}
}

// Written reports how many spans were persisted.
func (j *Journal) Written() int { return j.written }

// Open reports how many spans are still open.
func (j *Journal) Open() int { return len(j.open) }

// Run consumes events until the channel is closed or ctx ends.
func (j *Journal) Run(ctx context.Context, events <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			j.Handle(ctx, e)
		}
	}
}

// Handle applies one event.
func (j *Journal) Handle(ctx context.Context, e eventbus.Event) {
	switch e.Type {
	case eventbus.WorkerStarted, eventbus.WorkerResumed:
		d, ok := e.Data.(eventbus.WorkerData)
		if !ok {
			return
		}
		k := spanKey{e.RunID, d.Worker}
		if prev, ok := j.open[k]; ok {
			// Missed the leave event; close what we have.
			j.close(ctx, prev, e.Time, ReasonPaused)
		}
		j.open[k] = storage.Span{RunID: e.RunID, Worker: d.Worker, PID: d.PID, Start: e.Time}

	case eventbus.WorkerPaused, eventbus.WorkerFinished, eventbus.WorkerExited:
		d, ok := e.Data.(eventbus.WorkerData)
		if !ok {
			return
		}
		k := spanKey{e.RunID, d.Worker}
		sp, ok := j.open[k]
		if !ok {
			return
		}
		delete(j.open, k)
		j.close(ctx, sp, e.Time, reasonFor(e.Type))

	case eventbus.RunHalted:
		for k, sp := range j.open {
			if k.run != e.RunID {
				continue
			}
			delete(j.open, k)
			j.close(ctx, sp, e.Time, ReasonAborted)
		}
	}
}

func (j *Journal) close(ctx context.Context, sp storage.Span, end time.Time, reason string) {
	sp.End = end
	sp.Reason = reason
	if j.store == nil {
		return
	}
	if err := j.store.AppendSpan(ctx, sp); err != nil {
		j.log.Warn("append span failed",
			logx.String("run_id", sp.RunID),
			logx.Int("worker", sp.Worker),
			logx.Err(err),
		)
		return
	}
	j.written++
}

func reasonFor(typ string) string {
	switch typ {
	case eventbus.WorkerPaused:
		return ReasonPaused
	case eventbus.WorkerExited:
		return ReasonExited
	default:
		return ReasonFinished
	}
}
