// Package worker is the body of a spawned worker process.
package worker

import (
	"context"
	"time"

	"rrsched/internal/proc"
	logx "rrsched/pkg/logx"
)

// Options configure one worker process.
type Options struct {
	Name string
	Mode proc.Mode
	Work time.Duration
	Log  logx.Logger
}

// Run executes the worker until ctx ends.
//
// Idle workers never return on their own: the scheduler suspends and resumes
// them with job-control signals and finally kills them. Work workers sleep
// for Work and return nil, which the process turns into exit status 0.
func Run(ctx context.Context, o Options) error {
	log := o.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	started := time.Now()
	log.Info("worker started", logx.String("name", o.Name), logx.String("mode", string(o.Mode)))

	switch o.Mode {
	case proc.ModeWork:
		t := time.NewTimer(o.Work)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
		log.Info("worker finished", logx.String("name", o.Name), logx.Duration("took", time.Since(started)))
		return nil
	default:
		<-ctx.Done()
		return ctx.Err()
	}
}
