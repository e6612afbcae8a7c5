// Package app wires configuration, logging, storage, metrics and the
// schedulers into runnable modes.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"rrsched/internal/config"
	"rrsched/internal/eventbus"
	"rrsched/internal/journal"
	"rrsched/internal/metrics"
	"rrsched/internal/proc"
	"rrsched/internal/registry"
	"rrsched/internal/sched"
	"rrsched/internal/static"
	"rrsched/internal/storage"
	"rrsched/internal/timer"
	logx "rrsched/pkg/logx"
)

// journalBuffer must hold every event of a run; a full buffer drops spans.
const journalBuffer = 4096

// Mode is a scheduling policy.
type Mode string

const (
	ModeRoundRobin Mode = "rr"
	ModeFIFO       Mode = "fifo"
	ModeLIFO       Mode = "lifo"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeRoundRobin, ModeFIFO, ModeLIFO:
		return m, nil
	}
	return "", fmt.Errorf("unknown mode %q (want rr|fifo|lifo)", s)
}

type Options struct {
	ConfigPath string
	// Override adjusts every loaded config (command-line flags). The result
	// is validated again.
	Override func(*config.Config)
	// Spawner replaces the exec-based spawner.
	Spawner proc.Spawner
	// NewTimer replaces the ticker-backed quantum timer.
	NewTimer func() timer.Timer
}

type App struct {
	cfgm     *config.Manager
	override func(*config.Config)

	mu  sync.RWMutex
	cfg *config.Config

	logs    *logx.Service
	log     logx.Logger
	bus     eventbus.Bus
	store   storage.Store
	prom    *prometheus.Registry
	metrics *metrics.Registry

	spawner  proc.Spawner
	newTimer func() timer.Timer

	// One run at a time: a run owns the whole CPU it emulates.
	runMu sync.Mutex
}

func New(opts Options) (*App, error) {
	cfgm := config.NewManager(opts.ConfigPath)
	loaded, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	a := &App{cfgm: cfgm, override: opts.Override, spawner: opts.Spawner, newTimer: opts.NewTimer}
	cfg, err := a.effective(loaded)
	if err != nil {
		return nil, err
	}
	a.cfg = cfg
	if a.newTimer == nil {
		a.newTimer = func() timer.Timer { return timer.NewTicker() }
	}

	a.logs, a.log = logx.New(mapLogging(cfg))
	a.log = a.log.With(logx.String("comp", "app"))
	a.bus = eventbus.New()

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, a.log.With(logx.String("comp", "storage")))
		if err != nil {
			_ = a.logs.Close()
			return nil, fmt.Errorf("open storage: %w", err)
		}
		a.store = st
		a.log.Debug("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	a.prom = prometheus.NewRegistry()
	a.prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.NewRegistry(a.prom)
	return a, nil
}

// effective applies the command-line override to a loaded config.
func (a *App) effective(loaded *config.Config) (*config.Config, error) {
	if a.override == nil {
		return loaded, nil
	}
	c := *loaded
	a.override(&c)
	config.ApplyDefaults(&c)
	if err := config.Validate(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (a *App) Config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

func (a *App) setConfig(cfg *config.Config) {
	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()
}

func (a *App) Logger() logx.Logger { return a.log }

// Store returns the history store, or nil when storage is disabled.
func (a *App) Store() storage.Store { return a.store }

func (a *App) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.logs != nil {
		errs = append(errs, a.logs.Close())
	}
	return errors.Join(errs...)
}

func (a *App) spawnerFor(cfg *config.Config, log logx.Logger) proc.Spawner {
	if a.spawner != nil {
		return a.spawner
	}
	return &proc.ExecSpawner{Command: cfg.Worker.Command, Log: log.With(logx.String("comp", "proc"))}
}

// Result summarizes one run.
type Result struct {
	RunID   string
	Mode    Mode
	Workers int
	Outcome string
	Started time.Time
	Ended   time.Time
	// Spans is the number of execution spans persisted.
	Spans int
	Err   error
}

// Run executes one run of the given mode with the current config.
func (a *App) Run(ctx context.Context, mode Mode) (Result, error) {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	cfg := a.Config()
	res := Result{RunID: uuid.NewString(), Mode: mode, Started: time.Now()}
	log := a.log.With(logx.String("run_id", res.RunID), logx.String("mode", string(mode)))

	events, unsub := a.bus.Subscribe(journalBuffer)
	j := journal.New(a.store, log.With(logx.String("comp", "journal")))
	jdone := make(chan struct{})
	go func() {
		defer close(jdone)
		_ = j.Run(context.WithoutCancel(ctx), events)
	}()

	var quantum time.Duration
	var err error
	switch mode {
	case ModeRoundRobin:
		var st rrSettings
		if st, err = mapRoundRobin(cfg); err == nil {
			quantum = st.Quantum
			res.Workers = st.Workers
			err = a.runRoundRobin(ctx, cfg, st, res.RunID, log)
		}
	case ModeFIFO, ModeLIFO:
		var st staticSettings
		if st, err = mapStatic(cfg); err == nil {
			res.Workers = st.Workers
			err = a.runStatic(ctx, cfg, st, static.Order(mode), res.RunID, log)
		}
	default:
		err = fmt.Errorf("unknown mode %q", mode)
	}

	// Unsubscribing closes the channel; the journal drains what is buffered.
	unsub()
	<-jdone

	res.Ended = time.Now()
	res.Spans = j.Written()
	res.Err = err
	res.Outcome = outcomeOf(err)
	a.metrics.ObserveRun(string(mode), res.Outcome)
	a.record(ctx, res, quantum, log)

	fields := []logx.Field{
		logx.String("outcome", res.Outcome),
		logx.Int("workers", res.Workers),
		logx.Duration("took", res.Ended.Sub(res.Started)),
	}
	if err != nil {
		log.Error("run failed", append(fields, logx.Err(err))...)
	} else {
		log.Info("run completed", fields...)
	}
	return res, err
}

func (a *App) runRoundRobin(ctx context.Context, cfg *config.Config, st rrSettings, runID string, log logx.Logger) error {
	reg := registry.New(a.spawnerFor(cfg, log), st.Capacity,
		registry.WithLogger(log.With(logx.String("comp", "registry"))),
		registry.WithSpawnHook(a.metrics.ObserveSpawn),
	)
	if err := reg.Populate(ctx, st.Workers, st.Runtime); err != nil {
		return err
	}

	s := sched.New(reg, a.newTimer(), sched.Config{Quantum: st.Quantum, ReapTimeout: st.ReapTimeout, RunID: runID},
		sched.WithLogger(log.With(logx.String("comp", "sched"))),
		sched.WithPublisher(a.bus),
		sched.WithMetrics(a.metrics),
	)
	if err := s.Run(ctx); err != nil {
		return err
	}

	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), st.ReapTimeout)
	defer cancel()
	if err := reg.Join(jctx); err != nil {
		log.Warn("workers still alive after halt", logx.Int("live", reg.Live()), logx.Err(err))
	}
	return nil
}

func (a *App) runStatic(ctx context.Context, cfg *config.Config, st staticSettings, order static.Order, runID string, log logx.Logger) error {
	reg := registry.New(a.spawnerFor(cfg, log), 0,
		registry.WithLogger(log.With(logx.String("comp", "registry"))),
		registry.WithSpawnHook(a.metrics.ObserveSpawn),
		registry.WithWorkMode(st.Work),
	)
	if err := static.Populate(ctx, reg, st.Workers, st.SpawnDelay); err != nil {
		return err
	}
	r := static.New(reg, static.Config{Order: order, RunID: runID, ReapTimeout: st.ReapTimeout},
		static.WithLogger(log.With(logx.String("comp", "static"))),
		static.WithPublisher(a.bus),
	)
	return r.Run(ctx)
}

func (a *App) record(ctx context.Context, res Result, quantum time.Duration, log logx.Logger) {
	if a.store == nil {
		return
	}
	run := storage.Run{
		ID:        res.RunID,
		Mode:      string(res.Mode),
		QuantumMS: quantum.Milliseconds(),
		Workers:   res.Workers,
		StartedAt: res.Started,
		EndedAt:   res.Ended,
		Outcome:   res.Outcome,
	}
	if res.Err != nil {
		run.Error = res.Err.Error()
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := a.store.AppendRun(rctx, run); err != nil {
		log.Warn("append run failed", logx.Err(err))
	}
}

// History returns recent runs, most recent first.
func (a *App) History(ctx context.Context, limit int) ([]storage.Run, error) {
	if a.store == nil {
		return nil, storage.ErrDisabled
	}
	return a.store.Runs(ctx, limit)
}

// Spans returns the execution spans of one run.
func (a *App) Spans(ctx context.Context, runID string) ([]storage.Span, error) {
	if a.store == nil {
		return nil, storage.ErrDisabled
	}
	return a.store.Spans(ctx, runID)
}
