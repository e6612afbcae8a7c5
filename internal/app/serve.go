package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"rrsched/internal/config"
	"rrsched/internal/runtime/supervisor"
	logx "rrsched/pkg/logx"
)

const (
	cronStopTimeout       = 10 * time.Second
	supervisorStopTimeout = 3 * time.Second
)

// Serve runs the configured mode on the configured cron schedule until ctx
// ends. Overlapping firings are skipped while a run is in progress. Config
// changes are picked up without a restart, except storage and metrics.
func (a *App) Serve(ctx context.Context) error {
	sup := supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)
	cfg := a.Config()

	if cfg.Metrics.Enabled {
		ln, err := net.Listen("tcp", cfg.Metrics.Addr)
		if err != nil {
			sup.Cancel()
			return fmt.Errorf("metrics listen %s: %w", cfg.Metrics.Addr, err)
		}
		srv := &http.Server{Handler: a.MetricsHandler(), ReadHeaderTimeout: 5 * time.Second}
		sup.Go("metrics.http", func(c context.Context) error { return serveHTTP(c, srv, ln) })
		a.log.Info("metrics listening", logx.String("addr", ln.Addr().String()))
	}

	cl := cronLogger{log: a.log.With(logx.String("comp", "cron"))}
	c := cron.New(
		cron.WithParser(config.ScheduleParser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	job := cron.FuncJob(func() { a.scheduledRun(sup.Context()) })
	id, err := c.AddJob(cfg.Serve.Schedule, job)
	if err != nil {
		sup.Cancel()
		return fmt.Errorf("serve.schedule: %w", err)
	}

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	sup.GoRestart("config.watch", a.cfgm.Watch, supervisor.RestartPolicy{})
	updates := a.cfgm.Subscribe(4)
	sup.Go("config.reload", func(ctx context.Context) error {
		defer a.cfgm.Unsubscribe(updates)
		for {
			select {
			case <-ctx.Done():
				return nil
			case newCfg, ok := <-updates:
				if !ok {
					return nil
				}
				prev := a.Config()
				applied := a.applyConfig(newCfg)
				if applied == nil || applied.Serve.Schedule == prev.Serve.Schedule {
					continue
				}
				nid, err := c.AddJob(applied.Serve.Schedule, job)
				if err != nil {
					a.log.Warn("invalid schedule; keeping previous", logx.String("schedule", applied.Serve.Schedule), logx.Err(err))
					continue
				}
				c.Remove(id)
				id = nid
				a.log.Info("schedule updated", logx.String("schedule", applied.Serve.Schedule))
			}
		}
	})

	c.Start()
	a.log.Info("serving",
		logx.String("schedule", cfg.Serve.Schedule),
		logx.String("mode", cfg.Serve.Mode),
		logx.String("config", a.cfgm.Path()),
	)
	a.sdNotify(daemon.SdNotifyReady, "STATUS=waiting for first run")

	<-sup.Context().Done()
	a.log.Info("stopping")
	a.sdNotify(daemon.SdNotifyStopping)

	// A run in progress sees the canceled context and terminates its workers.
	select {
	case <-c.Stop().Done():
	case <-time.After(cronStopTimeout):
		a.log.Warn("scheduled run did not stop in time", logx.Duration("waited", cronStopTimeout))
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), supervisorStopTimeout)
	defer cancel()
	if err := sup.Stop(stopCtx); err != nil {
		return err
	}
	a.log.Info("stopped")
	return nil
}

func (a *App) scheduledRun(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	mode, err := ParseMode(a.Config().Serve.Mode)
	if err != nil {
		a.log.Error("scheduled run skipped", logx.Err(err))
		return
	}
	a.sdNotify("STATUS=running " + string(mode))
	res, _ := a.Run(ctx, mode)
	a.sdNotify(fmt.Sprintf("STATUS=last run %s: %s (%s)", res.RunID, res.Outcome, res.Ended.Sub(res.Started).Round(time.Millisecond)))
}

// applyConfig makes a reloaded config current and returns it, or nil when
// the command-line override turns it invalid.
func (a *App) applyConfig(loaded *config.Config) *config.Config {
	cfg, err := a.effective(loaded)
	if err != nil {
		a.log.Warn("reloaded config rejected", logx.Err(err))
		return nil
	}
	prev := a.Config()
	sections, attrs := config.SummarizeConfigChange(prev, cfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return cfg
	}
	for _, s := range sections {
		switch s {
		case "storage", "metrics":
			a.log.Warn(s + " config changed; restart required for changes to take effect")
		case "logging":
			a.logs.Apply(mapLogging(cfg))
		}
	}
	a.setConfig(cfg)
	a.log.Info("config applied", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
	return cfg
}

// MetricsHandler serves the prometheus registry, plus pprof when enabled.
func (a *App) MetricsHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(a.prom, promhttp.HandlerOpts{Registry: a.prom}))
	if a.Config().Metrics.Pprof {
		r.Mount("/debug", middleware.Profiler())
	}
	return r
}

func serveHTTP(ctx context.Context, srv *http.Server, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// sdNotify is a no-op outside systemd (NOTIFY_SOCKET unset).
func (a *App) sdNotify(states ...string) {
	sent, err := daemon.SdNotify(false, strings.Join(states, "\n"))
	if err != nil {
		a.log.Debug("sd_notify failed", logx.Err(err))
		return
	}
	if sent {
		a.log.Trace("sd_notify sent", logx.String("state", strings.Join(states, ",")))
	}
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) { l.log.Debug(msg, kvFields(kv)...) }

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error(msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	fields := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return fields
}
