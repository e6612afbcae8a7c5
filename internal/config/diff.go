package config

import (
	"slices"
	"strings"

	logx "rrsched/pkg/logx"
)

// SummarizeConfigChange returns the changed sections and log fields
// describing their new values.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.quantum", newCfg.Scheduler.Quantum),
			logx.Int("scheduler.workers", newCfg.Scheduler.Workers),
			logx.String("scheduler.worker_runtime", newCfg.Scheduler.WorkerRuntime),
		)
	}
	if oldCfg.Static != newCfg.Static {
		changed = append(changed, "static")
		attrs = append(attrs,
			logx.Int("static.workers", newCfg.Static.Workers),
			logx.String("static.work", newCfg.Static.Work),
		)
	}
	if !slices.Equal(oldCfg.Worker.Command, newCfg.Worker.Command) {
		changed = append(changed, "worker")
		attrs = append(attrs, logx.String("worker.command", strings.Join(newCfg.Worker.Command, " ")))
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", newCfg.Metrics.Addr),
			logx.Bool("metrics.pprof", newCfg.Metrics.Pprof),
		)
	}
	if oldCfg.Serve != newCfg.Serve {
		changed = append(changed, "serve")
		attrs = append(attrs,
			logx.String("serve.schedule", newCfg.Serve.Schedule),
			logx.String("serve.mode", newCfg.Serve.Mode),
		)
	}
	return changed, attrs
}
