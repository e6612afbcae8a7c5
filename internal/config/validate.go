package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// ScheduleParser accepts 5- or 6-field cron expressions and descriptors
// such as "@every 1m".
var ScheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate reports every problem in cfg at once. It expects defaults to
// have been applied.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	positive := func(path, raw string) {
		d, err := ParseDurationField(path, raw)
		if err != nil {
			add(err)
			return
		}
		if d <= 0 {
			add(fmt.Errorf("%s: must be > 0", path))
		}
	}

	s := cfg.Scheduler
	positive("scheduler.quantum", s.Quantum)
	positive("scheduler.worker_runtime", s.WorkerRuntime)
	positive("scheduler.reap_timeout", s.ReapTimeout)
	if s.Workers <= 0 {
		add(fmt.Errorf("scheduler.workers: must be > 0"))
	}
	if s.Capacity < 0 {
		add(fmt.Errorf("scheduler.capacity: must be >= 0"))
	}
	if s.Capacity > 0 && s.Workers > s.Capacity {
		add(fmt.Errorf("scheduler.workers: %d exceeds capacity %d", s.Workers, s.Capacity))
	}

	if cfg.Static.Workers <= 0 {
		add(fmt.Errorf("static.workers: must be > 0"))
	}
	positive("static.work", cfg.Static.Work)
	_, err := ParseDurationField("static.spawn_delay", cfg.Static.SpawnDelay)
	add(err)

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "none":
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			add(fmt.Errorf("storage.path: required for driver %q", cfg.Storage.Driver))
		}
	default:
		add(fmt.Errorf("storage.driver: unknown %q (want file|sqlite|none)", cfg.Storage.Driver))
	}
	_, err = ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	add(err)

	if cfg.Metrics.Enabled && strings.TrimSpace(cfg.Metrics.Addr) == "" {
		add(fmt.Errorf("metrics.addr: required when metrics are enabled"))
	}

	switch cfg.Serve.Mode {
	case "rr", "fifo", "lifo":
	default:
		add(fmt.Errorf("serve.mode: unknown %q (want rr|fifo|lifo)", cfg.Serve.Mode))
	}
	if _, err := ScheduleParser.Parse(cfg.Serve.Schedule); err != nil {
		add(fmt.Errorf("serve.schedule: %w", err))
	}

	return errors.Join(errs...)
}
