package app

import (
	"time"

	"rrsched/internal/config"
	logx "rrsched/pkg/logx"
)

type rrSettings struct {
	Quantum     time.Duration
	Workers     int
	Runtime     time.Duration
	Capacity    int
	ReapTimeout time.Duration
}

type staticSettings struct {
	Workers     int
	Work        time.Duration
	SpawnDelay  time.Duration
	ReapTimeout time.Duration
}

func mapRoundRobin(cfg *config.Config) (rrSettings, error) {
	s := cfg.Scheduler
	quantum, err := config.ParseDurationOrDefault("scheduler.quantum", s.Quantum, 100*time.Millisecond)
	if err != nil {
		return rrSettings{}, err
	}
	runtime, err := config.ParseDurationOrDefault("scheduler.worker_runtime", s.WorkerRuntime, 300*time.Millisecond)
	if err != nil {
		return rrSettings{}, err
	}
	reap, err := config.ParseDurationOrDefault("scheduler.reap_timeout", s.ReapTimeout, time.Second)
	if err != nil {
		return rrSettings{}, err
	}
	return rrSettings{Quantum: quantum, Workers: s.Workers, Runtime: runtime, Capacity: s.Capacity, ReapTimeout: reap}, nil
}

func mapStatic(cfg *config.Config) (staticSettings, error) {
	s := cfg.Static
	work, err := config.ParseDurationOrDefault("static.work", s.Work, 3*time.Second)
	if err != nil {
		return staticSettings{}, err
	}
	delay, err := config.ParseDurationField("static.spawn_delay", s.SpawnDelay)
	if err != nil {
		return staticSettings{}, err
	}
	reap, err := config.ParseDurationOrDefault("scheduler.reap_timeout", cfg.Scheduler.ReapTimeout, time.Second)
	if err != nil {
		return staticSettings{}, err
	}
	return staticSettings{Workers: s.Workers, Work: work, SpawnDelay: delay, ReapTimeout: reap}, nil
}

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}
