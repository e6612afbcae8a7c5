package config

const (
	DefaultQuantum       = "100ms"
	DefaultWorkers       = 3
	DefaultWorkerRuntime = "300ms"
	DefaultCapacity      = 10
	DefaultReapTimeout   = "1s"
	DefaultStaticWork    = "3s"
	DefaultSpawnDelay    = "100ms"
	DefaultMetricsAddr   = "127.0.0.1:9464"
	DefaultSchedule      = "@every 1m"
	DefaultLogPath       = "./rrsched.log"
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			Quantum:       DefaultQuantum,
			Workers:       DefaultWorkers,
			WorkerRuntime: DefaultWorkerRuntime,
			Capacity:      DefaultCapacity,
			ReapTimeout:   DefaultReapTimeout,
		},
		Static: StaticConfig{
			Workers:    DefaultWorkers,
			Work:       DefaultStaticWork,
			SpawnDelay: DefaultSpawnDelay,
		},
		Logging: LoggingConfig{Level: "info", Console: true, File: LoggingFile{Path: DefaultLogPath}},
		Storage: StorageConfig{Driver: "none"},
		Metrics: MetricsConfig{Addr: DefaultMetricsAddr},
		Serve:   ServeConfig{Schedule: DefaultSchedule, Mode: "rr"},
	}
}

// ApplyDefaults fills zero fields in place.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	d := Default()
	s := &cfg.Scheduler
	if s.Quantum == "" {
		s.Quantum = d.Scheduler.Quantum
	}
	if s.Workers == 0 {
		s.Workers = d.Scheduler.Workers
	}
	if s.WorkerRuntime == "" {
		s.WorkerRuntime = d.Scheduler.WorkerRuntime
	}
	if s.Capacity == 0 {
		s.Capacity = d.Scheduler.Capacity
	}
	if s.ReapTimeout == "" {
		s.ReapTimeout = d.Scheduler.ReapTimeout
	}
	st := &cfg.Static
	if st.Workers == 0 {
		st.Workers = d.Static.Workers
	}
	if st.Work == "" {
		st.Work = d.Static.Work
	}
	if st.SpawnDelay == "" {
		st.SpawnDelay = d.Static.SpawnDelay
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.File.Path == "" {
		cfg.Logging.File.Path = d.Logging.File.Path
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = d.Storage.Driver
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = d.Metrics.Addr
	}
	if cfg.Serve.Schedule == "" {
		cfg.Serve.Schedule = d.Serve.Schedule
	}
	if cfg.Serve.Mode == "" {
		cfg.Serve.Mode = d.Serve.Mode
	}
}
