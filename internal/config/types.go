package config

// Config is the on-disk configuration. Durations are Go duration strings
// (e.g. "100ms", "3s"); they are parsed when the config is mapped to runtime
// settings.
type Config struct {
	Scheduler SchedulerConfig `json:"scheduler"`
	Static    StaticConfig    `json:"static"`
	Worker    WorkerConfig    `json:"worker"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Metrics   MetricsConfig   `json:"metrics"`
	Serve     ServeConfig     `json:"serve"`
}

// SchedulerConfig controls round-robin runs.
//
// Defaults (when fields are omitted/zero):
//   - quantum: "100ms"
//   - workers: 3
//   - worker_runtime: "300ms"
//   - capacity: 10
//   - reap_timeout: "1s"
type SchedulerConfig struct {
	Quantum       string `json:"quantum"`
	Workers       int    `json:"workers"`
	WorkerRuntime string `json:"worker_runtime"`
	Capacity      int    `json:"capacity,omitempty"`
	ReapTimeout   string `json:"reap_timeout,omitempty"`
}

// StaticConfig controls the FIFO/LIFO run-to-completion modes.
type StaticConfig struct {
	Workers    int    `json:"workers"`
	Work       string `json:"work"`
	SpawnDelay string `json:"spawn_delay,omitempty"`
}

// WorkerConfig selects the worker executable.
// An empty command re-executes rrsched itself as "rrsched worker".
type WorkerConfig struct {
	Command []string `json:"command,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the run history store.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./rrsched_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// MetricsConfig controls the prometheus endpoint served in serve mode.
// Prefer a loopback address.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:9464"
	// Pprof also mounts net/http/pprof under /debug/pprof/ on the same listener.
	Pprof bool `json:"pprof,omitempty"`
}

// ServeConfig controls the long-running mode.
type ServeConfig struct {
	// Schedule is a robfig/cron spec ("@every 1m", "*/5 * * * *").
	Schedule string `json:"schedule"`
	// Mode is rr, fifo or lifo.
	Mode string `json:"mode"`
}
