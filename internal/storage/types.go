package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": jsonl files, each append under an exclusive flock
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Run outcomes.
const (
	OutcomeHalted      = "halted"
	OutcomeSpawnFailed = "spawn_failed"
	OutcomeTimerFailed = "timer_failed"
	OutcomeInterrupted = "interrupted"
	OutcomeFailed      = "failed"
)

// Run summarizes one scheduling run.
type Run struct {
	ID        string    `json:"id"`
	Mode      string    `json:"mode"`
	QuantumMS int64     `json:"quantum_ms,omitempty"`
	Workers   int       `json:"workers"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Outcome   string    `json:"outcome"`
	Error     string    `json:"error,omitempty"`
}

// Span is one contiguous interval a worker held the CPU.
// Times are kept at millisecond precision.
type Span struct {
	RunID  string    `json:"run_id"`
	Worker int       `json:"worker"`
	PID    int       `json:"pid"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Reason string    `json:"reason"` // paused, finished, exited, aborted
}

func (s Span) Duration() time.Duration { return s.End.Sub(s.Start) }
