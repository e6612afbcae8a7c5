package storage

import (
	"context"
	"errors"
	"strings"

	logx "rrsched/pkg/logx"
)

// Store is the persistence API for run history.
type Store interface {
	AppendRun(ctx context.Context, r Run) error
	AppendSpan(ctx context.Context, s Span) error
	// Spans returns the spans of one run ordered by start time.
	Spans(ctx context.Context, runID string) ([]Span, error)
	// Runs returns up to limit runs, most recent first. limit <= 0 means all.
	Runs(ctx context.Context, limit int) ([]Run, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
