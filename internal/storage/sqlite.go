package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "rrsched/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const defaultBusyTimeout = 5 * time.Second

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendRun(ctx context.Context, r Run) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(id, mode, quantum_ms, workers, started_at, ended_at, outcome, err)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET ended_at=excluded.ended_at, outcome=excluded.outcome, err=excluded.err`,
		r.ID, r.Mode, r.QuantumMS, r.Workers, r.StartedAt.UnixMilli(), r.EndedAt.UnixMilli(), r.Outcome, nullStr(r.Error),
	)
	return err
}

func (s *sqliteStore) AppendSpan(ctx context.Context, sp Span) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO spans(run_id, worker, pid, start_ms, end_ms, reason) VALUES(?,?,?,?,?,?)`,
		sp.RunID, sp.Worker, sp.PID, sp.Start.UnixMilli(), sp.End.UnixMilli(), sp.Reason,
	)
	return err
}

func (s *sqliteStore) Spans(ctx context.Context, runID string) ([]Span, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, worker, pid, start_ms, end_ms, reason FROM spans WHERE run_id = ? ORDER BY start_ms, id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Span
	for rows.Next() {
		var sp Span
		var start, end int64
		if err := rows.Scan(&sp.RunID, &sp.Worker, &sp.PID, &start, &end, &sp.Reason); err != nil {
			return nil, err
		}
		sp.Start, sp.End = time.UnixMilli(start), time.UnixMilli(end)
		out = append(out, sp)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Runs(ctx context.Context, limit int) ([]Run, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, mode, quantum_ms, workers, started_at, ended_at, outcome, COALESCE(err, '')
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var started, ended int64
		if err := rows.Scan(&r.ID, &r.Mode, &r.QuantumMS, &r.Workers, &started, &ended, &r.Outcome, &r.Error); err != nil {
			return nil, err
		}
		r.StartedAt, r.EndedAt = time.UnixMilli(started), time.UnixMilli(ended)
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
